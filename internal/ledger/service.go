package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	opServiceNew         = "ledger.service.new"
	opBootstrap          = "ledger.bootstrap"
	opSubmit             = "ledger.submit"
	opApprove            = "ledger.approve"
	opReject             = "ledger.reject"
	opDeleteRequest      = "ledger.delete_request"
	opAddContribution    = "ledger.add_contribution"
	opEditContribution   = "ledger.edit_contribution"
	opDeleteContribution = "ledger.delete_contribution"
	opEditSettings       = "ledger.edit_settings"
	opReconcile          = "ledger.reconcile"
	opBoard              = "ledger.board"
	opSnapshot           = "ledger.snapshot"

	entityPaymentRequest = "payment request"
	entityContribution   = "contribution"
	entitySettings       = "campaign settings"

	defaultLeaderboardSize = 10
	defaultRequestLimit    = 50
	maxRecomputeAttempts   = 5
)

var noOpLogger = zap.NewNop()

// ChangeNotifier receives a topic per written table; payloads carry ids only as a hint.
type ChangeNotifier interface {
	Notify(topic string, ids ...string)
}

// Observer receives ledger metrics.
type Observer interface {
	RequestSubmitted()
	RequestTransition(action, outcome string)
	ApprovalPartialFailure(step ApprovalStep)
	RaisedRecomputed(raised decimal.Decimal)
	DriftCorrected(drift decimal.Decimal)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string, ...string) {}

type noopObserver struct{}

func (noopObserver) RequestSubmitted() {}
func (noopObserver) RequestTransition(string, string) {}
func (noopObserver) ApprovalPartialFailure(ApprovalStep) {}
func (noopObserver) RaisedRecomputed(decimal.Decimal) {}
func (noopObserver) DriftCorrected(decimal.Decimal) {}

// ServiceConfig describes the dependencies of the ledger service.
type ServiceConfig struct {
	Store      Store
	Clock      func() time.Time
	IDProvider IDProvider
	Notifier   ChangeNotifier
	Observer   Observer
	Logger     *zap.Logger

	SettingsID          string
	DefaultHeroTitle    string
	DefaultHeroSubtitle string
	// LeaderboardSize bounds the public board; the moderator snapshot is unbounded.
	LeaderboardSize int
	RequestLimit    int
}

// Service owns every write to payment requests, contributions and campaign settings.
type Service struct {
	store      Store
	clock      func() time.Time
	idProvider IDProvider
	notifier   ChangeNotifier
	observer   Observer
	logger     *zap.Logger

	settingsID          string
	defaultHeroTitle    string
	defaultHeroSubtitle string
	leaderboardSize     int
	requestLimit        int
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	settingsID := strings.TrimSpace(cfg.SettingsID)
	if settingsID == "" {
		return nil, newServiceError(opServiceNew, "missing_settings_id", errMissingSettingsID)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	var notifier ChangeNotifier = noopNotifier{}
	if cfg.Notifier != nil {
		notifier = cfg.Notifier
	}
	var observer Observer = noopObserver{}
	if cfg.Observer != nil {
		observer = cfg.Observer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	leaderboardSize := cfg.LeaderboardSize
	if leaderboardSize <= 0 {
		leaderboardSize = defaultLeaderboardSize
	}
	requestLimit := cfg.RequestLimit
	if requestLimit <= 0 {
		requestLimit = defaultRequestLimit
	}

	return &Service{
		store:               cfg.Store,
		clock:               clock,
		idProvider:          cfg.IDProvider,
		notifier:            notifier,
		observer:            observer,
		logger:              logger,
		settingsID:          settingsID,
		defaultHeroTitle:    strings.TrimSpace(cfg.DefaultHeroTitle),
		defaultHeroSubtitle: strings.TrimSpace(cfg.DefaultHeroSubtitle),
		leaderboardSize:     leaderboardSize,
		requestLimit:        requestLimit,
	}, nil
}

// Bootstrap creates the settings singleton when absent and reconciles the running total.
func (s *Service) Bootstrap(ctx context.Context) (ReconcileResult, error) {
	defaults := CampaignSettings{
		ID:           s.settingsID,
		HeroTitle:    s.defaultHeroTitle,
		HeroSubtitle: s.defaultHeroSubtitle,
		Target:       decimal.Zero,
		Raised:       decimal.Zero,
		UpdatedAt:    s.now(),
	}
	if _, err := s.store.EnsureSettings(ctx, defaults); err != nil {
		s.logError(opBootstrap, "ensure_settings_failed", err)
		return ReconcileResult{}, storeFailure(opBootstrap, "ensure_settings_failed", err)
	}
	return s.Reconcile(ctx)
}

// SubmitInput carries a contributor's raw form values.
type SubmitInput struct {
	Name         string
	Amount       string
	ContactPhone string
}

// Submit validates the input and records a pending payment request.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (PaymentRequest, error) {
	name, err := NormalizeName(input.Name)
	if err != nil {
		return PaymentRequest{}, err
	}
	amount, err := ParseAmount(input.Amount)
	if err != nil {
		return PaymentRequest{}, err
	}
	phone, err := NormalizePhone(input.ContactPhone)
	if err != nil {
		return PaymentRequest{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmit, "id_generation_failed", err)
		return PaymentRequest{}, newServiceError(opSubmit, "id_generation_failed", err)
	}
	request := PaymentRequest{
		ID:           id,
		Name:         name,
		Amount:       amount,
		ContactPhone: phone,
		Status:       RequestStatusPending,
		CreatedAt:    s.now(),
	}
	if err := s.store.InsertRequest(ctx, &request); err != nil {
		s.logError(opSubmit, "insert_failed", err)
		return PaymentRequest{}, storeFailure(opSubmit, "insert_failed", err)
	}

	s.observer.RequestSubmitted()
	s.notifier.Notify(TablePaymentRequests, request.ID)
	return request, nil
}

// Reject moves a pending request to recusado. It has no other side effects.
func (s *Service) Reject(ctx context.Context, requestID string) (PaymentRequest, error) {
	request, err := s.loadRequest(ctx, opReject, requestID)
	if err != nil {
		s.observer.RequestTransition("reject", outcomeLabel(err))
		return PaymentRequest{}, err
	}
	if request.Status != RequestStatusPending {
		err := &InvalidStateError{RequestID: request.ID, Status: request.Status, Action: "reject"}
		s.observer.RequestTransition("reject", outcomeLabel(err))
		return PaymentRequest{}, err
	}
	if err := s.store.TransitionRequest(ctx, request.ID, RequestStatusPending, RequestStatusRejected); err != nil {
		err = s.resolveTransitionFailure(ctx, opReject, "reject", request.ID, err)
		s.observer.RequestTransition("reject", outcomeLabel(err))
		return PaymentRequest{}, err
	}

	request.Status = RequestStatusRejected
	s.observer.RequestTransition("reject", outcomeLabel(nil))
	s.notifier.Notify(TablePaymentRequests, request.ID)
	return request, nil
}

// DeleteRequest removes a request in any state. Contributions created from it are kept.
func (s *Service) DeleteRequest(ctx context.Context, requestID string) error {
	id := strings.TrimSpace(requestID)
	if id == "" {
		return newValidationError("id", "is required")
	}
	if err := s.store.DeleteRequest(ctx, id); err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return &NotFoundError{Entity: entityPaymentRequest, ID: id}
		}
		s.logError(opDeleteRequest, "delete_failed", err, zap.String("request_id", id))
		return storeFailure(opDeleteRequest, "delete_failed", err)
	}
	s.observer.RequestTransition("delete", outcomeLabel(nil))
	s.notifier.Notify(TablePaymentRequests, id)
	return nil
}

// AddContribution records a manual leaderboard entry, always confirmed.
func (s *Service) AddContribution(ctx context.Context, rawName, rawAmount string) (Contribution, error) {
	name, err := NormalizeName(rawName)
	if err != nil {
		return Contribution{}, err
	}
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return Contribution{}, err
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAddContribution, "id_generation_failed", err)
		return Contribution{}, newServiceError(opAddContribution, "id_generation_failed", err)
	}
	contribution := Contribution{
		ID:        id,
		Name:      name,
		Amount:    amount,
		Status:    ContributionStatusConfirmed,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertContribution(ctx, &contribution); err != nil {
		s.logError(opAddContribution, "insert_failed", err)
		return Contribution{}, storeFailure(opAddContribution, "insert_failed", err)
	}
	s.notifier.Notify(TableContributions, contribution.ID)
	if _, err := s.recomputeRaised(ctx, opAddContribution); err != nil {
		return Contribution{}, err
	}
	return contribution, nil
}

// ContributionEdit carries optional raw values for a leaderboard edit.
type ContributionEdit struct {
	Name   *string
	Amount *string
}

// EditContribution updates a leaderboard entry and recomputes the running total.
func (s *Service) EditContribution(ctx context.Context, contributionID string, edit ContributionEdit) (Contribution, error) {
	id := strings.TrimSpace(contributionID)
	if id == "" {
		return Contribution{}, newValidationError("id", "is required")
	}
	var patch ContributionPatch
	if edit.Name != nil {
		name, err := NormalizeName(*edit.Name)
		if err != nil {
			return Contribution{}, err
		}
		patch.Name = &name
	}
	if edit.Amount != nil {
		amount, err := ParseAmount(*edit.Amount)
		if err != nil {
			return Contribution{}, err
		}
		patch.Amount = &amount
	}
	if patch.Empty() {
		return Contribution{}, newValidationError("contribution", "has no fields to update")
	}

	if err := s.store.UpdateContribution(ctx, id, patch); err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return Contribution{}, &NotFoundError{Entity: entityContribution, ID: id}
		}
		s.logError(opEditContribution, "update_failed", err, zap.String("contribution_id", id))
		return Contribution{}, storeFailure(opEditContribution, "update_failed", err)
	}
	s.notifier.Notify(TableContributions, id)
	if _, err := s.recomputeRaised(ctx, opEditContribution); err != nil {
		return Contribution{}, err
	}

	contribution, err := s.store.GetContribution(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return Contribution{}, &NotFoundError{Entity: entityContribution, ID: id}
		}
		s.logError(opEditContribution, "reload_failed", err, zap.String("contribution_id", id))
		return Contribution{}, storeFailure(opEditContribution, "reload_failed", err)
	}
	return contribution, nil
}

// DeleteContribution removes a leaderboard entry and recomputes the running total.
// The originating payment request, if any, stays confirmed.
func (s *Service) DeleteContribution(ctx context.Context, contributionID string) error {
	id := strings.TrimSpace(contributionID)
	if id == "" {
		return newValidationError("id", "is required")
	}
	if err := s.store.DeleteContribution(ctx, id); err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return &NotFoundError{Entity: entityContribution, ID: id}
		}
		s.logError(opDeleteContribution, "delete_failed", err, zap.String("contribution_id", id))
		return storeFailure(opDeleteContribution, "delete_failed", err)
	}
	s.notifier.Notify(TableContributions, id)
	if _, err := s.recomputeRaised(ctx, opDeleteContribution); err != nil {
		return err
	}
	return nil
}

// SettingsEdit carries optional raw values for the settings singleton.
type SettingsEdit struct {
	Target       *string
	Raised       *string
	HeroTitle    *string
	HeroSubtitle *string
}

// EditSettings overwrites the settings singleton. Setting Raised directly is an
// administrative escape hatch: the next contribution write or reconciliation replaces it.
func (s *Service) EditSettings(ctx context.Context, edit SettingsEdit) (CampaignSettings, error) {
	patch := SettingsPatch{UpdatedAt: s.now()}
	if edit.Target != nil {
		target, err := ParseNonNegativeAmount("target", *edit.Target)
		if err != nil {
			return CampaignSettings{}, err
		}
		patch.Target = &target
	}
	if edit.Raised != nil {
		raised, err := ParseNonNegativeAmount("raised", *edit.Raised)
		if err != nil {
			return CampaignSettings{}, err
		}
		patch.Raised = &raised
		s.logger.Warn("running total overridden manually",
			zap.String("operation", opEditSettings),
			zap.String("raised", raised.StringFixed(amountScale)))
	}
	if edit.HeroTitle != nil {
		title := s.heroTextOrDefault(*edit.HeroTitle, s.defaultHeroTitle)
		patch.HeroTitle = &title
	}
	if edit.HeroSubtitle != nil {
		subtitle := s.heroTextOrDefault(*edit.HeroSubtitle, s.defaultHeroSubtitle)
		patch.HeroSubtitle = &subtitle
	}
	if patch.Target == nil && patch.Raised == nil && patch.HeroTitle == nil && patch.HeroSubtitle == nil {
		return CampaignSettings{}, newValidationError("settings", "has no fields to update")
	}

	if err := s.store.UpdateSettings(ctx, s.settingsID, patch); err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return CampaignSettings{}, &NotFoundError{Entity: entitySettings, ID: s.settingsID}
		}
		s.logError(opEditSettings, "update_failed", err)
		return CampaignSettings{}, storeFailure(opEditSettings, "update_failed", err)
	}
	settings, err := s.store.GetSettings(ctx, s.settingsID)
	if err != nil {
		s.logError(opEditSettings, "reload_failed", err)
		return CampaignSettings{}, storeFailure(opEditSettings, "reload_failed", err)
	}
	s.notifier.Notify(TableCampaignSettings, s.settingsID)
	return settings, nil
}

// ReconcileResult reports the running total before and after recomputation.
type ReconcileResult struct {
	Previous decimal.Decimal
	Current  decimal.Decimal
}

// Drift is the correction applied by the reconciliation.
func (r ReconcileResult) Drift() decimal.Decimal {
	return r.Current.Sub(r.Previous)
}

// Reconcile recomputes the running total from confirmed contributions.
func (s *Service) Reconcile(ctx context.Context) (ReconcileResult, error) {
	result, err := s.recomputeRaised(ctx, opReconcile)
	if err != nil {
		return ReconcileResult{}, err
	}
	if drift := result.Drift(); !drift.IsZero() {
		s.observer.DriftCorrected(drift)
		s.logger.Warn("running total drift corrected",
			zap.String("previous", result.Previous.StringFixed(amountScale)),
			zap.String("current", result.Current.StringFixed(amountScale)),
			zap.String("drift", drift.StringFixed(amountScale)))
		s.notifier.Notify(TableCampaignSettings, s.settingsID)
	}
	return result, nil
}

// Board returns the public view.
func (s *Service) Board(ctx context.Context) (Board, error) {
	settings, err := s.loadSettings(ctx, opBoard)
	if err != nil {
		return Board{}, err
	}
	leaderboard, err := s.store.ListConfirmedContributions(ctx, s.leaderboardSize)
	if err != nil {
		s.logError(opBoard, "list_contributions_failed", err)
		return Board{}, storeFailure(opBoard, "list_contributions_failed", err)
	}
	return Board{
		Settings:    settings,
		Progress:    ComputeProgress(settings),
		Leaderboard: leaderboard,
	}, nil
}

// Snapshot returns the moderator view: settings, the full leaderboard and recent requests.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	settings, err := s.loadSettings(ctx, opSnapshot)
	if err != nil {
		return Snapshot{}, err
	}
	leaderboard, err := s.store.ListConfirmedContributions(ctx, 0)
	if err != nil {
		s.logError(opSnapshot, "list_contributions_failed", err)
		return Snapshot{}, storeFailure(opSnapshot, "list_contributions_failed", err)
	}
	requests, err := s.store.ListRequests(ctx, s.requestLimit)
	if err != nil {
		s.logError(opSnapshot, "list_requests_failed", err)
		return Snapshot{}, storeFailure(opSnapshot, "list_requests_failed", err)
	}
	return Snapshot{
		Settings:    settings,
		Progress:    ComputeProgress(settings),
		Leaderboard: leaderboard,
		Requests:    requests,
	}, nil
}

// recomputeRaised rewrites raised as the sum of confirmed contributions.
// recomputeRaised stores the sum of confirmed contributions as raised. The write is
// conditional on the settings version read before summing, so a sum computed before a
// concurrent contribution write can never land after that write's own recomputation.
func (s *Service) recomputeRaised(ctx context.Context, operation string) (ReconcileResult, error) {
	for attempt := 1; ; attempt++ {
		settings, err := s.loadSettings(ctx, operation)
		if err != nil {
			return ReconcileResult{}, err
		}
		total, err := s.store.SumConfirmedContributions(ctx)
		if err != nil {
			s.logError(operation, "sum_failed", err)
			return ReconcileResult{}, storeFailure(operation, "sum_failed", err)
		}
		err = s.store.SetRaised(ctx, s.settingsID, settings.Version, total, s.now())
		if err == nil {
			s.observer.RaisedRecomputed(total)
			return ReconcileResult{Previous: settings.Raised, Current: total}, nil
		}
		if !errors.Is(err, ErrStatusConflict) {
			s.logError(operation, "update_raised_failed", err)
			return ReconcileResult{}, storeFailure(operation, "update_raised_failed", err)
		}
		if attempt == maxRecomputeAttempts {
			s.logError(operation, "raised_contended", err, zap.Int("attempts", attempt))
			return ReconcileResult{}, &TransientError{Operation: operation, Err: err}
		}
	}
}

func (s *Service) loadSettings(ctx context.Context, operation string) (CampaignSettings, error) {
	settings, err := s.store.GetSettings(ctx, s.settingsID)
	if err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return CampaignSettings{}, &NotFoundError{Entity: entitySettings, ID: s.settingsID}
		}
		s.logError(operation, "load_settings_failed", err)
		return CampaignSettings{}, storeFailure(operation, "load_settings_failed", err)
	}
	return settings, nil
}

func (s *Service) loadRequest(ctx context.Context, operation, requestID string) (PaymentRequest, error) {
	id := strings.TrimSpace(requestID)
	if id == "" {
		return PaymentRequest{}, newValidationError("id", "is required")
	}
	request, err := s.store.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordMissing) {
			return PaymentRequest{}, &NotFoundError{Entity: entityPaymentRequest, ID: id}
		}
		s.logError(operation, "load_request_failed", err, zap.String("request_id", id))
		return PaymentRequest{}, storeFailure(operation, "load_request_failed", err)
	}
	return request, nil
}

// resolveTransitionFailure re-reads a request after a conditional write matched nothing,
// telling a concurrent delete apart from a concurrent moderation.
func (s *Service) resolveTransitionFailure(ctx context.Context, operation, action, requestID string, cause error) error {
	if !errors.Is(cause, ErrStatusConflict) {
		s.logError(operation, "transition_failed", cause, zap.String("request_id", requestID))
		return storeFailure(operation, "transition_failed", cause)
	}
	current, err := s.loadRequest(ctx, operation, requestID)
	if err != nil {
		return err
	}
	return &InvalidStateError{RequestID: requestID, Status: current.Status, Action: action}
}

func (s *Service) heroTextOrDefault(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ledger service error", attrs...)
}

func outcomeLabel(err error) string {
	var validation *ValidationError
	var notFound *NotFoundError
	var invalidState *InvalidStateError
	var partial *PartialFailureError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &validation):
		return "invalid_input"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invalidState):
		return "invalid_state"
	case errors.As(err, &partial):
		return "partial_failure"
	case IsTransient(err):
		return "transient"
	default:
		return "error"
	}
}
