package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ApprovalStep names one write of the approval saga, in execution order.
type ApprovalStep string

const (
	StepConfirmRequest     ApprovalStep = "confirm_request"
	StepInsertContribution ApprovalStep = "insert_contribution"
	StepRecomputeRaised    ApprovalStep = "recompute_raised"
	StepSettle             ApprovalStep = "settle"
)

const compensationTimeout = 5 * time.Second

// errRequestMoved marks a settle that found the request no longer confirmed.
var errRequestMoved = errors.New("ledger: request left the confirmed state during approval")

type compensationOutcome int

const (
	outcomeReverted compensationOutcome = iota
	outcomeCompletedElsewhere
	outcomeRequestDeleted
)

// ApprovalResult describes a completed approval.
type ApprovalResult struct {
	Request      PaymentRequest
	Contribution Contribution
	Raised       decimal.Decimal
	// Resumed is true when the request was already confirmed by another approval, either
	// an interrupted earlier call or one running concurrently, and this call completed it.
	Resumed bool
}

type approvalSaga struct {
	service      *Service
	request      PaymentRequest
	contribution Contribution
	raised       decimal.Decimal
	resumed      bool
}

type sagaStep struct {
	name ApprovalStep
	run  func(ctx context.Context) error
}

// Approve promotes a pending payment request into a contribution and recomputes the
// running total. The writes run as a saga: confirm_request, insert_contribution,
// recompute_raised, settle. A failure in the middle two steps undoes the earlier writes
// and returns a PartialFailureError unless a concurrent approval settled the request in
// the meantime, in which case the approval is reported as complete. Calling Approve
// again is always safe.
func (s *Service) Approve(ctx context.Context, requestID string) (ApprovalResult, error) {
	result, err := s.approve(ctx, requestID)
	s.observer.RequestTransition("approve", outcomeLabel(err))
	return result, err
}

func (s *Service) approve(ctx context.Context, requestID string) (ApprovalResult, error) {
	request, err := s.loadRequest(ctx, opApprove, requestID)
	if err != nil {
		return ApprovalResult{}, err
	}

	saga := &approvalSaga{service: s, request: request}
	switch {
	case request.Status == RequestStatusPending:
	case request.Status == RequestStatusConfirmed && !request.Settled():
		saga.resumed = true
		s.logger.Info("resuming interrupted approval", zap.String("request_id", request.ID))
	default:
		return ApprovalResult{}, &InvalidStateError{RequestID: request.ID, Status: request.Status, Action: "approve"}
	}

	for _, step := range saga.plan() {
		if err := step.run(ctx); err != nil {
			if failErr := saga.fail(ctx, step.name, err); failErr != nil {
				return ApprovalResult{}, failErr
			}
			break
		}
	}

	s.notifier.Notify(TablePaymentRequests, saga.request.ID)
	s.notifier.Notify(TableContributions, saga.contribution.ID)
	s.notifier.Notify(TableCampaignSettings, s.settingsID)
	return ApprovalResult{
		Request:      saga.request,
		Contribution: saga.contribution,
		Raised:       saga.raised,
		Resumed:      saga.resumed,
	}, nil
}

func (a *approvalSaga) plan() []sagaStep {
	steps := make([]sagaStep, 0, 4)
	if !a.resumed {
		steps = append(steps, sagaStep{name: StepConfirmRequest, run: a.confirmRequest})
	}
	return append(steps,
		sagaStep{name: StepInsertContribution, run: a.insertContribution},
		sagaStep{name: StepRecomputeRaised, run: a.recomputeRaised},
		sagaStep{name: StepSettle, run: a.settle},
	)
}

func (a *approvalSaga) confirmRequest(ctx context.Context) error {
	err := a.service.store.TransitionRequest(ctx, a.request.ID, RequestStatusPending, RequestStatusConfirmed)
	if err != nil {
		return err
	}
	a.request.Status = RequestStatusConfirmed
	return nil
}

// insertContribution is idempotent per request: the request id is a unique key on
// contributions, so a retry or a concurrent approver reuses the existing row.
func (a *approvalSaga) insertContribution(ctx context.Context) error {
	store := a.service.store
	existing, err := store.FindContributionByRequest(ctx, a.request.ID)
	if err == nil {
		a.contribution = existing
		return nil
	}
	if !errors.Is(err, ErrRecordMissing) {
		return err
	}

	id, err := a.service.idProvider.NewID()
	if err != nil {
		return err
	}
	requestID := a.request.ID
	contribution := Contribution{
		ID:        id,
		Name:      a.request.Name,
		Amount:    a.request.Amount,
		Status:    ContributionStatusConfirmed,
		RequestID: &requestID,
		CreatedAt: a.service.now(),
	}
	if insertErr := store.InsertContribution(ctx, &contribution); insertErr != nil {
		existing, findErr := store.FindContributionByRequest(ctx, a.request.ID)
		if findErr == nil {
			a.contribution = existing
			return nil
		}
		return insertErr
	}
	a.contribution = contribution
	return nil
}

func (a *approvalSaga) recomputeRaised(ctx context.Context) error {
	result, err := a.service.recomputeRaised(ctx, opApprove)
	if err != nil {
		return err
	}
	a.raised = result.Current
	return nil
}

func (a *approvalSaga) settle(ctx context.Context) error {
	store := a.service.store
	settledAt := a.service.now()
	err := store.SettleRequest(ctx, a.request.ID, settledAt)
	if errors.Is(err, ErrStatusConflict) {
		// A concurrent approver of the same request may have settled it first.
		current, getErr := store.GetRequest(ctx, a.request.ID)
		switch {
		case getErr == nil && current.Status == RequestStatusConfirmed && current.Settled():
			a.request = current
			return nil
		case getErr == nil || errors.Is(getErr, ErrRecordMissing):
			return errors.Join(errRequestMoved, err)
		}
	}
	if err != nil {
		return err
	}
	a.request.SettledAt = &settledAt
	return nil
}

// fail maps a step failure onto the error taxonomy, compensating where earlier writes
// would otherwise leave a contribution credited for a request that is not settled.
// It returns nil when compensation found the request already settled by a concurrent
// approval; the saga state then describes that completed approval.
func (a *approvalSaga) fail(ctx context.Context, step ApprovalStep, cause error) error {
	s := a.service
	requestField := zap.String("request_id", a.request.ID)

	if step == StepConfirmRequest {
		return s.resolveTransitionFailure(ctx, opApprove, "approve", a.request.ID, cause)
	}

	partial := &PartialFailureError{RequestID: a.request.ID, FailedStep: step, Err: cause}
	if step == StepSettle && !errors.Is(cause, errRequestMoved) {
		// Every ledger write landed; only the marker is missing, so a retry resumes and settles.
		partial.Compensated = false
	} else {
		outcome, err := a.compensate(ctx)
		switch {
		case outcome == outcomeRequestDeleted:
			s.logger.Info("request deleted during approval",
				requestField, zap.String("step", string(step)), zap.NamedError("cause", cause))
			s.notifier.Notify(TablePaymentRequests, a.request.ID)
			return &NotFoundError{Entity: entityPaymentRequest, ID: a.request.ID}
		case outcome == outcomeCompletedElsewhere && err == nil:
			s.logger.Info("approval completed by a concurrent approver",
				requestField, zap.String("step", string(step)), zap.NamedError("cause", cause))
			return nil
		}
		partial.CompensationErr = err
		partial.Compensated = err == nil
	}

	s.observer.ApprovalPartialFailure(step)
	s.logError(opApprove, "partial_failure", cause, requestField,
		zap.String("step", string(step)),
		zap.Bool("compensated", partial.Compensated),
		zap.NamedError("compensation_error", partial.CompensationErr))
	s.notifier.Notify(TablePaymentRequests, a.request.ID)
	if partial.Compensated {
		s.notifier.Notify(TableContributions)
		s.notifier.Notify(TableCampaignSettings, s.settingsID)
	}
	return partial
}

// compensate reverts the request to pending and deletes its contribution atomically,
// then recomputes raised so the total reflects the undo. A request that a concurrent
// approver settled keeps its contribution; a deleted request keeps it as well.
// It runs detached from the caller's cancellation so a timed-out request still unwinds.
func (a *approvalSaga) compensate(ctx context.Context) (compensationOutcome, error) {
	s := a.service
	compensationCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	outcome := outcomeReverted
	err := s.store.RevertApproval(compensationCtx, a.request.ID)
	switch {
	case err == nil:
		a.request.Status = RequestStatusPending
		a.request.SettledAt = nil
	case errors.Is(err, ErrRecordMissing):
		outcome = outcomeRequestDeleted
	case errors.Is(err, ErrStatusConflict):
		current, getErr := s.store.GetRequest(compensationCtx, a.request.ID)
		switch {
		case getErr == nil && current.Status == RequestStatusConfirmed && current.Settled():
			contribution, findErr := s.store.FindContributionByRequest(compensationCtx, a.request.ID)
			if findErr != nil {
				return outcome, findErr
			}
			a.request = current
			a.contribution = contribution
			a.resumed = true
			outcome = outcomeCompletedElsewhere
		case errors.Is(getErr, ErrRecordMissing):
			outcome = outcomeRequestDeleted
		case getErr != nil:
			return outcome, errors.Join(err, getErr)
		default:
			return outcome, err
		}
	default:
		return outcome, err
	}

	result, recomputeErr := s.recomputeRaised(compensationCtx, opApprove)
	if recomputeErr != nil {
		if outcome == outcomeCompletedElsewhere {
			// The settling approver recomputed after inserting; report the stored total.
			s.logger.Warn("recompute after concurrent approval failed",
				zap.String("request_id", a.request.ID), zap.Error(recomputeErr))
			settings, settingsErr := s.store.GetSettings(compensationCtx, s.settingsID)
			if settingsErr == nil {
				a.raised = settings.Raised
			}
			return outcome, nil
		}
		return outcome, recomputeErr
	}
	a.raised = result.Current
	return outcome, nil
}
