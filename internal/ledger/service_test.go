package ledger

import (
	"context"
	"errors"
	"testing"
)

func TestSubmitValidationBoundary(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))

	tests := []struct {
		name        string
		inputName   string
		inputAmount string
		wantField   string
		wantAmount  string
	}{
		{name: "missing name", inputName: "", inputAmount: "10,00", wantField: "name"},
		{name: "zero amount", inputName: "Ana", inputAmount: "0", wantField: "amount"},
		{name: "comma decimal", inputName: "Ana", inputAmount: "25,50", wantAmount: "25.50"},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			request, err := harness.service.Submit(context.Background(), SubmitInput{Name: testCase.inputName, Amount: testCase.inputAmount})
			if testCase.wantField != "" {
				var validation *ValidationError
				if !errors.As(err, &validation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if validation.Field != testCase.wantField {
					t.Fatalf("expected field %s, got %s", testCase.wantField, validation.Field)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected submit error: %v", err)
			}
			if request.Status != RequestStatusPending {
				t.Fatalf("expected pending request, got %s", request.Status)
			}
			if !request.Amount.Equal(mustDecimal(t, testCase.wantAmount)) {
				t.Fatalf("expected amount %s, got %s", testCase.wantAmount, request.Amount)
			}
		})
	}

	assertRaisedMatchesLedger(t, harness.store, "0")
	if harness.notifier.count(TablePaymentRequests) != 1 {
		t.Fatalf("expected one request event, got %d", harness.notifier.count(TablePaymentRequests))
	}
}

func TestApproveHappyPath(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()
	request := mustSubmit(t, harness.service, "Ana", "25,50")

	result, err := harness.service.Approve(ctx, request.ID)
	if err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}
	if result.Resumed {
		t.Fatalf("fresh approval must not be reported as resumed")
	}
	if result.Request.Status != RequestStatusConfirmed || !result.Request.Settled() {
		t.Fatalf("expected confirmed settled request, got %+v", result.Request)
	}
	if result.Contribution.Name != "Ana" || !result.Contribution.Amount.Equal(mustDecimal(t, "25.50")) {
		t.Fatalf("unexpected contribution: %+v", result.Contribution)
	}
	if result.Contribution.RequestID == nil || *result.Contribution.RequestID != request.ID {
		t.Fatalf("expected contribution to reference request %s", request.ID)
	}
	if !result.Raised.Equal(mustDecimal(t, "25.50")) {
		t.Fatalf("expected raised 25.50, got %s", result.Raised)
	}

	stored, err := harness.store.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("failed to reload request: %v", err)
	}
	if stored.Status != RequestStatusConfirmed || !stored.Settled() {
		t.Fatalf("expected stored request confirmed and settled, got %+v", stored)
	}
	assertRaisedMatchesLedger(t, harness.store, "25.50")

	for _, topic := range []string{TablePaymentRequests, TableContributions, TableCampaignSettings} {
		if harness.notifier.count(topic) == 0 {
			t.Fatalf("expected a %s event after approval", topic)
		}
	}
}

func TestRejectPath(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()
	request := mustSubmit(t, harness.service, "Bruno", "40")

	rejected, err := harness.service.Reject(ctx, request.ID)
	if err != nil {
		t.Fatalf("unexpected reject error: %v", err)
	}
	if rejected.Status != RequestStatusRejected {
		t.Fatalf("expected rejected status, got %s", rejected.Status)
	}
	if countContributionsForRequest(t, harness.store, request.ID) != 0 {
		t.Fatalf("rejection must not create a contribution")
	}
	assertRaisedMatchesLedger(t, harness.store, "0")
}

func TestTerminalStatesRefuseTransitions(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()
	approved := mustSubmit(t, harness.service, "Ana", "10")
	rejected := mustSubmit(t, harness.service, "Bruno", "20")

	if _, err := harness.service.Approve(ctx, approved.ID); err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}
	if _, err := harness.service.Reject(ctx, rejected.ID); err != nil {
		t.Fatalf("unexpected reject error: %v", err)
	}

	attempts := []struct {
		name      string
		run       func() error
		requestID string
	}{
		{name: "approve twice", requestID: approved.ID, run: func() error {
			_, err := harness.service.Approve(ctx, approved.ID)
			return err
		}},
		{name: "reject approved", requestID: approved.ID, run: func() error {
			_, err := harness.service.Reject(ctx, approved.ID)
			return err
		}},
		{name: "approve rejected", requestID: rejected.ID, run: func() error {
			_, err := harness.service.Approve(ctx, rejected.ID)
			return err
		}},
		{name: "reject twice", requestID: rejected.ID, run: func() error {
			_, err := harness.service.Reject(ctx, rejected.ID)
			return err
		}},
	}
	for _, attempt := range attempts {
		t.Run(attempt.name, func(t *testing.T) {
			err := attempt.run()
			var invalidState *InvalidStateError
			if !errors.As(err, &invalidState) {
				t.Fatalf("expected invalid state error, got %v", err)
			}
			if invalidState.RequestID != attempt.requestID {
				t.Fatalf("expected error for %s, got %s", attempt.requestID, invalidState.RequestID)
			}
		})
	}

	if countContributionsForRequest(t, harness.store, approved.ID) != 1 {
		t.Fatalf("expected exactly one contribution for the approved request")
	}
	assertRaisedMatchesLedger(t, harness.store, "10")
}

func TestApproveAndRejectMissingRequest(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()

	_, err := harness.service.Approve(ctx, "missing")
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found on approve, got %v", err)
	}
	_, err = harness.service.Reject(ctx, "missing")
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found on reject, got %v", err)
	}
	_, err = harness.service.Approve(ctx, "   ")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error for blank id, got %v", err)
	}
}

func TestDeleteAfterApproveKeepsContribution(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()
	request := mustSubmit(t, harness.service, "Carla", "15,75")
	if _, err := harness.service.Approve(ctx, request.ID); err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}

	if err := harness.service.DeleteRequest(ctx, request.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := harness.store.GetRequest(ctx, request.ID); !errors.Is(err, ErrRecordMissing) {
		t.Fatalf("expected request to be gone, got %v", err)
	}
	if countContributionsForRequest(t, harness.store, request.ID) != 1 {
		t.Fatalf("deleting a request must not cascade to its contribution")
	}
	assertRaisedMatchesLedger(t, harness.store, "15.75")

	err := harness.service.DeleteRequest(ctx, request.ID)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestReconcileRepairsDrift(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()
	request := mustSubmit(t, harness.service, "Ana", "30")
	if _, err := harness.service.Approve(ctx, request.ID); err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}

	override := "999"
	if _, err := harness.service.EditSettings(ctx, SettingsEdit{Raised: &override}); err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}

	result, err := harness.service.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}
	if !result.Previous.Equal(mustDecimal(t, "999")) || !result.Current.Equal(mustDecimal(t, "30")) {
		t.Fatalf("unexpected reconcile result: %s -> %s", result.Previous, result.Current)
	}
	if !result.Drift().Equal(mustDecimal(t, "-969")) {
		t.Fatalf("unexpected drift %s", result.Drift())
	}
	assertRaisedMatchesLedger(t, harness.store, "30")

	again, err := harness.service.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}
	if !again.Drift().IsZero() {
		t.Fatalf("expected no drift on second reconcile, got %s", again.Drift())
	}
}

func TestContributionMaintenanceRecomputesRaised(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()

	first, err := harness.service.AddContribution(ctx, "Offline donor", "100")
	if err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if first.RequestID != nil {
		t.Fatalf("manual contribution must not reference a request")
	}
	if _, err := harness.service.AddContribution(ctx, "Bruno", "20,5"); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	assertRaisedMatchesLedger(t, harness.store, "120.50")

	newAmount := "80"
	newName := "  Anonymous   donor "
	edited, err := harness.service.EditContribution(ctx, first.ID, ContributionEdit{Name: &newName, Amount: &newAmount})
	if err != nil {
		t.Fatalf("unexpected edit error: %v", err)
	}
	if edited.Name != "Anonymous donor" || !edited.Amount.Equal(mustDecimal(t, "80")) {
		t.Fatalf("unexpected edited contribution: %+v", edited)
	}
	assertRaisedMatchesLedger(t, harness.store, "100.50")

	if err := harness.service.DeleteContribution(ctx, first.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	assertRaisedMatchesLedger(t, harness.store, "20.50")

	if _, err := harness.service.EditContribution(ctx, first.ID, ContributionEdit{Amount: &newAmount}); err == nil {
		t.Fatalf("expected error editing a deleted contribution")
	} else {
		var notFound *NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if _, err := harness.service.EditContribution(ctx, first.ID, ContributionEdit{}); err == nil {
		t.Fatalf("expected validation error for empty edit")
	}
}

func TestEditSettingsResetsBlankHeroText(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()

	title := "Roof repair fund"
	target := "5000,00"
	settings, err := harness.service.EditSettings(ctx, SettingsEdit{HeroTitle: &title, Target: &target})
	if err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	if settings.HeroTitle != title || !settings.Target.Equal(mustDecimal(t, "5000")) {
		t.Fatalf("unexpected settings: %+v", settings)
	}

	blank := "   "
	settings, err = harness.service.EditSettings(ctx, SettingsEdit{HeroTitle: &blank})
	if err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	if settings.HeroTitle != "Help us build the library" {
		t.Fatalf("expected default hero title, got %q", settings.HeroTitle)
	}

	negative := "-1"
	if _, err := harness.service.EditSettings(ctx, SettingsEdit{Target: &negative}); err == nil {
		t.Fatalf("expected validation error for negative target")
	}
	if _, err := harness.service.EditSettings(ctx, SettingsEdit{}); err == nil {
		t.Fatalf("expected validation error for empty edit")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	harness := newTestHarness(t, store)
	ctx := context.Background()

	title := "Custom title"
	if _, err := harness.service.EditSettings(ctx, SettingsEdit{HeroTitle: &title}); err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}
	if _, err := harness.service.Bootstrap(ctx); err != nil {
		t.Fatalf("unexpected bootstrap error: %v", err)
	}
	settings, err := store.GetSettings(ctx, testSettingsID)
	if err != nil {
		t.Fatalf("failed to load settings: %v", err)
	}
	if settings.HeroTitle != title {
		t.Fatalf("bootstrap must not overwrite existing settings, got %q", settings.HeroTitle)
	}
}

func TestBoardOrdersLeaderboardAndComputesProgress(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()

	for _, entry := range []struct{ name, amount string }{
		{"Ana", "50"},
		{"Bruno", "75"},
		{"Carla", "50"},
		{"Davi", "10"},
	} {
		if _, err := harness.service.AddContribution(ctx, entry.name, entry.amount); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}
	target := "400"
	if _, err := harness.service.EditSettings(ctx, SettingsEdit{Target: &target}); err != nil {
		t.Fatalf("unexpected settings error: %v", err)
	}

	board, err := harness.service.Board(ctx)
	if err != nil {
		t.Fatalf("unexpected board error: %v", err)
	}
	var names []string
	for _, contribution := range board.Leaderboard {
		names = append(names, contribution.Name)
	}
	expected := []string{"Bruno", "Ana", "Carla", "Davi"}
	if len(names) != len(expected) {
		t.Fatalf("unexpected leaderboard: %v", names)
	}
	for index := range expected {
		if names[index] != expected[index] {
			t.Fatalf("unexpected leaderboard order: %v", names)
		}
	}
	if board.Progress.Percentage != 46 {
		t.Fatalf("expected 46%% progress, got %d", board.Progress.Percentage)
	}
	if !board.Progress.Remaining.Equal(mustDecimal(t, "215")) {
		t.Fatalf("expected 215 remaining, got %s", board.Progress.Remaining)
	}
}

func TestSnapshotListsRequestsNewestFirst(t *testing.T) {
	harness := newTestHarness(t, openTestStore(t))
	ctx := context.Background()
	older := mustSubmit(t, harness.service, "Ana", "10")
	newer := mustSubmit(t, harness.service, "Bruno", "20")
	if _, err := harness.service.Reject(ctx, older.ID); err != nil {
		t.Fatalf("unexpected reject error: %v", err)
	}

	snapshot, err := harness.service.Snapshot(ctx)
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	if len(snapshot.Requests) != 2 || snapshot.Requests[0].ID != newer.ID || snapshot.Requests[1].ID != older.ID {
		t.Fatalf("unexpected request order: %+v", snapshot.Requests)
	}
	if snapshot.PendingCount() != 1 {
		t.Fatalf("expected one pending request, got %d", snapshot.PendingCount())
	}
}

func TestComputeProgress(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		raised     string
		remaining  string
		percentage int64
	}{
		{name: "zero target", target: "0", raised: "10", remaining: "0", percentage: 0},
		{name: "partial", target: "200", raised: "50", remaining: "150", percentage: 25},
		{name: "rounded", target: "3", raised: "2", remaining: "1", percentage: 67},
		{name: "exceeded", target: "100", raised: "150", remaining: "0", percentage: 100},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			progress := ComputeProgress(CampaignSettings{
				Target: mustDecimal(t, testCase.target),
				Raised: mustDecimal(t, testCase.raised),
			})
			if !progress.Remaining.Equal(mustDecimal(t, testCase.remaining)) {
				t.Fatalf("expected remaining %s, got %s", testCase.remaining, progress.Remaining)
			}
			if progress.Percentage != testCase.percentage {
				t.Fatalf("expected percentage %d, got %d", testCase.percentage, progress.Percentage)
			}
		})
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: NewUUIDProvider(), SettingsID: "main"}); !errors.Is(err, errMissingStore) {
		t.Fatalf("expected missing store error, got %v", err)
	}
	store := openTestStore(t)
	if _, err := NewService(ServiceConfig{Store: store, SettingsID: "main"}); !errors.Is(err, errMissingIDProvider) {
		t.Fatalf("expected missing id provider error, got %v", err)
	}
	if _, err := NewService(ServiceConfig{Store: store, IDProvider: NewUUIDProvider()}); !errors.Is(err, errMissingSettingsID) {
		t.Fatalf("expected missing settings id error, got %v", err)
	}
}
