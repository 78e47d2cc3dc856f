package server

import (
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/ledger"
	"github.com/shopspring/decimal"
)

const amountDecimals = 2

type settingsPayload struct {
	HeroTitle    string    `json:"heroTitle"`
	HeroSubtitle string    `json:"heroSubtitle"`
	Target       string    `json:"target"`
	Raised       string    `json:"raised"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type progressPayload struct {
	Remaining  string `json:"remaining"`
	Percentage int64  `json:"percentage"`
}

type contributionPayload struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Amount    string    `json:"amount"`
	Status    string    `json:"status"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type paymentRequestPayload struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Amount       string     `json:"amount"`
	ContactPhone string     `json:"contactPhone,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	SettledAt    *time.Time `json:"settledAt,omitempty"`
}

type boardPayload struct {
	Settings    settingsPayload       `json:"settings"`
	Progress    progressPayload       `json:"progress"`
	Leaderboard []contributionPayload `json:"leaderboard"`
}

type snapshotPayload struct {
	Settings     settingsPayload         `json:"settings"`
	Progress     progressPayload         `json:"progress"`
	Leaderboard  []contributionPayload   `json:"leaderboard"`
	Requests     []paymentRequestPayload `json:"requests"`
	PendingCount int                     `json:"pendingCount"`
}

type approvalPayload struct {
	Request      paymentRequestPayload `json:"request"`
	Contribution contributionPayload   `json:"contribution"`
	Raised       string                `json:"raised"`
	Resumed      bool                  `json:"resumed"`
	// AlreadyConfirmed is set when another approval had confirmed the request first.
	AlreadyConfirmed bool   `json:"alreadyConfirmed"`
	Message          string `json:"message"`
}

type reconcilePayload struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Drift    string `json:"drift"`
}

func formatAmount(value decimal.Decimal) string {
	return value.StringFixed(amountDecimals)
}

func presentSettings(settings ledger.CampaignSettings) settingsPayload {
	return settingsPayload{
		HeroTitle:    settings.HeroTitle,
		HeroSubtitle: settings.HeroSubtitle,
		Target:       formatAmount(settings.Target),
		Raised:       formatAmount(settings.Raised),
		UpdatedAt:    settings.UpdatedAt,
	}
}

func presentProgress(progress ledger.Progress) progressPayload {
	return progressPayload{Remaining: formatAmount(progress.Remaining), Percentage: progress.Percentage}
}

func presentContribution(contribution ledger.Contribution) contributionPayload {
	payload := contributionPayload{
		ID:        contribution.ID,
		Name:      contribution.Name,
		Amount:    formatAmount(contribution.Amount),
		Status:    string(contribution.Status),
		CreatedAt: contribution.CreatedAt,
	}
	if contribution.RequestID != nil {
		payload.RequestID = *contribution.RequestID
	}
	return payload
}

func presentContributions(contributions []ledger.Contribution) []contributionPayload {
	payloads := make([]contributionPayload, 0, len(contributions))
	for _, contribution := range contributions {
		payloads = append(payloads, presentContribution(contribution))
	}
	return payloads
}

func presentRequest(request ledger.PaymentRequest) paymentRequestPayload {
	return paymentRequestPayload{
		ID:           request.ID,
		Name:         request.Name,
		Amount:       formatAmount(request.Amount),
		ContactPhone: request.ContactPhone,
		Status:       string(request.Status),
		CreatedAt:    request.CreatedAt,
		SettledAt:    request.SettledAt,
	}
}

func presentBoard(board ledger.Board) boardPayload {
	return boardPayload{
		Settings:    presentSettings(board.Settings),
		Progress:    presentProgress(board.Progress),
		Leaderboard: presentContributions(board.Leaderboard),
	}
}

func presentSnapshot(snapshot ledger.Snapshot) snapshotPayload {
	requests := make([]paymentRequestPayload, 0, len(snapshot.Requests))
	for _, request := range snapshot.Requests {
		requests = append(requests, presentRequest(request))
	}
	return snapshotPayload{
		Settings:     presentSettings(snapshot.Settings),
		Progress:     presentProgress(snapshot.Progress),
		Leaderboard:  presentContributions(snapshot.Leaderboard),
		Requests:     requests,
		PendingCount: snapshot.PendingCount(),
	}
}

func presentApproval(result ledger.ApprovalResult) approvalPayload {
	message := "Payment request approved."
	if result.Resumed {
		message = "This payment request was already confirmed by another approval. That approval is now complete and no second contribution was recorded."
	}
	return approvalPayload{
		Request:          presentRequest(result.Request),
		Contribution:     presentContribution(result.Contribution),
		Raised:           formatAmount(result.Raised),
		Resumed:          result.Resumed,
		AlreadyConfirmed: result.Resumed,
		Message:          message,
	}
}

func presentReconcile(result ledger.ReconcileResult) reconcilePayload {
	return reconcilePayload{
		Previous: formatAmount(result.Previous),
		Current:  formatAmount(result.Current),
		Drift:    formatAmount(result.Drift()),
	}
}
