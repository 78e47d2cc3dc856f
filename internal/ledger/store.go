package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the per-collection persistence contract. Conditional writes are the ledger's
// concurrency primitive; RevertApproval is the only write spanning two tables.
type Store interface {
	InsertRequest(ctx context.Context, request *PaymentRequest) error
	GetRequest(ctx context.Context, id string) (PaymentRequest, error)
	// TransitionRequest moves a request from one status to another only if it is
	// currently in from and unsettled. It returns ErrStatusConflict when no row matched.
	TransitionRequest(ctx context.Context, id string, from, to RequestStatus) error
	// SettleRequest marks a confirmed, unsettled request settled. It returns
	// ErrStatusConflict when no row matched.
	SettleRequest(ctx context.Context, id string, at time.Time) error
	// RevertApproval undoes an unfinished approval in one transaction: a confirmed,
	// unsettled request goes back to pending and the contribution created from it is
	// deleted. It returns ErrStatusConflict for a settled request and ErrRecordMissing
	// for a deleted one; neither changes anything.
	RevertApproval(ctx context.Context, requestID string) error
	DeleteRequest(ctx context.Context, id string) error
	ListRequests(ctx context.Context, limit int) ([]PaymentRequest, error)

	InsertContribution(ctx context.Context, contribution *Contribution) error
	GetContribution(ctx context.Context, id string) (Contribution, error)
	FindContributionByRequest(ctx context.Context, requestID string) (Contribution, error)
	UpdateContribution(ctx context.Context, id string, patch ContributionPatch) error
	DeleteContribution(ctx context.Context, id string) error
	ListConfirmedContributions(ctx context.Context, limit int) ([]Contribution, error)
	SumConfirmedContributions(ctx context.Context) (decimal.Decimal, error)

	EnsureSettings(ctx context.Context, defaults CampaignSettings) (CampaignSettings, error)
	GetSettings(ctx context.Context, id string) (CampaignSettings, error)
	UpdateSettings(ctx context.Context, id string, patch SettingsPatch) error
	// SetRaised stores raised only if the settings row is still at version. It returns
	// ErrStatusConflict when another write landed first.
	SetRaised(ctx context.Context, id string, version int64, raised decimal.Decimal, at time.Time) error
}

// ContributionPatch lists the contribution fields to overwrite; nil fields are left untouched.
type ContributionPatch struct {
	Name   *string
	Amount *decimal.Decimal
}

// Empty reports whether the patch changes nothing.
func (p ContributionPatch) Empty() bool {
	return p.Name == nil && p.Amount == nil
}

// SettingsPatch lists the settings fields to overwrite; nil fields are left untouched.
type SettingsPatch struct {
	HeroTitle    *string
	HeroSubtitle *string
	Target       *decimal.Decimal
	Raised       *decimal.Decimal
	UpdatedAt    time.Time
}
