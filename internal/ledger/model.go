package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// RequestStatus enumerates payment request states as stored in pix_requests.status.
type RequestStatus string

const (
	// RequestStatusPending marks a request awaiting moderation.
	RequestStatusPending RequestStatus = "pendente"
	// RequestStatusConfirmed marks an approved request.
	RequestStatusConfirmed RequestStatus = "confirmado"
	// RequestStatusRejected marks a rejected request.
	RequestStatusRejected RequestStatus = "recusado"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusConfirmed || s == RequestStatusRejected
}

// ContributionStatus enumerates contribution states. Only confirmed rows are ever stored.
type ContributionStatus string

// ContributionStatusConfirmed marks a leaderboard-visible contribution.
const ContributionStatusConfirmed ContributionStatus = "confirmado"

// Table names double as realtime topics.
const (
	TablePaymentRequests  = "pix_requests"
	TableContributions    = "contribuicoes"
	TableCampaignSettings = "site_settings"
)

// PaymentRequest is a contributor's self-reported payment awaiting moderation.
type PaymentRequest struct {
	ID           string          `gorm:"column:id;primaryKey;size:64;not null"`
	Name         string          `gorm:"column:nome;size:190;not null"`
	Amount       decimal.Decimal `gorm:"column:valor;type:decimal(14,2);not null"`
	ContactPhone string          `gorm:"column:whatsapp;size:32;not null;default:''"`
	Status       RequestStatus   `gorm:"column:status;size:16;not null;index:idx_pix_requests_status"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;index:idx_pix_requests_created"`
	// SettledAt is set once every approval step has completed.
	SettledAt *time.Time `gorm:"column:settled_at"`
}

// TableName provides the explicit table binding for GORM.
func (PaymentRequest) TableName() string {
	return TablePaymentRequests
}

// Settled reports whether the approval saga finished for a confirmed request.
func (r PaymentRequest) Settled() bool {
	return r.SettledAt != nil
}

// Contribution is a confirmed, leaderboard-visible donation.
type Contribution struct {
	ID     string             `gorm:"column:id;primaryKey;size:64;not null"`
	Name   string             `gorm:"column:nome;size:190;not null"`
	Amount decimal.Decimal    `gorm:"column:valor;type:decimal(14,2);not null;index:idx_contribuicoes_rank,priority:2,sort:desc"`
	Status ContributionStatus `gorm:"column:status;size:16;not null;index:idx_contribuicoes_rank,priority:1"`
	// RequestID links contributions created by approval to their payment request.
	RequestID *string   `gorm:"column:request_id;size:64;uniqueIndex:idx_contribuicoes_request"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Contribution) TableName() string {
	return TableContributions
}

// CampaignSettings is the singleton row holding the target, the running total and display text.
type CampaignSettings struct {
	ID           string          `gorm:"column:id;primaryKey;size:64;not null"`
	HeroTitle    string          `gorm:"column:hero_title;size:255;not null;default:''"`
	HeroSubtitle string          `gorm:"column:hero_subtitle;size:512;not null;default:''"`
	Target       decimal.Decimal `gorm:"column:meta_desejada;type:decimal(14,2);not null;default:0"`
	Raised       decimal.Decimal `gorm:"column:arrecadado;type:decimal(14,2);not null;default:0"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;not null"`
	// Version increases on every write; recomputing raised uses it as a compare-and-set token.
	Version int64 `gorm:"column:versao;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (CampaignSettings) TableName() string {
	return TableCampaignSettings
}

// Models lists every table owned by the ledger, in migration order.
func Models() []any {
	return []any{&CampaignSettings{}, &PaymentRequest{}, &Contribution{}}
}

// Progress summarises how far the campaign is from its target.
type Progress struct {
	Remaining decimal.Decimal
	// Percentage is rounded to a whole number and capped at 100.
	Percentage int64
}

var hundred = decimal.NewFromInt(100)

// ComputeProgress derives the remaining amount and completion percentage.
func ComputeProgress(settings CampaignSettings) Progress {
	remaining := settings.Target.Sub(settings.Raised)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if !settings.Target.IsPositive() {
		return Progress{Remaining: remaining, Percentage: 0}
	}
	percentage := settings.Raised.Div(settings.Target).Mul(hundred).Round(0).IntPart()
	if percentage > 100 {
		percentage = 100
	}
	if percentage < 0 {
		percentage = 0
	}
	return Progress{Remaining: remaining, Percentage: percentage}
}

// Board is the public view: settings, progress and the top of the leaderboard.
type Board struct {
	Settings    CampaignSettings
	Progress    Progress
	Leaderboard []Contribution
}

// Snapshot is the moderator view: the board plus the full leaderboard and the request queue.
type Snapshot struct {
	Settings    CampaignSettings
	Progress    Progress
	Leaderboard []Contribution
	Requests    []PaymentRequest
}

// PendingCount returns the number of requests awaiting moderation.
func (s Snapshot) PendingCount() int {
	count := 0
	for _, request := range s.Requests {
		if request.Status == RequestStatusPending {
			count++
		}
	}
	return count
}
