package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("database handle is required")

// GormStore implements Store on top of a GORM connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db as a ledger Store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) InsertRequest(ctx context.Context, request *PaymentRequest) error {
	return s.db.WithContext(ctx).Create(request).Error
}

func (s *GormStore) GetRequest(ctx context.Context, id string) (PaymentRequest, error) {
	var request PaymentRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PaymentRequest{}, ErrRecordMissing
	}
	return request, err
}

func (s *GormStore) TransitionRequest(ctx context.Context, id string, from, to RequestStatus) error {
	result := s.db.WithContext(ctx).
		Model(&PaymentRequest{}).
		Where("id = ? AND status = ? AND settled_at IS NULL", id, from).
		Update("status", to)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *GormStore) SettleRequest(ctx context.Context, id string, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&PaymentRequest{}).
		Where("id = ? AND status = ? AND settled_at IS NULL", id, RequestStatusConfirmed).
		Update("settled_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *GormStore) RevertApproval(ctx context.Context, requestID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request PaymentRequest
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", requestID).Take(&request).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordMissing
		}
		if err != nil {
			return err
		}
		if request.Status == RequestStatusConfirmed {
			if request.Settled() {
				return ErrStatusConflict
			}
			if err := tx.Model(&PaymentRequest{}).Where("id = ?", requestID).Update("status", RequestStatusPending).Error; err != nil {
				return err
			}
		}
		return tx.Where("request_id = ?", requestID).Delete(&Contribution{}).Error
	})
}

func (s *GormStore) DeleteRequest(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&PaymentRequest{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordMissing
	}
	return nil
}

func (s *GormStore) ListRequests(ctx context.Context, limit int) ([]PaymentRequest, error) {
	var requests []PaymentRequest
	query := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (s *GormStore) InsertContribution(ctx context.Context, contribution *Contribution) error {
	return s.db.WithContext(ctx).Create(contribution).Error
}

func (s *GormStore) GetContribution(ctx context.Context, id string) (Contribution, error) {
	var contribution Contribution
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&contribution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Contribution{}, ErrRecordMissing
	}
	return contribution, err
}

func (s *GormStore) FindContributionByRequest(ctx context.Context, requestID string) (Contribution, error) {
	var contribution Contribution
	err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Take(&contribution).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Contribution{}, ErrRecordMissing
	}
	return contribution, err
}

func (s *GormStore) UpdateContribution(ctx context.Context, id string, patch ContributionPatch) error {
	updates := map[string]any{}
	if patch.Name != nil {
		updates["nome"] = *patch.Name
	}
	if patch.Amount != nil {
		updates["valor"] = *patch.Amount
	}
	if len(updates) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&Contribution{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordMissing
	}
	return nil
}

func (s *GormStore) DeleteContribution(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&Contribution{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordMissing
	}
	return nil
}

func (s *GormStore) ListConfirmedContributions(ctx context.Context, limit int) ([]Contribution, error) {
	var contributions []Contribution
	query := s.db.WithContext(ctx).
		Where("status = ?", ContributionStatusConfirmed).
		Order("valor DESC").
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&contributions).Error; err != nil {
		return nil, err
	}
	return contributions, nil
}

// SumConfirmedContributions adds amounts in decimal arithmetic rather than SQL SUM,
// which SQLite evaluates in floating point.
func (s *GormStore) SumConfirmedContributions(ctx context.Context) (decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := s.db.WithContext(ctx).
		Model(&Contribution{}).
		Where("status = ?", ContributionStatusConfirmed).
		Pluck("valor", &amounts).Error
	if err != nil {
		return decimal.Decimal{}, err
	}
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total.Round(amountScale), nil
}

func (s *GormStore) EnsureSettings(ctx context.Context, defaults CampaignSettings) (CampaignSettings, error) {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&defaults).Error
	if err != nil {
		return CampaignSettings{}, err
	}
	return s.GetSettings(ctx, defaults.ID)
}

func (s *GormStore) GetSettings(ctx context.Context, id string) (CampaignSettings, error) {
	var settings CampaignSettings
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CampaignSettings{}, ErrRecordMissing
	}
	return settings, err
}

func (s *GormStore) UpdateSettings(ctx context.Context, id string, patch SettingsPatch) error {
	updates := map[string]any{
		"updated_at": patch.UpdatedAt,
		"versao":     gorm.Expr("versao + 1"),
	}
	if patch.HeroTitle != nil {
		updates["hero_title"] = *patch.HeroTitle
	}
	if patch.HeroSubtitle != nil {
		updates["hero_subtitle"] = *patch.HeroSubtitle
	}
	if patch.Target != nil {
		updates["meta_desejada"] = *patch.Target
	}
	if patch.Raised != nil {
		updates["arrecadado"] = *patch.Raised
	}
	result := s.db.WithContext(ctx).Model(&CampaignSettings{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRecordMissing
	}
	return nil
}

func (s *GormStore) SetRaised(ctx context.Context, id string, version int64, raised decimal.Decimal, at time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&CampaignSettings{}).
		Where("id = ? AND versao = ?", id, version).
		Updates(map[string]any{
			"arrecadado": raised,
			"updated_at": at,
			"versao":     gorm.Expr("versao + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
