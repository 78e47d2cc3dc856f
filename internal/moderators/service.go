package moderators

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/campaign/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "local"

var (
	// ErrInvalidModerator indicates the claims did not contain a usable identifier.
	ErrInvalidModerator = errors.New("moderators: invalid identity")
	// ErrNotModerator indicates the session lacks the moderator role.
	ErrNotModerator = errors.New("moderators: moderator role required")

	errMissingDatabase = errors.New("moderators: database connection required")
)

// ServiceConfig describes the dependencies required for moderator resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves session claims to canonical moderator records.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewService constructs the moderator service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// Resolve returns the canonical moderator id for claims, creating the record on first sight.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (string, error) {
	if !claims.HasRole(auth.RoleModerator) {
		return "", ErrNotModerator
	}
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return "", ErrInvalidModerator
	}

	cacheKey := provider + ":" + subject
	if cached, ok := s.cache.Load(cacheKey); ok {
		if moderatorID, ok := cached.(string); ok {
			return moderatorID, nil
		}
	}

	var moderator Moderator
	err := s.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		Take(&moderator).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		moderator = Moderator{
			Provider:    provider,
			Subject:     subject,
			ModeratorID: subject,
			Email:       normalize(claims.UserEmail),
			DisplayName: normalize(claims.UserDisplayName),
			LastSeenAt:  s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&moderator).Error; err != nil {
			return "", err
		}
		s.logger.Info("moderator registered", zap.String("moderator_id", moderator.ModeratorID))
	case err != nil:
		return "", err
	default:
		updates := map[string]any{"last_seen_at": s.now().UTC()}
		if email := normalize(claims.UserEmail); email != "" && email != moderator.Email {
			updates["email"] = email
		}
		if display := normalize(claims.UserDisplayName); display != "" && display != moderator.DisplayName {
			updates["display_name"] = display
		}
		if err := s.db.WithContext(ctx).Model(&Moderator{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).Error; err != nil {
			s.logger.Warn("moderator last seen update failed", zap.String("moderator_id", moderator.ModeratorID), zap.Error(err))
		}
	}

	s.cache.Store(cacheKey, moderator.ModeratorID)
	return moderator.ModeratorID, nil
}

func deriveProviderSubject(claims auth.SessionClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if prefix, rest, found := strings.Cut(raw, ":"); found {
			if normalize(prefix) != "" && normalize(rest) != "" {
				provider = normalize(prefix)
				subject = normalize(rest)
			}
		} else if subject == "" {
			subject = raw
		}
	}
	if subject == "" {
		subject = normalize(claims.UserEmail)
	}
	return provider, subject
}
