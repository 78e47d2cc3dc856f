package moderators

import (
	"strings"
	"time"
)

// Moderator maps a session subject to a canonical moderator id used in action logs.
type Moderator struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	ModeratorID string    `gorm:"column:moderator_id;size:190;not null;index"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing moderator records.
func (Moderator) TableName() string {
	return "moderators"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
