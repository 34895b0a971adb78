package entities

import "time"

// NotificationRule subscribes a user to errors from a service at or above
// MinSeverity. Each Do* flag enables one notification channel.
type NotificationRule struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_rules_user_service,priority:1" json:"user_id"`
	ServiceID    uint      `gorm:"not null;index;uniqueIndex:idx_rules_user_service,priority:2" json:"service_id"`
	MinSeverity  string    `gorm:"size:20;not null;default:ERROR" json:"min_severity"`
	Enabled      bool      `gorm:"not null;index" json:"enabled"`
	DoEmail      bool      `gorm:"not null;default:false" json:"do_email"`
	DoHaloTicket bool      `gorm:"not null;default:false" json:"do_halo_ticket"`
	DoCall       bool      `gorm:"not null;default:false" json:"do_call"`
	User         User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user,omitzero"`
	Service      Service   `gorm:"foreignKey:ServiceID;constraint:OnDelete:CASCADE" json:"service,omitzero"`
}

// TableName returns the table name for GORM.
func (NotificationRule) TableName() string {
	return "notification_rules"
}
