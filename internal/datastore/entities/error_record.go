package entities

import (
	"time"

	"gorm.io/datatypes"
)

// ErrorRecord is a single error event reported by a machine.
// Records are immutable once stored; only bulk deletion removes them.
type ErrorRecord struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;not null" json:"created_at"`
	Machine    string         `gorm:"size:50;not null;index" json:"machine"`
	Message    string         `gorm:"size:2000;not null" json:"message"`
	Severity   string         `gorm:"size:20;not null;default:ERROR" json:"severity"`
	RawPayload datatypes.JSON `gorm:"not null" json:"-"`
}

// TableName returns the table name for GORM.
func (ErrorRecord) TableName() string {
	return "errors"
}
