package entities

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// Service is a monitored machine or application, unique per (name, group).
// NameKey is the canonical form of Name used to match incoming errors.
type Service struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
	Name      string    `gorm:"size:100;not null;uniqueIndex:idx_services_name_group,priority:1" json:"name"`
	Group     string    `gorm:"column:group_name;size:100;not null;uniqueIndex:idx_services_name_group,priority:2" json:"group"`
	NameKey   string    `gorm:"size:100;not null;index" json:"-"`
}

// TableName returns the table name for GORM.
func (Service) TableName() string {
	return "services"
}

// BeforeSave keeps NameKey in sync with Name.
func (s *Service) BeforeSave(_ *gorm.DB) error {
	s.NameKey = CanonicalName(s.Name)
	return nil
}

// CanonicalName is the write-boundary canonicalization shared by error
// machine names and service match keys: trimmed and uppercased.
func CanonicalName(name string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(name))
}
