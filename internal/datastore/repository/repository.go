// Package repository provides gorm-backed access to errintake entities.
package repository

import (
	"context"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"gorm.io/gorm"
)

// ErrorRepository stores incoming error records.
type ErrorRepository interface {
	Create(ctx context.Context, rec *entities.ErrorRecord) error
	ListRecent(ctx context.Context, limit int) ([]entities.ErrorRecord, error)
	CountBySeverity(ctx context.Context) (map[string]int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// UserRepository handles notification recipients.
type UserRepository interface {
	List(ctx context.Context, limit int) ([]entities.User, error)
	Get(ctx context.Context, id uint) (*entities.User, error)
	FindByEmail(ctx context.Context, email string) (*entities.User, error)
	Create(ctx context.Context, user *entities.User) error
}

// ServiceRepository handles monitored services.
type ServiceRepository interface {
	List(ctx context.Context, limit int) ([]entities.Service, error)
	Get(ctx context.Context, id uint) (*entities.Service, error)
	FindByNameGroup(ctx context.Context, name, group string) (*entities.Service, error)
	// FindByMachine returns the lowest-id service whose canonical name equals
	// the canonical form of machine.
	FindByMachine(ctx context.Context, machine string) (*entities.Service, error)
	Create(ctx context.Context, svc *entities.Service) error
}

// RuleRepository handles notification rules.
type RuleRepository interface {
	List(ctx context.Context, limit int) ([]entities.NotificationRule, error)
	Get(ctx context.Context, id uint) (*entities.NotificationRule, error)
	// FindByUserService returns the first rule (lowest id) for the pair.
	FindByUserService(ctx context.Context, userID, serviceID uint) (*entities.NotificationRule, error)
	Create(ctx context.Context, rule *entities.NotificationRule) error
	// UpdateSettings overwrites severity, enabled and action flags in place.
	UpdateSettings(ctx context.Context, rule *entities.NotificationRule) error
	Delete(ctx context.Context, id uint) error
	// ListEnabledByService returns enabled rules ordered by id with users preloaded.
	ListEnabledByService(ctx context.Context, serviceID uint) ([]entities.NotificationRule, error)
	// ListContactsByService returns enabled rules joined with their users,
	// ordered by last name then first name.
	ListContactsByService(ctx context.Context, serviceID uint) ([]entities.NotificationRule, error)
}

// Store bundles the repositories over one gorm handle. A Store created by
// Transaction is bound to that transaction.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Errors() ErrorRepository { return NewErrorRepository(s.db) }
func (s *Store) Users() UserRepository { return NewUserRepository(s.db) }
func (s *Store) Services() ServiceRepository { return NewServiceRepository(s.db) }
func (s *Store) Rules() RuleRepository { return NewRuleRepository(s.db) }

// Transaction runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}
