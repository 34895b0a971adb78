package repository

import (
	"fmt"

	"github.com/tphakala/errintake/internal/errors"
	"gorm.io/gorm"
)

const component = "datastore"

// Sentinel errors returned by repositories.
var (
	ErrUserNotFound    = errors.NewStd("user not found")
	ErrServiceNotFound = errors.NewStd("service not found")
	ErrRuleNotFound    = errors.NewStd("notification rule not found")

	// ErrConflict is returned when a write violates a uniqueness constraint,
	// typically because a concurrent request created the same natural key.
	// Callers may retry the operation.
	ErrConflict = errors.NewStd("uniqueness conflict")
)

// notFound wraps a sentinel as a not-found category error.
func notFound(sentinel error, entity string, id any) error {
	return errors.New(sentinel).
		Component(component).
		Category(errors.CategoryNotFound).
		Context("entity", entity).
		Context("id", id).
		Build()
}

// translate converts a gorm error into a categorized error. Duplicate key
// violations become ErrConflict.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.New(fmt.Errorf("%s: %w", op, errors.Join(ErrConflict, err))).
			Component(component).
			Category(errors.CategoryConflict).
			Context("operation", op).
			Build()
	}
	return errors.New(fmt.Errorf("failed to %s: %w", op, err)).
		Component(component).
		Category(errors.CategoryDatabase).
		Context("operation", op).
		Build()
}
