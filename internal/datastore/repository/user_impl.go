package repository

import (
	"context"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"gorm.io/gorm"
)

// userRepository implements UserRepository.
type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// List returns users, most recent first.
func (r *userRepository) List(ctx context.Context, limit int) ([]entities.User, error) {
	var users []entities.User
	query := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&users).Error; err != nil {
		return nil, translate(err, "list users")
	}
	return users, nil
}

// Get returns a user by ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *userRepository) Get(ctx context.Context, id uint) (*entities.User, error) {
	var user entities.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrUserNotFound, "user", id)
		}
		return nil, translate(err, "get user")
	}
	return &user, nil
}

// FindByEmail returns the user with the given, already normalized, email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*entities.User, error) {
	var user entities.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrUserNotFound, "user", email)
		}
		return nil, translate(err, "find user by email")
	}
	return &user, nil
}

// Create inserts a new user. A duplicate email yields ErrConflict.
func (r *userRepository) Create(ctx context.Context, user *entities.User) error {
	return translate(r.db.WithContext(ctx).Create(user).Error, "create user")
}
