package repository

import (
	"context"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"gorm.io/gorm"
)

// serviceRepository implements ServiceRepository.
type serviceRepository struct {
	db *gorm.DB
}

// NewServiceRepository creates a new ServiceRepository.
func NewServiceRepository(db *gorm.DB) ServiceRepository {
	return &serviceRepository{db: db}
}

// List returns services ordered by group then name.
func (r *serviceRepository) List(ctx context.Context, limit int) ([]entities.Service, error) {
	var services []entities.Service
	query := r.db.WithContext(ctx).Order("group_name ASC").Order("name ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&services).Error; err != nil {
		return nil, translate(err, "list services")
	}
	return services, nil
}

// Get returns a service by ID.
// Returns ErrServiceNotFound if the service does not exist.
func (r *serviceRepository) Get(ctx context.Context, id uint) (*entities.Service, error) {
	var svc entities.Service
	if err := r.db.WithContext(ctx).First(&svc, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrServiceNotFound, "service", id)
		}
		return nil, translate(err, "get service")
	}
	return &svc, nil
}

// FindByNameGroup returns the service with the exact (name, group) pair.
func (r *serviceRepository) FindByNameGroup(ctx context.Context, name, group string) (*entities.Service, error) {
	var svc entities.Service
	err := r.db.WithContext(ctx).
		Where("name = ? AND group_name = ?", name, group).
		First(&svc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrServiceNotFound, "service", name+"/"+group)
		}
		return nil, translate(err, "find service by name")
	}
	return &svc, nil
}

// FindByMachine matches on the canonical name only; group is ignored and the
// oldest service wins when several groups share a name.
func (r *serviceRepository) FindByMachine(ctx context.Context, machine string) (*entities.Service, error) {
	key := entities.CanonicalName(machine)
	var svc entities.Service
	err := r.db.WithContext(ctx).
		Where("name_key = ?", key).
		Order("id ASC").
		First(&svc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrServiceNotFound, "service", key)
		}
		return nil, translate(err, "find service by machine")
	}
	return &svc, nil
}

// Create inserts a new service. A duplicate (name, group) yields ErrConflict.
func (r *serviceRepository) Create(ctx context.Context, svc *entities.Service) error {
	return translate(r.db.WithContext(ctx).Create(svc).Error, "create service")
}
