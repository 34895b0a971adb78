package repository

import (
	"context"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"github.com/tphakala/errintake/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ruleRepository implements RuleRepository.
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

// List returns rules, most recent first, with user and service preloaded.
func (r *ruleRepository) List(ctx context.Context, limit int) ([]entities.NotificationRule, error) {
	var rules []entities.NotificationRule
	query := r.db.WithContext(ctx).Preload("User").Preload("Service").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rules).Error; err != nil {
		return nil, translate(err, "list notification rules")
	}
	return rules, nil
}

// Get returns a single rule by ID.
// Returns ErrRuleNotFound if the rule does not exist.
func (r *ruleRepository) Get(ctx context.Context, id uint) (*entities.NotificationRule, error) {
	var rule entities.NotificationRule
	if err := r.db.WithContext(ctx).Preload("User").Preload("Service").First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrRuleNotFound, "notification_rule", id)
		}
		return nil, translate(err, "get notification rule")
	}
	return &rule, nil
}

// FindByUserService returns the first rule for the (user, service) pair.
func (r *ruleRepository) FindByUserService(ctx context.Context, userID, serviceID uint) (*entities.NotificationRule, error) {
	var rule entities.NotificationRule
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND service_id = ?", userID, serviceID).
		Order("id ASC").
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound(ErrRuleNotFound, "notification_rule", map[string]uint{"user_id": userID, "service_id": serviceID})
		}
		return nil, translate(err, "find notification rule")
	}
	return &rule, nil
}

// Create inserts a new rule without touching its associations.
func (r *ruleRepository) Create(ctx context.Context, rule *entities.NotificationRule) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Create(rule).Error, "create notification rule")
}

// UpdateSettings writes the mutable rule columns, including zero values.
func (r *ruleRepository) UpdateSettings(ctx context.Context, rule *entities.NotificationRule) error {
	if rule.ID == 0 {
		return errors.Newf("failed to update notification rule: missing rule ID").
			Component(component).
			Category(errors.CategoryInternal).
			Build()
	}
	err := r.db.WithContext(ctx).Model(rule).
		Select("min_severity", "enabled", "do_email", "do_halo_ticket", "do_call", "updated_at").
		Updates(rule).Error
	return translate(err, "update notification rule")
}

// Delete removes a rule by ID.
func (r *ruleRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.NotificationRule{}, id)
	if result.Error != nil {
		return translate(result.Error, "delete notification rule")
	}
	if result.RowsAffected == 0 {
		return notFound(ErrRuleNotFound, "notification_rule", id)
	}
	return nil
}

// ListEnabledByService returns the enabled rules of a service in id order.
func (r *ruleRepository) ListEnabledByService(ctx context.Context, serviceID uint) ([]entities.NotificationRule, error) {
	var rules []entities.NotificationRule
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("service_id = ? AND enabled = ?", serviceID, true).
		Order("id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, translate(err, "list enabled notification rules")
	}
	return rules, nil
}

// ListContactsByService returns enabled rules with user contact details,
// ordered by the user's last then first name.
func (r *ruleRepository) ListContactsByService(ctx context.Context, serviceID uint) ([]entities.NotificationRule, error) {
	var rules []entities.NotificationRule
	err := r.db.WithContext(ctx).
		Select("notification_rules.*").
		Joins("JOIN users ON users.id = notification_rules.user_id").
		Preload("User").
		Preload("Service").
		Where("notification_rules.service_id = ? AND notification_rules.enabled = ?", serviceID, true).
		Order("users.last_name ASC").
		Order("users.first_name ASC").
		Order("notification_rules.id ASC").
		Find(&rules).Error
	if err != nil {
		return nil, translate(err, "list notification contacts")
	}
	return rules, nil
}
