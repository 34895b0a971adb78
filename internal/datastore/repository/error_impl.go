package repository

import (
	"context"

	"github.com/tphakala/errintake/internal/datastore/entities"
	"gorm.io/gorm"
)

// errorRepository implements ErrorRepository.
type errorRepository struct {
	db *gorm.DB
}

// NewErrorRepository creates a new ErrorRepository.
func NewErrorRepository(db *gorm.DB) ErrorRepository {
	return &errorRepository{db: db}
}

// Create stores a new error record and fills in its generated fields.
func (r *errorRepository) Create(ctx context.Context, rec *entities.ErrorRecord) error {
	return translate(r.db.WithContext(ctx).Create(rec).Error, "create error record")
}

// ListRecent returns the newest records first.
func (r *errorRepository) ListRecent(ctx context.Context, limit int) ([]entities.ErrorRecord, error) {
	var recs []entities.ErrorRecord
	query := r.db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, translate(err, "list error records")
	}
	return recs, nil
}

// CountBySeverity returns the number of stored records per severity label.
func (r *errorRepository) CountBySeverity(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Severity string
		Total    int64
	}
	err := r.db.WithContext(ctx).Model(&entities.ErrorRecord{}).
		Select("severity, COUNT(*) AS total").
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err, "count error records")
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Severity] = row.Total
	}
	return counts, nil
}

// DeleteAll removes every error record.
func (r *errorRepository) DeleteAll(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).Where("1 = 1").Delete(&entities.ErrorRecord{})
	if result.Error != nil {
		return 0, translate(result.Error, "delete error records")
	}
	return result.RowsAffected, nil
}
