package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// UploadJobRepositoryImpl implements UploadJobRepository
type UploadJobRepositoryImpl struct {
	*BaseRepository[models.UploadJob, models.UploadJobFilter]
}

func NewUploadJobRepository(db *gorm.DB) UploadJobRepository {
	return &UploadJobRepositoryImpl{BaseRepository: NewBaseRepository[models.UploadJob, models.UploadJobFilter](db)}
}

func (r *UploadJobRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	db := r.getDB(ctx)
	var row models.UploadJob
	if err := db.Where("uuid = ?", id).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *UploadJobRepositoryImpl) IncrementCounters(ctx context.Context, jobID uint, validatedDelta, failedDelta int64) error {
	db := r.getDB(ctx)
	res := db.Model(&models.UploadJob{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"validated_count": gorm.Expr("validated_count + ?", validatedDelta),
			"failed_count":    gorm.Expr("failed_count + ?", failedDelta),
			"updated_at":      utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment upload job counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("upload job %d not found", jobID)
	}
	return nil
}

func (r *UploadJobRepositoryImpl) applyFilter(db *gorm.DB, f models.UploadJobFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *UploadJobRepositoryImpl) ByFilter(ctx context.Context, filter models.UploadJobFilter, orderBy string, limit, offset int) ([]*models.UploadJob, error) {
	db := r.getDB(ctx)
	var rows []*models.UploadJob
	q := r.applyFilter(db, filter)
	if orderBy != "" {
		q = q.Order(orderBy)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *UploadJobRepositoryImpl) Count(ctx context.Context, filter models.UploadJobFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.UploadJob{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
