package repository

import (
	"context"

	"github.com/welleazyhts/Renewal-Backend/models"
	"gorm.io/gorm"
)

// RowResultRepositoryImpl implements RowResultRepository
type RowResultRepositoryImpl struct {
	*BaseRepository[models.RowResult, models.RowResultFilter]
}

func NewRowResultRepository(db *gorm.DB) RowResultRepository {
	return &RowResultRepositoryImpl{BaseRepository: NewBaseRepository[models.RowResult, models.RowResultFilter](db)}
}

func (r *RowResultRepositoryImpl) ListByUploadJob(ctx context.Context, uploadJobID uint, limit, offset int) ([]*models.RowResult, error) {
	filter := models.RowResultFilter{UploadJobID: &uploadJobID}
	return r.ByFilter(ctx, filter, "row_index ASC", limit, offset)
}

func (r *RowResultRepositoryImpl) applyFilter(db *gorm.DB, f models.RowResultFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UploadJobID != nil {
		db = db.Where("upload_job_id = ?", *f.UploadJobID)
	}
	if f.RowIndex != nil {
		db = db.Where("row_index = ?", *f.RowIndex)
	}
	if f.ErrorCode != nil {
		db = db.Where("error_code = ?", *f.ErrorCode)
	}
	if f.OnlyFailed != nil && *f.OnlyFailed {
		db = db.Where("error_code IS NOT NULL")
	}
	return db
}

func (r *RowResultRepositoryImpl) ByFilter(ctx context.Context, filter models.RowResultFilter, orderBy string, limit, offset int) ([]*models.RowResult, error) {
	db := r.getDB(ctx)
	var rows []*models.RowResult
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

func (r *RowResultRepositoryImpl) Count(ctx context.Context, filter models.RowResultFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.RowResult{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
