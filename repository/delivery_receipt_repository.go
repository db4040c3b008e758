package repository

import (
	"context"

	"github.com/welleazyhts/Renewal-Backend/models"
	"gorm.io/gorm"
)

// DeliveryReceiptRepositoryImpl implements DeliveryReceiptRepository
type DeliveryReceiptRepositoryImpl struct {
	*BaseRepository[models.DeliveryReceipt, models.DeliveryReceiptFilter]
}

func NewDeliveryReceiptRepository(db *gorm.DB) DeliveryReceiptRepository {
	return &DeliveryReceiptRepositoryImpl{BaseRepository: NewBaseRepository[models.DeliveryReceipt, models.DeliveryReceiptFilter](db)}
}

func (r *DeliveryReceiptRepositoryImpl) ListByTask(ctx context.Context, messageTaskID uint) ([]*models.DeliveryReceipt, error) {
	filter := models.DeliveryReceiptFilter{MessageTaskID: &messageTaskID}
	return r.ByFilter(ctx, filter, "occurred_at ASC, id ASC", 0, 0)
}

func (r *DeliveryReceiptRepositoryImpl) applyFilter(db *gorm.DB, f models.DeliveryReceiptFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.MessageTaskID != nil {
		db = db.Where("message_task_id = ?", *f.MessageTaskID)
	}
	if f.Provider != nil {
		db = db.Where("provider = ?", *f.Provider)
	}
	if f.ExternalID != nil {
		db = db.Where("external_id = ?", *f.ExternalID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	return db
}

func (r *DeliveryReceiptRepositoryImpl) ByFilter(ctx context.Context, filter models.DeliveryReceiptFilter, orderBy string, limit, offset int) ([]*models.DeliveryReceipt, error) {
	db := r.getDB(ctx)
	var rows []*models.DeliveryReceipt
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

func (r *DeliveryReceiptRepositoryImpl) Count(ctx context.Context, filter models.DeliveryReceiptFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.DeliveryReceipt{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
