package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// CampaignJobRepositoryImpl implements CampaignJobRepository
type CampaignJobRepositoryImpl struct {
	*BaseRepository[models.CampaignJob, models.CampaignJobFilter]
}

func NewCampaignJobRepository(db *gorm.DB) CampaignJobRepository {
	return &CampaignJobRepositoryImpl{BaseRepository: NewBaseRepository[models.CampaignJob, models.CampaignJobFilter](db)}
}

func (r *CampaignJobRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.CampaignJob, error) {
	db := r.getDB(ctx)
	var row models.CampaignJob
	if err := db.Where("uuid = ?", id).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *CampaignJobRepositoryImpl) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.CampaignJob, error) {
	db := r.getDB(ctx)
	var rows []*models.CampaignJob
	q := db.Where("status = ? AND schedule_at <= ?", models.CampaignJobStatusScheduled, now).
		Order("schedule_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CampaignJobRepositoryImpl) ListByStatus(ctx context.Context, status models.CampaignJobStatus, limit int) ([]*models.CampaignJob, error) {
	filter := models.CampaignJobFilter{Status: &status}
	return r.ByFilter(ctx, filter, "id ASC", limit, 0)
}

// UpdateStatus performs a compare-and-set lifecycle transition; a stale
// `from` status means another actor already moved the campaign.
func (r *CampaignJobRepositoryImpl) UpdateStatus(ctx context.Context, campaignID uint, from, to models.CampaignJobStatus, failureReason *string) error {
	db := r.getDB(ctx)
	updates := map[string]any{
		"status":     to,
		"updated_at": utils.UTCNow(),
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}
	switch to {
	case models.CampaignJobStatusRunning:
		updates["started_at"] = utils.UTCNow()
	case models.CampaignJobStatusCompleted, models.CampaignJobStatusFailed:
		updates["completed_at"] = utils.UTCNow()
	}
	res := db.Model(&models.CampaignJob{}).
		Where("id = ? AND status = ?", campaignID, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update campaign status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("campaign %d is no longer in status %s", campaignID, from)
	}
	return nil
}

func (r *CampaignJobRepositoryImpl) UpdateCounters(ctx context.Context, campaignID uint, sent, failed, pending int64) error {
	db := r.getDB(ctx)
	res := db.Model(&models.CampaignJob{}).
		Where("id = ?", campaignID).
		Updates(map[string]any{
			"sent_count":    sent,
			"failed_count":  failed,
			"pending_count": pending,
			"updated_at":    utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update campaign counters: %w", res.Error)
	}
	return nil
}

func (r *CampaignJobRepositoryImpl) applyFilter(db *gorm.DB, f models.CampaignJobFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.Status != nil {
		db = db.Where("status = ?", *f.Status)
	}
	if f.ScheduleAfter != nil {
		db = db.Where("schedule_at >= ?", *f.ScheduleAfter)
	}
	if f.ScheduleBefore != nil {
		db = db.Where("schedule_at < ?", *f.ScheduleBefore)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}

func (r *CampaignJobRepositoryImpl) ByFilter(ctx context.Context, filter models.CampaignJobFilter, orderBy string, limit, offset int) ([]*models.CampaignJob, error) {
	db := r.getDB(ctx)
	var rows []*models.CampaignJob
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

func (r *CampaignJobRepositoryImpl) Count(ctx context.Context, filter models.CampaignJobFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.CampaignJob{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
