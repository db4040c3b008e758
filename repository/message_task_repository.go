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
	"gorm.io/gorm/clause"
)

// MessageTaskRepositoryImpl implements MessageTaskRepository
type MessageTaskRepositoryImpl struct {
	*BaseRepository[models.MessageTask, models.MessageTaskFilter]
}

func NewMessageTaskRepository(db *gorm.DB) MessageTaskRepository {
	return &MessageTaskRepositoryImpl{BaseRepository: NewBaseRepository[models.MessageTask, models.MessageTaskFilter](db)}
}

func (r *MessageTaskRepositoryImpl) ByUUID(ctx context.Context, id uuid.UUID) (*models.MessageTask, error) {
	db := r.getDB(ctx)
	var row models.MessageTask
	if err := db.Where("uuid = ?", id).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *MessageTaskRepositoryImpl) ByProviderMsgID(ctx context.Context, providerMsgID string) (*models.MessageTask, error) {
	db := r.getDB(ctx)
	var row models.MessageTask
	if err := db.Where("provider_msg_id = ?", providerMsgID).Last(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

var terminalTaskStates = []models.TaskState{
	models.TaskStateDelivered,
	models.TaskStateFailed,
	models.TaskStateDeadLettered,
}

func (r *MessageTaskRepositoryImpl) FindActiveByDedup(ctx context.Context, campaignID, policyHolderID uint, channel models.Channel) (*models.MessageTask, error) {
	db := r.getDB(ctx)
	var row models.MessageTask
	err := db.Where("campaign_id = ? AND policy_holder_id = ? AND channel = ? AND state NOT IN ?",
		campaignID, policyHolderID, channel, terminalTaskStates).
		Last(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ClaimNext leases the oldest visible queued task on the channel.
// FOR UPDATE SKIP LOCKED keeps concurrent workers from fighting over
// the same row.
func (r *MessageTaskRepositoryImpl) ClaimNext(ctx context.Context, channel models.Channel, token uuid.UUID, leaseUntil time.Time, excludedCampaigns []uint) (*models.MessageTask, error) {
	db := r.getDB(ctx)
	now := utils.UTCNow()

	var claimed *models.MessageTask
	err := db.Transaction(func(tx *gorm.DB) error {
		var row models.MessageTask
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("channel = ? AND state = ? AND visible_at <= ?", channel, models.TaskStateQueued, now)
		if len(excludedCampaigns) > 0 {
			q = q.Where("campaign_id NOT IN ?", excludedCampaigns)
		}
		if err := q.Order("visible_at ASC, id ASC").First(&row).Error; err != nil {
			return err
		}

		res := tx.Model(&models.MessageTask{}).
			Where("id = ? AND state = ?", row.ID, models.TaskStateQueued).
			Updates(map[string]any{
				"state":            models.TaskStateLeased,
				"lease_token":      token,
				"lease_expires_at": leaseUntil,
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		row.State = models.TaskStateLeased
		row.LeaseToken = &token
		row.LeaseExpiresAt = &leaseUntil
		claimed = &row
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return claimed, nil
}

func (r *MessageTaskRepositoryImpl) MarkSending(ctx context.Context, taskID uint, token uuid.UUID) error {
	db := r.getDB(ctx)
	res := db.Model(&models.MessageTask{}).
		Where("id = ? AND lease_token = ? AND state = ?", taskID, token, models.TaskStateLeased).
		Updates(map[string]any{
			"state":      models.TaskStateSending,
			"updated_at": utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark task sending: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *MessageTaskRepositoryImpl) RecordAccepted(ctx context.Context, taskID uint, token uuid.UUID, providerMsgID string, sentAt time.Time) error {
	db := r.getDB(ctx)
	res := db.Model(&models.MessageTask{}).
		Where("id = ? AND lease_token = ? AND state = ?", taskID, token, models.TaskStateSending).
		Updates(map[string]any{
			"provider_msg_id":  providerMsgID,
			"sent_at":          sentAt,
			"lease_token":      nil,
			"lease_expires_at": nil,
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record accepted send: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *MessageTaskRepositoryImpl) ReleaseForRetry(ctx context.Context, taskID uint, token uuid.UUID, visibleAt time.Time, bumpRetry bool) error {
	db := r.getDB(ctx)
	updates := map[string]any{
		"state":            models.TaskStateQueued,
		"visible_at":       visibleAt,
		"lease_token":      nil,
		"lease_expires_at": nil,
		"updated_at":       utils.UTCNow(),
	}
	if bumpRetry {
		updates["retry_count"] = gorm.Expr("retry_count + 1")
	}
	res := db.Model(&models.MessageTask{}).
		Where("id = ? AND lease_token = ? AND state IN ?", taskID, token,
			[]models.TaskState{models.TaskStateLeased, models.TaskStateSending}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to release task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *MessageTaskRepositoryImpl) FailLeased(ctx context.Context, taskID uint, token uuid.UUID, terminal models.TaskState, reason string) error {
	if !terminal.IsTerminal() {
		return ErrIllegalTransition
	}
	db := r.getDB(ctx)
	res := db.Model(&models.MessageTask{}).
		Where("id = ? AND lease_token = ? AND state IN ?", taskID, token,
			[]models.TaskState{models.TaskStateLeased, models.TaskStateSending}).
		Updates(map[string]any{
			"state":            terminal,
			"failure_reason":   reason,
			"lease_token":      nil,
			"lease_expires_at": nil,
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail leased task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (r *MessageTaskRepositoryImpl) RequeueExpired(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	db := r.getDB(ctx)

	// An expired lease spends an attempt like any other failure. Tasks
	// out of budget go to the dead letter state instead of looping back
	// into the queue.
	dead := db.Model(&models.MessageTask{}).
		Where("state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ? AND retry_count + 1 >= ?",
			models.TaskStateLeased, now, maxAttempts).
		Updates(map[string]any{
			"state":            models.TaskStateDeadLettered,
			"retry_count":      gorm.Expr("retry_count + 1"),
			"failure_reason":   "retry budget exhausted after lease expiry",
			"lease_token":      nil,
			"lease_expires_at": nil,
			"updated_at":       utils.UTCNow(),
		})
	if dead.Error != nil {
		return 0, fmt.Errorf("failed to dead-letter expired leases: %w", dead.Error)
	}

	res := db.Model(&models.MessageTask{}).
		Where("state = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?", models.TaskStateLeased, now).
		Updates(map[string]any{
			"state":            models.TaskStateQueued,
			"retry_count":      gorm.Expr("retry_count + 1"),
			"lease_token":      nil,
			"lease_expires_at": nil,
			"updated_at":       utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to requeue expired leases: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ApplyReceiptTransition guards the monotonic-state invariant at the
// database level: the update matches only the states the transition is
// legal from, so a receipt can never move a task out of a terminal state.
func (r *MessageTaskRepositoryImpl) ApplyReceiptTransition(ctx context.Context, taskID uint, to models.TaskState, reason *string, at time.Time) error {
	var fromStates []models.TaskState
	updates := map[string]any{
		"state":      to,
		"updated_at": utils.UTCNow(),
	}
	switch to {
	case models.TaskStateSent:
		fromStates = []models.TaskState{models.TaskStateSending}
	case models.TaskStateDelivered:
		fromStates = []models.TaskState{models.TaskStateSent}
		updates["delivered_at"] = at
	case models.TaskStateFailed:
		fromStates = []models.TaskState{
			models.TaskStateQueued, models.TaskStateLeased,
			models.TaskStateSending, models.TaskStateSent,
		}
		if reason != nil {
			updates["failure_reason"] = *reason
		}
	default:
		return ErrIllegalTransition
	}

	db := r.getDB(ctx)
	res := db.Model(&models.MessageTask{}).
		Where("id = ? AND state IN ?", taskID, fromStates).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to apply receipt transition: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrIllegalTransition
	}
	return nil
}

func (r *MessageTaskRepositoryImpl) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*models.MessageTask, error) {
	db := r.getDB(ctx)
	var rows []*models.MessageTask
	q := db.Where("state IN ? AND updated_at <= ?",
		[]models.TaskState{models.TaskStateSending, models.TaskStateSent}, olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *MessageTaskRepositoryImpl) FailQueuedByCampaign(ctx context.Context, campaignID uint, reason string) (int64, error) {
	db := r.getDB(ctx)
	res := db.Model(&models.MessageTask{}).
		Where("campaign_id = ? AND state = ?", campaignID, models.TaskStateQueued).
		Updates(map[string]any{
			"state":          models.TaskStateFailed,
			"failure_reason": reason,
			"updated_at":     utils.UTCNow(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail queued tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *MessageTaskRepositoryImpl) CountsByCampaign(ctx context.Context, campaignID uint) (*models.TaskStateCounts, error) {
	db := r.getDB(ctx)
	type stateCount struct {
		State models.TaskState
		Count int64
	}
	var rows []stateCount
	err := db.Model(&models.MessageTask{}).
		Select("state, COUNT(*) AS count").
		Where("campaign_id = ?", campaignID).
		Group("state").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate task counts: %w", err)
	}

	counts := &models.TaskStateCounts{}
	for _, rc := range rows {
		switch rc.State {
		case models.TaskStateQueued:
			counts.Queued = rc.Count
		case models.TaskStateLeased:
			counts.Leased = rc.Count
		case models.TaskStateSending:
			counts.Sending = rc.Count
		case models.TaskStateSent:
			counts.Sent = rc.Count
		case models.TaskStateDelivered:
			counts.Delivered = rc.Count
		case models.TaskStateFailed:
			counts.Failed = rc.Count
		case models.TaskStateDeadLettered:
			counts.DeadLettered = rc.Count
		}
	}
	return counts, nil
}

func (r *MessageTaskRepositoryImpl) applyFilter(db *gorm.DB, f models.MessageTaskFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.CampaignID != nil {
		db = db.Where("campaign_id = ?", *f.CampaignID)
	}
	if f.PolicyHolderID != nil {
		db = db.Where("policy_holder_id = ?", *f.PolicyHolderID)
	}
	if f.Channel != nil {
		db = db.Where("channel = ?", *f.Channel)
	}
	if f.State != nil {
		db = db.Where("state = ?", *f.State)
	}
	if f.ProviderMsgID != nil {
		db = db.Where("provider_msg_id = ?", *f.ProviderMsgID)
	}
	return db
}

func (r *MessageTaskRepositoryImpl) ByFilter(ctx context.Context, filter models.MessageTaskFilter, orderBy string, limit, offset int) ([]*models.MessageTask, error) {
	db := r.getDB(ctx)
	var rows []*models.MessageTask
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

func (r *MessageTaskRepositoryImpl) Count(ctx context.Context, filter models.MessageTaskFilter) (int64, error) {
	db := r.getDB(ctx)
	var count int64
	if err := r.applyFilter(db.Model(&models.MessageTask{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
