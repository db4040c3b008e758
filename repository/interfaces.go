// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

// Errors surfaced by optimistic queue operations
var (
	// ErrLeaseLost is returned when an acknowledge or release targets a
	// lease that already expired and was reclaimed by another worker.
	ErrLeaseLost = errors.New("lease lost")

	// ErrIllegalTransition is returned when a state change would move a
	// task out of a terminal state or skip the allowed ordering.
	ErrIllegalTransition = errors.New("illegal task state transition")
)

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	Update(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
}

// UploadJobRepository defines operations for upload jobs
type UploadJobRepository interface {
	Repository[models.UploadJob, models.UploadJobFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.UploadJob, error)
	// IncrementCounters atomically adds to the validated/failed counters.
	IncrementCounters(ctx context.Context, jobID uint, validatedDelta, failedDelta int64) error
}

// RowResultRepository defines operations for row results
type RowResultRepository interface {
	Repository[models.RowResult, models.RowResultFilter]
	ListByUploadJob(ctx context.Context, uploadJobID uint, limit, offset int) ([]*models.RowResult, error)
}

// PolicyHolderRepository defines operations for the policy holder dataset
type PolicyHolderRepository interface {
	Repository[models.PolicyHolder, models.PolicyHolderFilter]
	ByPolicyNumber(ctx context.Context, policyNumber string) (*models.PolicyHolder, error)
	// UpsertBatch inserts or updates holders keyed by policy number.
	UpsertBatch(ctx context.Context, holders []*models.PolicyHolder) error
}

// CampaignJobRepository defines operations for campaign jobs
type CampaignJobRepository interface {
	Repository[models.CampaignJob, models.CampaignJobFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.CampaignJob, error)
	// ListDueScheduled returns scheduled campaigns whose schedule time has passed.
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.CampaignJob, error)
	ListByStatus(ctx context.Context, status models.CampaignJobStatus, limit int) ([]*models.CampaignJob, error)
	// UpdateStatus applies a guarded lifecycle transition.
	UpdateStatus(ctx context.Context, campaignID uint, from, to models.CampaignJobStatus, failureReason *string) error
	// UpdateCounters overwrites the cached aggregate counters.
	UpdateCounters(ctx context.Context, campaignID uint, sent, failed, pending int64) error
}

// MessageTaskRepository defines operations for message tasks, including
// the lease-based queue primitives used by the dispatch workers.
type MessageTaskRepository interface {
	Repository[models.MessageTask, models.MessageTaskFilter]
	ByUUID(ctx context.Context, uuid uuid.UUID) (*models.MessageTask, error)
	ByProviderMsgID(ctx context.Context, providerMsgID string) (*models.MessageTask, error)
	// FindActiveByDedup returns the non-terminal task holding the dedup
	// key (campaign, policy holder, channel), or nil.
	FindActiveByDedup(ctx context.Context, campaignID, policyHolderID uint, channel models.Channel) (*models.MessageTask, error)
	// ClaimNext atomically leases the oldest visible queued task on the
	// channel, skipping the excluded (paused) campaigns. Returns nil when
	// nothing is claimable.
	ClaimNext(ctx context.Context, channel models.Channel, token uuid.UUID, leaseUntil time.Time, excludedCampaigns []uint) (*models.MessageTask, error)
	// MarkSending moves a leased task to sending; the lease stays held.
	MarkSending(ctx context.Context, taskID uint, token uuid.UUID) error
	// RecordAccepted stores the provider message id after an accepted
	// send and releases the lease; the task stays in sending until a
	// receipt arrives.
	RecordAccepted(ctx context.Context, taskID uint, token uuid.UUID, providerMsgID string, sentAt time.Time) error
	// ReleaseForRetry returns a leased/sending task to queued with a
	// delayed visibility, optionally incrementing the retry counter.
	ReleaseForRetry(ctx context.Context, taskID uint, token uuid.UUID, visibleAt time.Time, bumpRetry bool) error
	// FailLeased resolves a leased/sending task to failed or dead_lettered.
	FailLeased(ctx context.Context, taskID uint, token uuid.UUID, terminal models.TaskState, reason string) error
	// RequeueExpired returns leased tasks whose lease window lapsed to
	// queued, incrementing their retry counters. Tasks whose bumped
	// counter reaches maxAttempts are dead-lettered instead.
	RequeueExpired(ctx context.Context, now time.Time, maxAttempts int) (int64, error)
	// ApplyReceiptTransition performs a guarded state transition driven
	// by a delivery receipt.
	ApplyReceiptTransition(ctx context.Context, taskID uint, to models.TaskState, reason *string, at time.Time) error
	// ListStuck returns tasks sitting in sending/sent longer than the SLA.
	ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*models.MessageTask, error)
	// FailQueuedByCampaign terminally fails every still-queued task of a campaign.
	FailQueuedByCampaign(ctx context.Context, campaignID uint, reason string) (int64, error)
	// CountsByCampaign aggregates task counts per state.
	CountsByCampaign(ctx context.Context, campaignID uint) (*models.TaskStateCounts, error)
}

// DeliveryReceiptRepository defines operations for delivery receipts
type DeliveryReceiptRepository interface {
	Repository[models.DeliveryReceipt, models.DeliveryReceiptFilter]
	ListByTask(ctx context.Context, messageTaskID uint) ([]*models.DeliveryReceipt, error)
}
