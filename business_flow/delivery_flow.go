// Package businessflow contains the core business logic and use cases for delivery tracking workflows
package businessflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/welleazyhts/Renewal-Backend/app/dto"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// DeliveryFlow handles provider delivery callbacks and reconciliation
type DeliveryFlow interface {
	HandleReceipt(ctx context.Context, req *dto.DeliveryWebhookRequest) (*dto.DeliveryWebhookResponse, error)
	// ReconcileStuck fails tasks that sat in sending or sent beyond the
	// delivery SLA without a final receipt.
	ReconcileStuck(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// DeliveryFlowImpl implements the delivery tracking business flow
type DeliveryFlowImpl struct {
	taskRepo    repository.MessageTaskRepository
	receiptRepo repository.DeliveryReceiptRepository
}

// NewDeliveryFlow creates a new delivery flow instance
func NewDeliveryFlow(
	taskRepo repository.MessageTaskRepository,
	receiptRepo repository.DeliveryReceiptRepository,
) DeliveryFlow {
	return &DeliveryFlowImpl{
		taskRepo:    taskRepo,
		receiptRepo: receiptRepo,
	}
}

// HandleReceipt correlates a provider callback to its message task,
// records the receipt and advances the task state. Receipts for unknown
// message ids are logged and acknowledged so providers stop retrying.
// Out-of-order and duplicate receipts are no-ops: task states only move
// forward.
func (s *DeliveryFlowImpl) HandleReceipt(ctx context.Context, req *dto.DeliveryWebhookRequest) (*dto.DeliveryWebhookResponse, error) {
	status := models.ReceiptStatus(req.Status)
	if !status.Valid() {
		return nil, NewBusinessError("RECEIPT_VALIDATION_FAILED", "Receipt validation failed",
			fmt.Errorf("unknown receipt status %q", req.Status))
	}

	task, err := s.taskRepo.ByProviderMsgID(ctx, req.ExternalID)
	if err != nil {
		return nil, NewBusinessError("RECEIPT_LOOKUP_FAILED", "Failed to correlate receipt", err)
	}
	if task == nil {
		log.Printf("orphaned delivery receipt: provider=%s external_id=%s status=%s",
			req.Provider, req.ExternalID, req.Status)
		return &dto.DeliveryWebhookResponse{Message: "Receipt ignored: unknown message id"}, nil
	}

	occurredAt := utils.UTCNow()
	if req.OccurredAt != nil {
		occurredAt = utils.TimeToUTC(*req.OccurredAt)
	}

	raw, _ := json.Marshal(req)
	receipt := &models.DeliveryReceipt{
		MessageTaskID: task.ID,
		Provider:      req.Provider,
		ExternalID:    req.ExternalID,
		Status:        status,
		OccurredAt:    occurredAt,
		Raw:           raw,
	}
	if err := s.receiptRepo.Save(ctx, receipt); err != nil {
		return nil, NewBusinessError("RECEIPT_PERSIST_FAILED", "Failed to record receipt", err)
	}

	if err := s.advanceTask(ctx, task, status, req.Reason, occurredAt); err != nil {
		if errors.Is(err, repository.ErrIllegalTransition) {
			// Late or duplicate receipt; the recorded receipt keeps the
			// audit trail, the task state stays where it is.
			log.Printf("receipt for task %s ignored: %s receipt in state %s",
				task.UUID, status, task.State)
			return &dto.DeliveryWebhookResponse{Message: "Receipt recorded; task state unchanged"}, nil
		}
		return nil, NewBusinessError("RECEIPT_TRANSITION_FAILED", "Failed to apply receipt", err)
	}
	return &dto.DeliveryWebhookResponse{Message: "Receipt processed"}, nil
}

// advanceTask maps the receipt status onto the task state machine. A
// delivered receipt arriving while the task is still in sending first
// applies the implied sent step.
func (s *DeliveryFlowImpl) advanceTask(ctx context.Context, task *models.MessageTask, status models.ReceiptStatus, reason string, at time.Time) error {
	switch status {
	case models.ReceiptStatusAccepted:
		return s.taskRepo.ApplyReceiptTransition(ctx, task.ID, models.TaskStateSent, nil, at)
	case models.ReceiptStatusDelivered:
		if task.State == models.TaskStateSending {
			if err := s.taskRepo.ApplyReceiptTransition(ctx, task.ID, models.TaskStateSent, nil, at); err != nil &&
				!errors.Is(err, repository.ErrIllegalTransition) {
				return err
			}
		}
		return s.taskRepo.ApplyReceiptTransition(ctx, task.ID, models.TaskStateDelivered, nil, at)
	case models.ReceiptStatusFailed:
		var failureReason *string
		if reason != "" {
			failureReason = utils.ToPtr(reason)
		}
		return s.taskRepo.ApplyReceiptTransition(ctx, task.ID, models.TaskStateFailed, failureReason, at)
	default:
		return repository.ErrIllegalTransition
	}
}

// ReconcileStuck sweeps tasks waiting on a final receipt past the SLA
// and fails them with a distinguishable reason.
func (s *DeliveryFlowImpl) ReconcileStuck(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stuck, err := s.taskRepo.ListStuck(ctx, olderThan, limit)
	if err != nil {
		return 0, NewBusinessError("RECONCILIATION_FAILED", "Failed to list stuck tasks", err)
	}

	reason := utils.ToPtr("delivery-unknown-timeout")
	failed := 0
	for _, task := range stuck {
		err := s.taskRepo.ApplyReceiptTransition(ctx, task.ID, models.TaskStateFailed, reason, utils.UTCNow())
		if err != nil {
			if errors.Is(err, repository.ErrIllegalTransition) {
				// A receipt won the race; nothing to do
				continue
			}
			return failed, NewBusinessError("RECONCILIATION_FAILED", "Failed to time out stuck task", err)
		}
		failed++
		log.Printf("task %s timed out waiting for delivery receipt", task.UUID)
	}
	return failed, nil
}
