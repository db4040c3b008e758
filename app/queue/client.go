// Package queue provides the lease-based dispatch queue built on the
// message task table, plus the pause flags and per-channel rate limits
// that gate claiming.
package queue

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// Lease couples a claimed task with the token that must accompany every
// acknowledge or release for it.
type Lease struct {
	Task  *models.MessageTask
	Token uuid.UUID
}

// Client is the queue facade used by the fan-out flow and the dispatch
// workers. All persistence goes through the message task repository;
// redis only carries the pause flags.
type Client struct {
	taskRepo repository.MessageTaskRepository
	pauses   *PauseStore
	limiter  *ChannelLimiter
	cfg      config.QueueConfig
}

func NewClient(taskRepo repository.MessageTaskRepository, pauses *PauseStore, limiter *ChannelLimiter, cfg config.QueueConfig) *Client {
	if cfg.LeaseWindow <= 0 {
		cfg.LeaseWindow = utils.DefaultLeaseWindow
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = utils.DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = utils.DefaultBackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = utils.DefaultBackoffMax
	}
	return &Client{taskRepo: taskRepo, pauses: pauses, limiter: limiter, cfg: cfg}
}

// Enqueue inserts the task unless an equivalent non-terminal task
// already exists. On a dedup hit the existing task is returned with
// inserted=false so callers can correlate against it.
func (c *Client) Enqueue(ctx context.Context, task *models.MessageTask) (*models.MessageTask, bool, error) {
	existing, err := c.taskRepo.FindActiveByDedup(ctx, task.CampaignID, task.PolicyHolderID, task.Channel)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for duplicate task: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}
	if err := c.taskRepo.Save(ctx, task); err != nil {
		return nil, false, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return task, true, nil
}

// EnqueueBatch inserts every task whose dedup key is not already active.
// Returns the number of tasks inserted.
func (c *Client) EnqueueBatch(ctx context.Context, tasks []*models.MessageTask) (int, error) {
	fresh := make([]*models.MessageTask, 0, len(tasks))
	for _, task := range tasks {
		existing, err := c.taskRepo.FindActiveByDedup(ctx, task.CampaignID, task.PolicyHolderID, task.Channel)
		if err != nil {
			return 0, fmt.Errorf("failed to check for duplicate task: %w", err)
		}
		if existing != nil {
			continue
		}
		fresh = append(fresh, task)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := c.taskRepo.SaveBatch(ctx, fresh); err != nil {
		return 0, fmt.Errorf("failed to enqueue tasks: %w", err)
	}
	return len(fresh), nil
}

// Lease claims the next visible task on the channel. Returns nil when
// the channel bucket is empty, everything claimable belongs to a paused
// campaign, or the queue has no visible work.
func (c *Client) Lease(ctx context.Context, channel models.Channel) (*Lease, error) {
	if c.limiter != nil && !c.limiter.Allow(channel) {
		return nil, nil
	}
	var excluded []uint
	if c.pauses != nil {
		ids, err := c.pauses.PausedCampaigns(ctx)
		if err != nil {
			return nil, err
		}
		excluded = ids
	}
	token := uuid.New()
	leaseUntil := utils.UTCNow().Add(c.cfg.LeaseWindow)
	task, err := c.taskRepo.ClaimNext(ctx, channel, token, leaseUntil, excluded)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, nil
	}
	return &Lease{Task: task, Token: token}, nil
}

// MarkSending moves the leased task to sending before the provider call.
func (c *Client) MarkSending(ctx context.Context, lease *Lease) error {
	return c.taskRepo.MarkSending(ctx, lease.Task.ID, lease.Token)
}

// Ack records the provider acceptance and releases the lease. The task
// stays in sending until a receipt confirms the handoff.
func (c *Client) Ack(ctx context.Context, lease *Lease, providerMsgID string) error {
	return c.taskRepo.RecordAccepted(ctx, lease.Task.ID, lease.Token, providerMsgID, utils.UTCNow())
}

// Retry returns the task to the queue with exponential backoff and a
// bumped retry counter. Once the attempt budget is spent the task is
// dead-lettered instead.
func (c *Client) Retry(ctx context.Context, lease *Lease, reason string) error {
	attempt := lease.Task.RetryCount + 1
	if attempt >= c.cfg.MaxAttempts {
		return c.taskRepo.FailLeased(ctx, lease.Task.ID, lease.Token, models.TaskStateDeadLettered, reason)
	}
	visibleAt := utils.UTCNow().Add(c.BackoffFor(attempt))
	return c.taskRepo.ReleaseForRetry(ctx, lease.Task.ID, lease.Token, visibleAt, true)
}

// ReleaseThrottled returns the task to the queue without charging the
// retry budget. Used when a provider quota rejects the attempt.
func (c *Client) ReleaseThrottled(ctx context.Context, lease *Lease, delay time.Duration) error {
	if delay <= 0 {
		delay = c.cfg.BackoffBase
	}
	visibleAt := utils.UTCNow().Add(delay)
	return c.taskRepo.ReleaseForRetry(ctx, lease.Task.ID, lease.Token, visibleAt, false)
}

// Fail terminally fails the leased task.
func (c *Client) Fail(ctx context.Context, lease *Lease, reason string) error {
	return c.taskRepo.FailLeased(ctx, lease.Task.ID, lease.Token, models.TaskStateFailed, reason)
}

// RequeueExpired reclaims tasks whose workers went silent past the
// lease window. Tasks that burned their last attempt on the expired
// lease are dead-lettered rather than requeued.
func (c *Client) RequeueExpired(ctx context.Context) (int64, error) {
	return c.taskRepo.RequeueExpired(ctx, utils.UTCNow(), c.cfg.MaxAttempts)
}

// BackoffFor computes the delay before the given attempt, capped and
// jittered so retry storms spread out.
func (c *Client) BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := c.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(backoff)/4 + 1))
	return backoff + jitter
}

// MaxAttempts exposes the configured attempt budget.
func (c *Client) MaxAttempts() int {
	return c.cfg.MaxAttempts
}

// Pauses exposes the pause store for the campaign flow.
func (c *Client) Pauses() *PauseStore {
	return c.pauses
}
