package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
)

// fakeTaskRepo is an in-memory MessageTaskRepository covering the queue
// operations the client exercises.
type fakeTaskRepo struct {
	active    map[[3]uint64]*models.MessageTask
	saved     []*models.MessageTask
	claimable []*models.MessageTask
	leased    []*models.MessageTask

	markedSending []uint
	accepted      map[uint]string
	released      []releaseCall
	failed        map[uint]models.TaskState
}

type releaseCall struct {
	taskID    uint
	visibleAt time.Time
	bumpRetry bool
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{
		active:   make(map[[3]uint64]*models.MessageTask),
		accepted: make(map[uint]string),
		failed:   make(map[uint]models.TaskState),
	}
}

func dedupKey(campaignID, holderID uint, ch models.Channel) [3]uint64 {
	var chBits uint64
	for _, r := range ch {
		chBits = chBits*31 + uint64(r)
	}
	return [3]uint64{uint64(campaignID), uint64(holderID), chBits}
}

func (f *fakeTaskRepo) ByID(ctx context.Context, id uint) (*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) ByFilter(ctx context.Context, filter models.MessageTaskFilter, orderBy string, limit, offset int) ([]*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) Save(ctx context.Context, task *models.MessageTask) error {
	f.saved = append(f.saved, task)
	f.active[dedupKey(task.CampaignID, task.PolicyHolderID, task.Channel)] = task
	return nil
}

func (f *fakeTaskRepo) Update(ctx context.Context, task *models.MessageTask) error {
	return nil
}

func (f *fakeTaskRepo) SaveBatch(ctx context.Context, tasks []*models.MessageTask) error {
	for _, task := range tasks {
		if err := f.Save(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTaskRepo) Count(ctx context.Context, filter models.MessageTaskFilter) (int64, error) {
	return int64(len(f.saved)), nil
}

func (f *fakeTaskRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) ByProviderMsgID(ctx context.Context, providerMsgID string) (*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) FindActiveByDedup(ctx context.Context, campaignID, policyHolderID uint, channel models.Channel) (*models.MessageTask, error) {
	return f.active[dedupKey(campaignID, policyHolderID, channel)], nil
}

func (f *fakeTaskRepo) ClaimNext(ctx context.Context, channel models.Channel, token uuid.UUID, leaseUntil time.Time, excludedCampaigns []uint) (*models.MessageTask, error) {
	excluded := make(map[uint]struct{}, len(excludedCampaigns))
	for _, id := range excludedCampaigns {
		excluded[id] = struct{}{}
	}
	for i, task := range f.claimable {
		if task.Channel != channel {
			continue
		}
		if _, skip := excluded[task.CampaignID]; skip {
			continue
		}
		f.claimable = append(f.claimable[:i], f.claimable[i+1:]...)
		task.State = models.TaskStateLeased
		task.LeaseToken = &token
		task.LeaseExpiresAt = &leaseUntil
		return task, nil
	}
	return nil, nil
}

func (f *fakeTaskRepo) MarkSending(ctx context.Context, taskID uint, token uuid.UUID) error {
	f.markedSending = append(f.markedSending, taskID)
	return nil
}

func (f *fakeTaskRepo) RecordAccepted(ctx context.Context, taskID uint, token uuid.UUID, providerMsgID string, sentAt time.Time) error {
	f.accepted[taskID] = providerMsgID
	return nil
}

func (f *fakeTaskRepo) ReleaseForRetry(ctx context.Context, taskID uint, token uuid.UUID, visibleAt time.Time, bumpRetry bool) error {
	f.released = append(f.released, releaseCall{taskID: taskID, visibleAt: visibleAt, bumpRetry: bumpRetry})
	return nil
}

func (f *fakeTaskRepo) FailLeased(ctx context.Context, taskID uint, token uuid.UUID, terminal models.TaskState, reason string) error {
	f.failed[taskID] = terminal
	return nil
}

func (f *fakeTaskRepo) RequeueExpired(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	var requeued int64
	for _, task := range f.leased {
		if task.State != models.TaskStateLeased || task.LeaseExpiresAt == nil || task.LeaseExpiresAt.After(now) {
			continue
		}
		task.RetryCount++
		task.LeaseToken = nil
		task.LeaseExpiresAt = nil
		if task.RetryCount >= maxAttempts {
			task.State = models.TaskStateDeadLettered
			continue
		}
		task.State = models.TaskStateQueued
		requeued++
	}
	return requeued, nil
}

func (f *fakeTaskRepo) ApplyReceiptTransition(ctx context.Context, taskID uint, to models.TaskState, reason *string, at time.Time) error {
	return nil
}

func (f *fakeTaskRepo) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeTaskRepo) FailQueuedByCampaign(ctx context.Context, campaignID uint, reason string) (int64, error) {
	return 0, nil
}

func (f *fakeTaskRepo) CountsByCampaign(ctx context.Context, campaignID uint) (*models.TaskStateCounts, error) {
	return &models.TaskStateCounts{}, nil
}

func testQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		LeaseWindow: 2 * time.Minute,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

func task(campaignID, holderID uint, ch models.Channel) *models.MessageTask {
	return &models.MessageTask{
		ID:             holderID,
		CampaignID:     campaignID,
		PolicyHolderID: holderID,
		Channel:        ch,
		Recipient:      "someone@example.com",
		Payload:        "hello",
		State:          models.TaskStateQueued,
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	repo := newFakeTaskRepo()
	client := NewClient(repo, nil, nil, testQueueConfig())
	ctx := context.Background()

	first, inserted, err := client.Enqueue(ctx, task(1, 10, models.ChannelEmail))
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NotNil(t, first)

	// Same campaign, holder and channel: skipped, the existing task
	// comes back for correlation.
	dup, inserted, err := client.Enqueue(ctx, task(1, 10, models.ChannelEmail))
	require.NoError(t, err)
	assert.False(t, inserted)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)

	// Different channel is a distinct dedup key.
	_, inserted, err = client.Enqueue(ctx, task(1, 10, models.ChannelSMS))
	require.NoError(t, err)
	assert.True(t, inserted)

	assert.Len(t, repo.saved, 2)
}

func TestEnqueueBatchSkipsActiveDuplicates(t *testing.T) {
	repo := newFakeTaskRepo()
	client := NewClient(repo, nil, nil, testQueueConfig())
	ctx := context.Background()

	_, _, err := client.Enqueue(ctx, task(1, 10, models.ChannelEmail))
	require.NoError(t, err)

	n, err := client.EnqueueBatch(ctx, []*models.MessageTask{
		task(1, 10, models.ChannelEmail),
		task(1, 11, models.ChannelEmail),
		task(1, 12, models.ChannelEmail),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, repo.saved, 3)
}

func TestLeaseClaimsPerChannel(t *testing.T) {
	repo := newFakeTaskRepo()
	repo.claimable = []*models.MessageTask{
		task(1, 10, models.ChannelSMS),
		task(1, 11, models.ChannelEmail),
	}
	client := NewClient(repo, nil, nil, testQueueConfig())

	lease, err := client.Lease(context.Background(), models.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, uint(11), lease.Task.PolicyHolderID)
	assert.NotEqual(t, uuid.Nil, lease.Token)
	assert.Equal(t, models.TaskStateLeased, lease.Task.State)

	// Nothing left on the email channel.
	lease, err = client.Lease(context.Background(), models.ChannelEmail)
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestRetryBacksOffThenDeadLetters(t *testing.T) {
	repo := newFakeTaskRepo()
	client := NewClient(repo, nil, nil, testQueueConfig())
	ctx := context.Background()

	tk := task(1, 10, models.ChannelEmail)
	lease := &Lease{Task: tk, Token: uuid.New()}

	tk.RetryCount = 0
	require.NoError(t, client.Retry(ctx, lease, "provider 503"))
	require.Len(t, repo.released, 1)
	assert.True(t, repo.released[0].bumpRetry)
	assert.True(t, repo.released[0].visibleAt.After(time.Now().UTC()))

	// Third attempt exhausts the budget of 3.
	tk.RetryCount = 2
	require.NoError(t, client.Retry(ctx, lease, "provider 503"))
	assert.Equal(t, models.TaskStateDeadLettered, repo.failed[tk.ID])
}

func TestReleaseThrottledDoesNotChargeRetries(t *testing.T) {
	repo := newFakeTaskRepo()
	client := NewClient(repo, nil, nil, testQueueConfig())

	tk := task(1, 10, models.ChannelEmail)
	tk.RetryCount = 2 // would dead-letter if this counted as a retry
	lease := &Lease{Task: tk, Token: uuid.New()}

	require.NoError(t, client.ReleaseThrottled(context.Background(), lease, 0))
	require.Len(t, repo.released, 1)
	assert.False(t, repo.released[0].bumpRetry)
	assert.Empty(t, repo.failed)
}

func TestAckAndFail(t *testing.T) {
	repo := newFakeTaskRepo()
	client := NewClient(repo, nil, nil, testQueueConfig())
	ctx := context.Background()

	tk := task(1, 10, models.ChannelEmail)
	lease := &Lease{Task: tk, Token: uuid.New()}

	require.NoError(t, client.MarkSending(ctx, lease))
	assert.Equal(t, []uint{tk.ID}, repo.markedSending)

	require.NoError(t, client.Ack(ctx, lease, "prov-123"))
	assert.Equal(t, "prov-123", repo.accepted[tk.ID])

	require.NoError(t, client.Fail(ctx, lease, "hard bounce"))
	assert.Equal(t, models.TaskStateFailed, repo.failed[tk.ID])
}

func TestRequeueExpiredDeadLettersExhausted(t *testing.T) {
	repo := newFakeTaskRepo()
	client := NewClient(repo, nil, nil, testQueueConfig())

	expired := time.Now().UTC().Add(-time.Minute)
	token := uuid.New()

	fresh := task(1, 10, models.ChannelEmail)
	fresh.State = models.TaskStateLeased
	fresh.RetryCount = 0
	fresh.LeaseToken = &token
	fresh.LeaseExpiresAt = &expired

	// One more attempt would hit the budget of 3.
	exhausted := task(1, 11, models.ChannelEmail)
	exhausted.State = models.TaskStateLeased
	exhausted.RetryCount = 2
	exhausted.LeaseToken = &token
	exhausted.LeaseExpiresAt = &expired

	repo.leased = []*models.MessageTask{fresh, exhausted}

	n, err := client.RequeueExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.Equal(t, models.TaskStateQueued, fresh.State)
	assert.Equal(t, 1, fresh.RetryCount)
	assert.Nil(t, fresh.LeaseToken)

	assert.Equal(t, models.TaskStateDeadLettered, exhausted.State)
	assert.Equal(t, 3, exhausted.RetryCount)
}

func TestBackoffFor(t *testing.T) {
	cfg := testQueueConfig()
	client := NewClient(newFakeTaskRepo(), nil, nil, cfg)

	for attempt, base := range map[int]time.Duration{
		1: 10 * time.Second,
		2: 20 * time.Second,
		3: 40 * time.Second,
		4: 80 * time.Second,
	} {
		got := client.BackoffFor(attempt)
		assert.GreaterOrEqual(t, got, base, "attempt %d", attempt)
		assert.LessOrEqual(t, got, base+base/4, "attempt %d", attempt)
	}

	// Far past the cap: jitter on top of BackoffMax.
	got := client.BackoffFor(20)
	assert.GreaterOrEqual(t, got, cfg.BackoffMax)
	assert.LessOrEqual(t, got, cfg.BackoffMax+cfg.BackoffMax/4)

	// Attempts below one clamp to the base delay.
	got = client.BackoffFor(0)
	assert.GreaterOrEqual(t, got, cfg.BackoffBase)
}

func TestChannelLimiter(t *testing.T) {
	limiter := NewChannelLimiter()
	limiter.SetLimit(models.ChannelSMS, 1)

	// First token is available immediately, the second is not.
	assert.True(t, limiter.Allow(models.ChannelSMS))
	assert.False(t, limiter.Allow(models.ChannelSMS))

	// Unconfigured channels are unthrottled.
	assert.True(t, limiter.Allow(models.ChannelEmail))
	assert.True(t, limiter.Allow(models.ChannelEmail))
}
