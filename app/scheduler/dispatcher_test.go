package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welleazyhts/Renewal-Backend/app/queue"
	"github.com/welleazyhts/Renewal-Backend/app/services"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
)

// dispatchTaskRepo is an in-memory MessageTaskRepository recording the
// queue acknowledgements the dispatcher issues.
type dispatchTaskRepo struct {
	mu        sync.Mutex
	claimable []*models.MessageTask

	markedSending []uint
	accepted      map[uint]string
	released      []dispatchRelease
	failed        map[uint]models.TaskState
}

type dispatchRelease struct {
	taskID    uint
	bumpRetry bool
}

func newDispatchTaskRepo() *dispatchTaskRepo {
	return &dispatchTaskRepo{
		accepted: make(map[uint]string),
		failed:   make(map[uint]models.TaskState),
	}
}

func (f *dispatchTaskRepo) ByID(ctx context.Context, id uint) (*models.MessageTask, error) {
	return nil, nil
}

func (f *dispatchTaskRepo) ByFilter(ctx context.Context, filter models.MessageTaskFilter, orderBy string, limit, offset int) ([]*models.MessageTask, error) {
	return nil, nil
}

func (f *dispatchTaskRepo) Save(ctx context.Context, task *models.MessageTask) error {
	return nil
}

func (f *dispatchTaskRepo) Update(ctx context.Context, task *models.MessageTask) error {
	return nil
}

func (f *dispatchTaskRepo) SaveBatch(ctx context.Context, tasks []*models.MessageTask) error {
	return nil
}

func (f *dispatchTaskRepo) Count(ctx context.Context, filter models.MessageTaskFilter) (int64, error) {
	return 0, nil
}

func (f *dispatchTaskRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.MessageTask, error) {
	return nil, nil
}

func (f *dispatchTaskRepo) ByProviderMsgID(ctx context.Context, providerMsgID string) (*models.MessageTask, error) {
	return nil, nil
}

func (f *dispatchTaskRepo) FindActiveByDedup(ctx context.Context, campaignID, policyHolderID uint, channel models.Channel) (*models.MessageTask, error) {
	return nil, nil
}

func (f *dispatchTaskRepo) ClaimNext(ctx context.Context, channel models.Channel, token uuid.UUID, leaseUntil time.Time, excludedCampaigns []uint) (*models.MessageTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, task := range f.claimable {
		if task.Channel != channel {
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

func (f *dispatchTaskRepo) MarkSending(ctx context.Context, taskID uint, token uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedSending = append(f.markedSending, taskID)
	return nil
}

func (f *dispatchTaskRepo) RecordAccepted(ctx context.Context, taskID uint, token uuid.UUID, providerMsgID string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted[taskID] = providerMsgID
	return nil
}

func (f *dispatchTaskRepo) ReleaseForRetry(ctx context.Context, taskID uint, token uuid.UUID, visibleAt time.Time, bumpRetry bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, dispatchRelease{taskID: taskID, bumpRetry: bumpRetry})
	return nil
}

func (f *dispatchTaskRepo) FailLeased(ctx context.Context, taskID uint, token uuid.UUID, terminal models.TaskState, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[taskID] = terminal
	return nil
}

func (f *dispatchTaskRepo) RequeueExpired(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	return 0, nil
}

func (f *dispatchTaskRepo) ApplyReceiptTransition(ctx context.Context, taskID uint, to models.TaskState, reason *string, at time.Time) error {
	return nil
}

func (f *dispatchTaskRepo) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*models.MessageTask, error) {
	return nil, nil
}

func (f *dispatchTaskRepo) FailQueuedByCampaign(ctx context.Context, campaignID uint, reason string) (int64, error) {
	return 0, nil
}

func (f *dispatchTaskRepo) CountsByCampaign(ctx context.Context, campaignID uint) (*models.TaskStateCounts, error) {
	return &models.TaskStateCounts{}, nil
}

func (f *dispatchTaskRepo) acceptedID(taskID uint) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted[taskID]
}

func dispatchQueueConfig() config.QueueConfig {
	return config.QueueConfig{
		LeaseWindow: 2 * time.Minute,
		MaxAttempts: 3,
		BackoffBase: 10 * time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

func emailTask(id uint) *models.MessageTask {
	return &models.MessageTask{
		ID:             id,
		UUID:           uuid.New(),
		CampaignID:     1,
		PolicyHolderID: id,
		Channel:        models.ChannelEmail,
		Recipient:      "jane@example.com",
		Payload:        "Hi Jane",
		State:          models.TaskStateQueued,
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestProcessLeaseClassifications(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, task *models.MessageTask, results ...services.ProviderResult) (*dispatchTaskRepo, *services.MockChannelAdapter) {
		t.Helper()
		repo := newDispatchTaskRepo()
		client := queue.NewClient(repo, nil, nil, dispatchQueueConfig())
		adapter := services.NewMockChannelAdapter(models.ChannelEmail, results...)
		d := NewDispatcher(client, services.NewAdapterRegistry(adapter), quietLogger(), 1)

		d.processLease(ctx, models.ChannelEmail, &queue.Lease{Task: task, Token: uuid.New()})
		return repo, adapter
	}

	t.Run("AcceptedRecordsProviderID", func(t *testing.T) {
		task := emailTask(10)
		repo, adapter := run(t, task, services.ProviderResult{Classification: services.SendAccepted, ExternalID: "prov-1"})

		assert.Equal(t, []uint{task.ID}, repo.markedSending)
		assert.Equal(t, "prov-1", repo.accepted[task.ID])
		assert.Equal(t, 1, adapter.SentCount())
		assert.Empty(t, repo.released)
		assert.Empty(t, repo.failed)
	})

	t.Run("TransientRetriesWithBump", func(t *testing.T) {
		task := emailTask(11)
		repo, _ := run(t, task, services.ProviderResult{Classification: services.SendTransient, Detail: "provider 503"})

		require.Len(t, repo.released, 1)
		assert.True(t, repo.released[0].bumpRetry)
		assert.Empty(t, repo.failed)
	})

	t.Run("QuotaReleasesWithoutCharge", func(t *testing.T) {
		task := emailTask(12)
		task.RetryCount = 2 // would dead-letter if the release charged the budget
		repo, _ := run(t, task, services.ProviderResult{Classification: services.SendQuota, Detail: "429"})

		require.Len(t, repo.released, 1)
		assert.False(t, repo.released[0].bumpRetry)
		assert.Empty(t, repo.failed)
	})

	t.Run("PermanentFailsTask", func(t *testing.T) {
		task := emailTask(13)
		repo, _ := run(t, task, services.ProviderResult{Classification: services.SendPermanent, Detail: "hard bounce"})

		assert.Equal(t, models.TaskStateFailed, repo.failed[task.ID])
		assert.Empty(t, repo.released)
	})

	t.Run("TransientAtBudgetDeadLetters", func(t *testing.T) {
		task := emailTask(14)
		task.RetryCount = 2 // budget of 3: this attempt is the last
		repo, _ := run(t, task, services.ProviderResult{Classification: services.SendTransient, Detail: "provider 503"})

		assert.Equal(t, models.TaskStateDeadLettered, repo.failed[task.ID])
		assert.Empty(t, repo.released)
	})

	t.Run("UnknownClassificationRetries", func(t *testing.T) {
		task := emailTask(15)
		repo, _ := run(t, task, services.ProviderResult{Classification: "weird"})

		require.Len(t, repo.released, 1)
		assert.True(t, repo.released[0].bumpRetry)
	})

	t.Run("MissingAdapterRetries", func(t *testing.T) {
		task := emailTask(16)
		repo := newDispatchTaskRepo()
		client := queue.NewClient(repo, nil, nil, dispatchQueueConfig())
		d := NewDispatcher(client, services.NewAdapterRegistry(), quietLogger(), 1)

		d.processLease(ctx, models.ChannelEmail, &queue.Lease{Task: task, Token: uuid.New()})
		require.Len(t, repo.released, 1)
		assert.True(t, repo.released[0].bumpRetry)
	})
}

func TestDispatcherWorkersDrainQueue(t *testing.T) {
	repo := newDispatchTaskRepo()
	task := emailTask(20)
	repo.claimable = []*models.MessageTask{task}

	client := queue.NewClient(repo, nil, nil, dispatchQueueConfig())
	adapter := services.NewMockChannelAdapter(models.ChannelEmail,
		services.ProviderResult{Classification: services.SendAccepted, ExternalID: "prov-9"})
	d := NewDispatcher(client, services.NewAdapterRegistry(adapter), quietLogger(), 2)

	stop := d.Start(context.Background())
	defer stop()

	assert.Eventually(t, func() bool {
		return repo.acceptedID(task.ID) == "prov-9"
	}, 3*time.Second, 10*time.Millisecond)
}
