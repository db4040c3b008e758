package businessflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welleazyhts/Renewal-Backend/app/dto"
	"github.com/welleazyhts/Renewal-Backend/app/queue"
	"github.com/welleazyhts/Renewal-Backend/app/services"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

type campaignFixture struct {
	flow         CampaignFlow
	campaignRepo *fakeCampaignRepo
	holderRepo   *fakeHolderRepo
	taskRepo     *fakeFlowTaskRepo
	notifier     *services.MockProgressNotifier
}

func newCampaignFixture(cfg config.QueueConfig) *campaignFixture {
	campaignRepo := newFakeCampaignRepo()
	holderRepo := &fakeHolderRepo{}
	taskRepo := newFakeFlowTaskRepo()
	notifier := services.NewMockProgressNotifier()
	client := queue.NewClient(taskRepo, queue.NewPauseStore(nil, ""), nil, cfg)
	return &campaignFixture{
		flow:         NewCampaignFlow(campaignRepo, holderRepo, taskRepo, client, notifier, cfg, nil),
		campaignRepo: campaignRepo,
		holderRepo:   holderRepo,
		taskRepo:     taskRepo,
		notifier:     notifier,
	}
}

func (f *campaignFixture) seedCampaign(status models.CampaignJobStatus) *models.CampaignJob {
	campaign := &models.CampaignJob{
		Name:         "September renewals",
		Channels:     []string{"email"},
		TemplateBody: "Hi {{name}}, your policy {{policy_number}} is due.",
		Timezone:     "UTC",
		Status:       status,
		ScheduleAt:   time.Now().UTC(),
	}
	_ = f.campaignRepo.Save(context.Background(), campaign)
	return campaign
}

func validCreateRequest() *dto.CreateCampaignRequest {
	return &dto.CreateCampaignRequest{
		Name:         "September renewals",
		Channels:     []string{"email", "sms"},
		TemplateBody: "Hi {{name}}, policy {{policy_number}} renews soon.",
	}
}

func TestCreateCampaign(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	ctx := context.Background()

	t.Run("DraftWhenUnscheduled", func(t *testing.T) {
		resp, err := fx.flow.CreateCampaign(ctx, validCreateRequest())
		require.NoError(t, err)
		assert.Equal(t, string(models.CampaignJobStatusDraft), resp.Status)
		assert.NotEmpty(t, resp.UUID)
	})

	t.Run("ScheduledWhenTimeSupplied", func(t *testing.T) {
		req := validCreateRequest()
		req.ScheduleAt = utils.ToPtr(time.Now().Add(time.Hour))
		resp, err := fx.flow.CreateCampaign(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, string(models.CampaignJobStatusScheduled), resp.Status)
	})

	t.Run("ValidationFailures", func(t *testing.T) {
		req := validCreateRequest()
		req.Name = ""
		_, err := fx.flow.CreateCampaign(ctx, req)
		assert.ErrorIs(t, err, ErrCampaignNameRequired)

		req = validCreateRequest()
		req.TemplateBody = ""
		_, err = fx.flow.CreateCampaign(ctx, req)
		assert.ErrorIs(t, err, ErrCampaignTemplateRequired)

		req = validCreateRequest()
		req.Channels = nil
		_, err = fx.flow.CreateCampaign(ctx, req)
		assert.ErrorIs(t, err, ErrCampaignChannelsRequired)

		req = validCreateRequest()
		req.Channels = []string{"fax"}
		_, err = fx.flow.CreateCampaign(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidChannel)
	})

	t.Run("ScheduleInPast", func(t *testing.T) {
		req := validCreateRequest()
		req.ScheduleAt = utils.ToPtr(time.Now().Add(-time.Hour))
		_, err := fx.flow.CreateCampaign(ctx, req)
		assert.ErrorIs(t, err, ErrScheduleTimeInPast)
	})

	t.Run("InvalidTimezone", func(t *testing.T) {
		req := validCreateRequest()
		req.ScheduleAt = utils.ToPtr(time.Now().Add(time.Hour))
		req.Timezone = "Mars/Olympus"
		_, err := fx.flow.CreateCampaign(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidTimezone)
	})
}

func TestGetCampaign(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	ctx := context.Background()
	campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
	campaign.SentCount = 7
	campaign.PendingCount = 3

	resp, err := fx.flow.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: campaign.UUID.String()})
	require.NoError(t, err)
	assert.Equal(t, campaign.Name, resp.Name)
	assert.Equal(t, string(models.CampaignJobStatusRunning), resp.Status)
	assert.Equal(t, int64(7), resp.Counters.Sent)
	assert.Equal(t, int64(3), resp.Counters.Pending)

	t.Run("MalformedUUID", func(t *testing.T) {
		_, err := fx.flow.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: "not-a-uuid"})
		assert.True(t, IsCampaignNotFound(err))
	})

	t.Run("UnknownUUID", func(t *testing.T) {
		_, err := fx.flow.GetCampaign(ctx, &dto.GetCampaignRequest{UUID: uuid.New().String()})
		assert.True(t, IsCampaignNotFound(err))
	})
}

func TestListCampaigns(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	ctx := context.Background()
	fx.seedCampaign(models.CampaignJobStatusDraft)
	fx.seedCampaign(models.CampaignJobStatusRunning)
	fx.seedCampaign(models.CampaignJobStatusRunning)

	resp, err := fx.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.Total)

	resp, err = fx.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 1, PageSize: 10, Status: "running"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Items, 2)

	t.Run("UnknownStatus", func(t *testing.T) {
		_, err := fx.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 1, PageSize: 10, Status: "archived"})
		require.Error(t, err)
	})

	t.Run("BadPagination", func(t *testing.T) {
		_, err := fx.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 0, PageSize: 10})
		assert.ErrorIs(t, err, ErrInvalidPage)
		_, err = fx.flow.ListCampaigns(ctx, &dto.ListCampaignsRequest{Page: 1, PageSize: 101})
		assert.ErrorIs(t, err, ErrInvalidPageSize)
	})
}

func TestScheduleCampaign(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	ctx := context.Background()

	t.Run("DraftBecomesScheduled", func(t *testing.T) {
		campaign := fx.seedCampaign(models.CampaignJobStatusDraft)
		at := time.Now().Add(2 * time.Hour)
		resp, err := fx.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{
			UUID:       campaign.UUID.String(),
			ScheduleAt: &at,
		})
		require.NoError(t, err)
		assert.Equal(t, string(models.CampaignJobStatusScheduled), resp.Status)
		assert.Equal(t, models.CampaignJobStatusScheduled, campaign.Status)
	})

	t.Run("MissingScheduleTime", func(t *testing.T) {
		campaign := fx.seedCampaign(models.CampaignJobStatusDraft)
		_, err := fx.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{UUID: campaign.UUID.String()})
		assert.ErrorIs(t, err, ErrScheduleTimeNotPresent)
	})

	t.Run("RunningCampaignCannotBeRescheduled", func(t *testing.T) {
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		at := time.Now().Add(2 * time.Hour)
		_, err := fx.flow.ScheduleCampaign(ctx, &dto.ScheduleCampaignRequest{
			UUID:       campaign.UUID.String(),
			ScheduleAt: &at,
		})
		assert.True(t, IsIllegalStatusTransition(err))
	})
}

func TestPauseCampaign(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	ctx := context.Background()

	t.Run("RunningBecomesPaused", func(t *testing.T) {
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		resp, err := fx.flow.PauseCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		require.NoError(t, err)
		assert.Equal(t, string(models.CampaignJobStatusPaused), resp.Status)
		assert.Equal(t, models.CampaignJobStatusPaused, campaign.Status)

		events := fx.notifier.EventsFor(services.CampaignStream(campaign.UUID.String()))
		require.NotEmpty(t, events)
		assert.Equal(t, services.StagePaused, events[len(events)-1].Stage)
	})

	t.Run("DraftNotPausable", func(t *testing.T) {
		campaign := fx.seedCampaign(models.CampaignJobStatusDraft)
		_, err := fx.flow.PauseCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		assert.ErrorIs(t, err, ErrCampaignNotPausable)
	})
}

func TestResumeCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("PausedBecomesRunning", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusPaused)
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateQueued})

		resp, err := fx.flow.ResumeCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		require.NoError(t, err)
		assert.Equal(t, string(models.CampaignJobStatusRunning), resp.Status)
		assert.Equal(t, models.CampaignJobStatusRunning, campaign.Status)
	})

	t.Run("ExpireQueuedOnResume", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{ExpireQueuedOnResume: true})
		campaign := fx.seedCampaign(models.CampaignJobStatusPaused)
		queued := fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateQueued})
		sent := fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateSent})

		_, err := fx.flow.ResumeCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		require.NoError(t, err)

		assert.Equal(t, models.TaskStateFailed, queued.State)
		require.NotNil(t, queued.FailureReason)
		assert.Equal(t, "expired-during-pause", *queued.FailureReason)
		assert.Equal(t, models.TaskStateSent, sent.State)
	})

	t.Run("OnlyPausedIsResumable", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		_, err := fx.flow.ResumeCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		assert.ErrorIs(t, err, ErrCampaignNotResumable)
	})
}

func TestCancelCampaign(t *testing.T) {
	ctx := context.Background()

	t.Run("CancelsCampaignAndQueuedTasks", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		queued := fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateQueued})
		sending := fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateSending})

		resp, err := fx.flow.CancelCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		require.NoError(t, err)
		assert.Equal(t, string(models.CampaignJobStatusFailed), resp.Status)
		assert.Equal(t, models.CampaignJobStatusFailed, campaign.Status)
		require.NotNil(t, campaign.FailureReason)
		assert.Equal(t, "campaign-cancelled", *campaign.FailureReason)

		assert.Equal(t, models.TaskStateFailed, queued.State)
		// In-flight sends run to their own terminal state.
		assert.Equal(t, models.TaskStateSending, sending.State)
	})

	t.Run("TerminalCampaignNotCancellable", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusCompleted)
		_, err := fx.flow.CancelCampaign(ctx, &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		assert.ErrorIs(t, err, ErrCampaignNotCancellable)
	})
}

func TestRecomputeStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("UpdatesCounters", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateQueued})
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateSent})
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateDelivered})
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateFailed})

		require.NoError(t, fx.flow.RecomputeStatus(ctx, campaign.ID))
		assert.Equal(t, int64(2), campaign.SentCount)
		assert.Equal(t, int64(1), campaign.FailedCount)
		// Sent tasks still await a delivery receipt, so they count as pending.
		assert.Equal(t, int64(2), campaign.PendingCount)
		assert.Equal(t, models.CampaignJobStatusRunning, campaign.Status)
	})

	t.Run("CompletesWhenNothingPending", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateDelivered})
		fx.taskRepo.add(&models.MessageTask{CampaignID: campaign.ID, State: models.TaskStateDeadLettered})

		require.NoError(t, fx.flow.RecomputeStatus(ctx, campaign.ID))
		assert.Equal(t, models.CampaignJobStatusCompleted, campaign.Status)

		events := fx.notifier.EventsFor(services.CampaignStream(campaign.UUID.String()))
		require.NotEmpty(t, events)
		assert.Equal(t, services.StageCompleted, events[len(events)-1].Stage)
	})

	t.Run("NoTasksNoCompletion", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusRunning)
		require.NoError(t, fx.flow.RecomputeStatus(ctx, campaign.ID))
		assert.Equal(t, models.CampaignJobStatusRunning, campaign.Status)
	})

	t.Run("UnknownCampaign", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		err := fx.flow.RecomputeStatus(ctx, 999)
		assert.True(t, IsCampaignNotFound(err))
	})
}

func TestStartCampaignFansOutAudience(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	ctx := context.Background()

	campaign := &models.CampaignJob{
		Name:         "September renewals",
		Channels:     []string{"email", "sms"},
		TemplateBody: "Hi {{name}}, policy {{policy_number}} renews soon.",
		Timezone:     "UTC",
		Status:       models.CampaignJobStatusScheduled,
		ScheduleAt:   time.Now().UTC(),
	}
	require.NoError(t, fx.campaignRepo.Save(ctx, campaign))

	renewal := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	fx.holderRepo.holders = []*models.PolicyHolder{
		{ID: 1, PolicyNumber: "POL-1", FullName: "Jane Shaw", Email: utils.ToPtr("jane@example.com"), Phone: utils.ToPtr("+919900112233"), RenewalDate: renewal},
		{ID: 2, PolicyNumber: "POL-2", FullName: "Raj Mehta", Email: utils.ToPtr("raj@example.com"), RenewalDate: renewal},
		{ID: 3, PolicyNumber: "POL-3", FullName: "Asha Rao", RenewalDate: renewal},
	}

	require.NoError(t, fx.flow.StartCampaign(ctx, campaign.ID))
	assert.Equal(t, models.CampaignJobStatusRunning, campaign.Status)

	// One task per reachable (holder, channel) pair: Jane on both
	// channels, Raj on email only, Asha skipped entirely.
	require.Len(t, fx.taskRepo.tasks, 3)
	byKey := make(map[string]*models.MessageTask, len(fx.taskRepo.tasks))
	for _, task := range fx.taskRepo.tasks {
		byKey[fmt.Sprintf("%d/%s", task.PolicyHolderID, task.Channel)] = task
	}

	janeEmail := byKey["1/email"]
	require.NotNil(t, janeEmail)
	assert.Equal(t, "jane@example.com", janeEmail.Recipient)
	assert.Equal(t, models.TaskStateQueued, janeEmail.State)
	assert.Equal(t, "Hi Jane Shaw, policy POL-1 renews soon.", janeEmail.Payload)

	janeSMS := byKey["1/sms"]
	require.NotNil(t, janeSMS)
	assert.Equal(t, "+919900112233", janeSMS.Recipient)

	rajEmail := byKey["2/email"]
	require.NotNil(t, rajEmail)
	assert.Equal(t, "raj@example.com", rajEmail.Recipient)
	assert.Nil(t, byKey["2/sms"])
	assert.Nil(t, byKey["3/email"])

	assert.Equal(t, int64(3), campaign.PendingCount)

	events := fx.notifier.EventsFor(services.CampaignStream(campaign.UUID.String()))
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, services.StageDispatch, last.Stage)
	assert.Equal(t, int64(3), last.Total)

	t.Run("EmptyAudienceFailsCampaign", func(t *testing.T) {
		fx := newCampaignFixture(config.QueueConfig{})
		campaign := fx.seedCampaign(models.CampaignJobStatusScheduled)

		err := fx.flow.StartCampaign(ctx, campaign.ID)
		require.Error(t, err)
		assert.True(t, IsEmptyAudience(err))
		assert.Equal(t, models.CampaignJobStatusFailed, campaign.Status)
	})
}

func TestStartCampaignRequiresScheduledState(t *testing.T) {
	fx := newCampaignFixture(config.QueueConfig{})
	campaign := fx.seedCampaign(models.CampaignJobStatusDraft)

	err := fx.flow.StartCampaign(context.Background(), campaign.ID)
	require.Error(t, err)
	var be *BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "CAMPAIGN_ILLEGAL_TRANSITION", be.Code)
	assert.Equal(t, models.CampaignJobStatusDraft, campaign.Status)

	t.Run("ByUUID", func(t *testing.T) {
		_, err := fx.flow.StartCampaignByUUID(context.Background(), &dto.CampaignActionRequest{UUID: campaign.UUID.String()})
		require.Error(t, err)
		require.ErrorAs(t, err, &be)
		assert.Equal(t, "CAMPAIGN_ILLEGAL_TRANSITION", be.Code)
	})

	t.Run("ByUUIDUnknown", func(t *testing.T) {
		_, err := fx.flow.StartCampaignByUUID(context.Background(), &dto.CampaignActionRequest{UUID: uuid.New().String()})
		assert.True(t, IsCampaignNotFound(err))
	})
}
