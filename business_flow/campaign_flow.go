// Package businessflow contains the core business logic and use cases for campaign workflows
package businessflow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/app/dto"
	"github.com/welleazyhts/Renewal-Backend/app/queue"
	"github.com/welleazyhts/Renewal-Backend/app/services"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// audiencePageSize bounds memory while resolving large audiences
const audiencePageSize = 500

// CampaignFlow handles the campaign lifecycle business logic
type CampaignFlow interface {
	CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CreateCampaignResponse, error)
	GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error)
	ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error)
	ScheduleCampaign(ctx context.Context, req *dto.ScheduleCampaignRequest) (*dto.CampaignActionResponse, error)
	// StartCampaign resolves the audience and fans message tasks out to
	// the queue. Called by the scheduler when the schedule time arrives.
	StartCampaign(ctx context.Context, campaignID uint) error
	// StartCampaignByUUID starts a scheduled campaign ahead of its
	// schedule time, on operator request.
	StartCampaignByUUID(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	PauseCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	ResumeCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)
	// RecomputeStatus refreshes the cached counters from the task table
	// and completes the campaign when no pending work remains.
	RecomputeStatus(ctx context.Context, campaignID uint) error
}

// CampaignFlowImpl implements the campaign business flow
type CampaignFlowImpl struct {
	campaignRepo repository.CampaignJobRepository
	holderRepo   repository.PolicyHolderRepository
	taskRepo     repository.MessageTaskRepository
	queueClient  *queue.Client
	notifier     services.ProgressNotifier
	queueConfig  config.QueueConfig
	db           *gorm.DB
}

// NewCampaignFlow creates a new campaign flow instance
func NewCampaignFlow(
	campaignRepo repository.CampaignJobRepository,
	holderRepo repository.PolicyHolderRepository,
	taskRepo repository.MessageTaskRepository,
	queueClient *queue.Client,
	notifier services.ProgressNotifier,
	queueConfig config.QueueConfig,
	db *gorm.DB,
) CampaignFlow {
	return &CampaignFlowImpl{
		campaignRepo: campaignRepo,
		holderRepo:   holderRepo,
		taskRepo:     taskRepo,
		queueClient:  queueClient,
		notifier:     notifier,
		queueConfig:  queueConfig,
		db:           db,
	}
}

// CreateCampaign creates a campaign in draft, or directly in scheduled
// when a valid schedule time is supplied.
func (s *CampaignFlowImpl) CreateCampaign(ctx context.Context, req *dto.CreateCampaignRequest) (*dto.CreateCampaignResponse, error) {
	if err := s.validateCreateCampaignRequest(req); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	campaign := &models.CampaignJob{
		Name:         req.Name,
		Channels:     req.Channels,
		TemplateBody: req.TemplateBody,
		Timezone:     req.Timezone,
		Status:       models.CampaignJobStatusDraft,
		Filter: models.SegmentationSpec{
			PolicyTypes:       req.Filter.PolicyTypes,
			Cities:            req.Filter.Cities,
			Segments:          req.Filter.Segments,
			RenewalDateAfter:  req.Filter.RenewalDateAfter,
			RenewalDateBefore: req.Filter.RenewalDateBefore,
		},
	}
	if req.ScheduleAt != nil {
		if err := s.validateSchedule(*req.ScheduleAt, req.Timezone); err != nil {
			return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
		}
		campaign.ScheduleAt = utils.TimeToUTC(*req.ScheduleAt)
		campaign.Status = models.CampaignJobStatusScheduled
	} else {
		// Drafts carry a placeholder schedule until ScheduleCampaign sets one
		campaign.ScheduleAt = utils.UTCNow()
	}

	if err := s.campaignRepo.Save(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_CREATION_FAILED", "Campaign creation failed", err)
	}

	return &dto.CreateCampaignResponse{
		Message:   "Campaign created successfully",
		UUID:      campaign.UUID.String(),
		Status:    string(campaign.Status),
		CreatedAt: campaign.CreatedAt.Format(time.RFC3339),
	}, nil
}

// GetCampaign returns one campaign with its live counters
func (s *CampaignFlowImpl) GetCampaign(ctx context.Context, req *dto.GetCampaignRequest) (*dto.GetCampaignResponse, error) {
	campaign, err := s.findCampaign(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	resp := toCampaignResponse(campaign)
	return &resp, nil
}

// ListCampaigns returns a page of campaigns, optionally filtered by status
func (s *CampaignFlowImpl) ListCampaigns(ctx context.Context, req *dto.ListCampaignsRequest) (*dto.ListCampaignsResponse, error) {
	if req.Page < 1 {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", ErrInvalidPage)
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", ErrInvalidPageSize)
	}

	var filter models.CampaignJobFilter
	if req.Status != "" {
		status := models.CampaignJobStatus(req.Status)
		if !status.Valid() {
			return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed",
				fmt.Errorf("unknown status %q", req.Status))
		}
		filter.Status = &status
	}

	total, err := s.campaignRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to count campaigns", err)
	}
	rows, err := s.campaignRepo.ByFilter(ctx, filter, "created_at DESC", req.PageSize, (req.Page-1)*req.PageSize)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to list campaigns", err)
	}

	items := make([]dto.GetCampaignResponse, 0, len(rows))
	for _, c := range rows {
		items = append(items, toCampaignResponse(c))
	}
	return &dto.ListCampaignsResponse{
		Items:    items,
		Page:     req.Page,
		PageSize: req.PageSize,
		Total:    total,
	}, nil
}

// ScheduleCampaign moves a draft campaign to scheduled
func (s *CampaignFlowImpl) ScheduleCampaign(ctx context.Context, req *dto.ScheduleCampaignRequest) (*dto.CampaignActionResponse, error) {
	if req.ScheduleAt == nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", ErrScheduleTimeNotPresent)
	}
	campaign, err := s.findCampaign(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if !campaign.CanTransitionTo(models.CampaignJobStatusScheduled) {
		return nil, NewBusinessError("CAMPAIGN_ILLEGAL_TRANSITION", "Campaign cannot be scheduled", ErrIllegalStatusTransition)
	}

	tz := req.Timezone
	if tz == "" {
		tz = campaign.Timezone
	}
	if err := s.validateSchedule(*req.ScheduleAt, tz); err != nil {
		return nil, NewBusinessError("CAMPAIGN_VALIDATION_FAILED", "Campaign validation failed", err)
	}

	campaign.ScheduleAt = utils.TimeToUTC(*req.ScheduleAt)
	campaign.Timezone = tz
	campaign.Status = models.CampaignJobStatusScheduled
	if err := s.campaignRepo.Update(ctx, campaign); err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Failed to schedule campaign", err)
	}
	return &dto.CampaignActionResponse{
		Message: "Campaign scheduled successfully",
		Status:  string(campaign.Status),
	}, nil
}

// StartCampaign transitions the campaign to running, resolves its
// audience and enqueues one task per reachable recipient and channel.
// An audience that resolves to nothing fails the campaign.
func (s *CampaignFlowImpl) StartCampaign(ctx context.Context, campaignID uint) error {
	campaign, err := s.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	// The compare-and-set guards against two scheduler ticks starting
	// the same campaign.
	if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID,
		models.CampaignJobStatusScheduled, models.CampaignJobStatusRunning, nil); err != nil {
		return NewBusinessError("CAMPAIGN_ILLEGAL_TRANSITION", "Campaign is no longer scheduled", err)
	}

	stream := services.CampaignStream(campaign.UUID.String())
	var enqueued, skipped int64

	err = repository.WithTransaction(ctx, s.db, func(txCtx context.Context) error {
		filter := campaign.Filter.ToFilter()
		offset := 0
		for {
			holders, err := s.holderRepo.ByFilter(txCtx, filter, "id ASC", audiencePageSize, offset)
			if err != nil {
				return fmt.Errorf("failed to resolve audience: %w", err)
			}
			if len(holders) == 0 {
				break
			}

			tasks := make([]*models.MessageTask, 0, len(holders)*len(campaign.Channels))
			for _, holder := range holders {
				for _, chName := range campaign.Channels {
					channel := models.Channel(chName)
					contact := holder.ContactFor(channel)
					if contact == "" {
						skipped++
						log.Printf("campaign %s: skipping policy %s on %s: no usable contact",
							campaign.UUID, holder.PolicyNumber, channel)
						continue
					}
					tasks = append(tasks, &models.MessageTask{
						CampaignID:     campaign.ID,
						PolicyHolderID: holder.ID,
						Channel:        channel,
						Recipient:      contact,
						Payload:        services.RenderTemplate(campaign.TemplateBody, holder),
						State:          models.TaskStateQueued,
						VisibleAt:      utils.UTCNow(),
					})
				}
			}

			n, err := s.queueClient.EnqueueBatch(txCtx, tasks)
			if err != nil {
				return err
			}
			enqueued += int64(n)

			if len(holders) < audiencePageSize {
				break
			}
			offset += audiencePageSize
		}
		return nil
	})
	if err != nil {
		reason := fmt.Sprintf("fan-out failed: %v", err)
		_ = s.campaignRepo.UpdateStatus(ctx, campaign.ID,
			models.CampaignJobStatusRunning, models.CampaignJobStatusFailed, &reason)
		s.notifier.Publish(ctx, stream, services.StageFailed, 0, 0, 0, 0, reason)
		return NewBusinessError("CAMPAIGN_START_FAILED", "Campaign start failed", err)
	}

	if enqueued == 0 {
		reason := ErrEmptyAudience.Error()
		_ = s.campaignRepo.UpdateStatus(ctx, campaign.ID,
			models.CampaignJobStatusRunning, models.CampaignJobStatusFailed, &reason)
		s.notifier.Publish(ctx, stream, services.StageFailed, 0, 0, 0, 0, reason)
		return NewBusinessError("CAMPAIGN_EMPTY_AUDIENCE", "Campaign audience is empty", ErrEmptyAudience)
	}

	if err := s.campaignRepo.UpdateCounters(ctx, campaign.ID, 0, 0, enqueued); err != nil {
		log.Printf("campaign %s: failed to seed counters: %v", campaign.UUID, err)
	}
	s.notifier.Publish(ctx, stream, services.StageDispatch, 0, 0, 0, enqueued,
		fmt.Sprintf("%d tasks enqueued, %d recipients skipped", enqueued, skipped))
	return nil
}

// StartCampaignByUUID lets an operator start a scheduled campaign
// without waiting for the scheduler tick.
func (s *CampaignFlowImpl) StartCampaignByUUID(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := s.findCampaign(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if err := s.StartCampaign(ctx, campaign.ID); err != nil {
		return nil, err
	}
	return &dto.CampaignActionResponse{
		Message: "Campaign started",
		Status:  string(models.CampaignJobStatusRunning),
	}, nil
}

// PauseCampaign stops further sends for a running campaign. In-flight
// provider calls complete; queued work stays invisible to workers.
func (s *CampaignFlowImpl) PauseCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := s.findCampaign(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if !campaign.CanTransitionTo(models.CampaignJobStatusPaused) {
		return nil, NewBusinessError("CAMPAIGN_NOT_PAUSABLE", "Campaign cannot be paused", ErrCampaignNotPausable)
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID,
		campaign.Status, models.CampaignJobStatusPaused, nil); err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Failed to pause campaign", err)
	}
	if err := s.queueClient.Pauses().Pause(ctx, campaign.ID); err != nil {
		log.Printf("campaign %s: pause flag not set: %v", campaign.UUID, err)
	}
	s.notifier.Publish(ctx, services.CampaignStream(campaign.UUID.String()),
		services.StagePaused, 0, 0, 0, 0, "")
	return &dto.CampaignActionResponse{
		Message: "Campaign paused",
		Status:  string(models.CampaignJobStatusPaused),
	}, nil
}

// ResumeCampaign resumes a paused campaign. With ExpireQueuedOnResume
// set, tasks still queued from before the pause are failed instead of
// sent late.
func (s *CampaignFlowImpl) ResumeCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := s.findCampaign(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != models.CampaignJobStatusPaused {
		return nil, NewBusinessError("CAMPAIGN_NOT_RESUMABLE", "Campaign is not paused", ErrCampaignNotResumable)
	}

	if s.queueConfig.ExpireQueuedOnResume {
		n, err := s.taskRepo.FailQueuedByCampaign(ctx, campaign.ID, "expired-during-pause")
		if err != nil {
			return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Failed to expire queued tasks", err)
		}
		if n > 0 {
			log.Printf("campaign %s: expired %d queued tasks on resume", campaign.UUID, n)
		}
	}

	if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID,
		models.CampaignJobStatusPaused, models.CampaignJobStatusRunning, nil); err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Failed to resume campaign", err)
	}
	if err := s.queueClient.Pauses().Resume(ctx, campaign.ID); err != nil {
		log.Printf("campaign %s: pause flag not cleared: %v", campaign.UUID, err)
	}
	s.notifier.Publish(ctx, services.CampaignStream(campaign.UUID.String()),
		services.StageResumed, 0, 0, 0, 0, "")

	// Counters may already show completion if everything finished
	// before the pause.
	if err := s.RecomputeStatus(ctx, campaign.ID); err != nil {
		log.Printf("campaign %s: recompute after resume failed: %v", campaign.UUID, err)
	}
	return &dto.CampaignActionResponse{
		Message: "Campaign resumed",
		Status:  string(models.CampaignJobStatusRunning),
	}, nil
}

// CancelCampaign terminally fails a non-terminal campaign and its
// still-queued tasks. Tasks already handed to a provider keep running
// to their own terminal state.
func (s *CampaignFlowImpl) CancelCampaign(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error) {
	campaign, err := s.findCampaign(ctx, req.UUID)
	if err != nil {
		return nil, err
	}
	if campaign.Status.IsTerminal() {
		return nil, NewBusinessError("CAMPAIGN_NOT_CANCELLABLE", "Campaign already finished", ErrCampaignNotCancellable)
	}

	reason := "campaign-cancelled"
	if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID,
		campaign.Status, models.CampaignJobStatusFailed, &reason); err != nil {
		return nil, NewBusinessError("CAMPAIGN_UPDATE_FAILED", "Failed to cancel campaign", err)
	}
	if _, err := s.taskRepo.FailQueuedByCampaign(ctx, campaign.ID, reason); err != nil {
		log.Printf("campaign %s: failed to cancel queued tasks: %v", campaign.UUID, err)
	}
	if err := s.queueClient.Pauses().Resume(ctx, campaign.ID); err != nil {
		log.Printf("campaign %s: pause flag not cleared on cancel: %v", campaign.UUID, err)
	}
	s.notifier.Publish(ctx, services.CampaignStream(campaign.UUID.String()),
		services.StageFailed, 0, 0, 0, 0, reason)
	return &dto.CampaignActionResponse{
		Message: "Campaign cancelled",
		Status:  string(models.CampaignJobStatusFailed),
	}, nil
}

// RecomputeStatus refreshes the cached counters from the authoritative
// task counts and completes the campaign once nothing is pending.
func (s *CampaignFlowImpl) RecomputeStatus(ctx context.Context, campaignID uint) error {
	campaign, err := s.campaignRepo.ByID(ctx, campaignID)
	if err != nil {
		return NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}

	counts, err := s.taskRepo.CountsByCampaign(ctx, campaign.ID)
	if err != nil {
		return NewBusinessError("CAMPAIGN_RECOMPUTE_FAILED", "Failed to aggregate task counts", err)
	}

	sent := counts.Sent + counts.Delivered
	failed := counts.Failed + counts.DeadLettered
	pending := counts.Pending()
	if err := s.campaignRepo.UpdateCounters(ctx, campaign.ID, sent, failed, pending); err != nil {
		return NewBusinessError("CAMPAIGN_RECOMPUTE_FAILED", "Failed to update counters", err)
	}

	stream := services.CampaignStream(campaign.UUID.String())
	if pending == 0 && campaign.Status == models.CampaignJobStatusRunning && counts.Total() > 0 {
		if err := s.campaignRepo.UpdateStatus(ctx, campaign.ID,
			models.CampaignJobStatusRunning, models.CampaignJobStatusCompleted, nil); err != nil {
			return NewBusinessError("CAMPAIGN_RECOMPUTE_FAILED", "Failed to complete campaign", err)
		}
		s.notifier.Publish(ctx, stream, services.StageCompleted,
			counts.Total(), sent, failed, counts.Total(), "")
		return nil
	}

	s.notifier.Publish(ctx, stream, services.StageDispatch,
		counts.Total()-pending, sent, failed, counts.Total(), "")
	return nil
}

func (s *CampaignFlowImpl) findCampaign(ctx context.Context, rawUUID string) (*models.CampaignJob, error) {
	campaignUUID, err := uuid.Parse(rawUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	campaign, err := s.campaignRepo.ByUUID(ctx, campaignUUID)
	if err != nil {
		return nil, NewBusinessError("CAMPAIGN_LOOKUP_FAILED", "Failed to lookup campaign", err)
	}
	if campaign == nil {
		return nil, NewBusinessError("CAMPAIGN_NOT_FOUND", "Campaign not found", ErrCampaignNotFound)
	}
	return campaign, nil
}

func (s *CampaignFlowImpl) validateCreateCampaignRequest(req *dto.CreateCampaignRequest) error {
	if req.Name == "" {
		return ErrCampaignNameRequired
	}
	if req.TemplateBody == "" {
		return ErrCampaignTemplateRequired
	}
	if len(req.Channels) == 0 {
		return ErrCampaignChannelsRequired
	}
	for _, ch := range req.Channels {
		if !models.Channel(ch).Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
		}
	}
	return nil
}

// validateSchedule ensures the schedule time is in the future as
// observed in the campaign's timezone.
func (s *CampaignFlowImpl) validateSchedule(scheduleAt time.Time, tz string) error {
	if tz == "" {
		tz = "UTC"
	}
	now, err := utils.NowInTimezone(tz)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	if !scheduleAt.After(now) {
		return ErrScheduleTimeInPast
	}
	return nil
}

func toCampaignResponse(c *models.CampaignJob) dto.GetCampaignResponse {
	var scheduleAt *time.Time
	if !c.ScheduleAt.IsZero() {
		t := c.ScheduleAt
		scheduleAt = &t
	}
	return dto.GetCampaignResponse{
		UUID:     c.UUID.String(),
		Name:     c.Name,
		Channels: c.Channels,
		Status:   string(c.Status),
		Filter: dto.SegmentationCriteria{
			PolicyTypes:       c.Filter.PolicyTypes,
			Cities:            c.Filter.Cities,
			Segments:          c.Filter.Segments,
			RenewalDateAfter:  c.Filter.RenewalDateAfter,
			RenewalDateBefore: c.Filter.RenewalDateBefore,
		},
		Counters: dto.CampaignCounters{
			Sent:    c.SentCount,
			Failed:  c.FailedCount,
			Pending: c.PendingCount,
		},
		ScheduleAt:    scheduleAt,
		Timezone:      c.Timezone,
		FailureReason: c.FailureReason,
		CreatedAt:     c.CreatedAt,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
	}
}
