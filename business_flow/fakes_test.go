package businessflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
)

// In-memory repository fakes. They implement just enough behavior for
// the flow logic under test; state transitions mirror the SQL guards.

type fakeUploadRepo struct {
	jobs       map[uuid.UUID]*models.UploadJob
	nextID     uint
	increments []counterIncrement
}

type counterIncrement struct {
	validated int64
	failed    int64
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{jobs: make(map[uuid.UUID]*models.UploadJob)}
}

func (f *fakeUploadRepo) ByID(ctx context.Context, id uint) (*models.UploadJob, error) {
	for _, j := range f.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return nil, nil
}

func (f *fakeUploadRepo) ByFilter(ctx context.Context, filter models.UploadJobFilter, orderBy string, limit, offset int) ([]*models.UploadJob, error) {
	return nil, nil
}

func (f *fakeUploadRepo) Save(ctx context.Context, job *models.UploadJob) error {
	f.nextID++
	job.ID = f.nextID
	if job.UUID == uuid.Nil {
		job.UUID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	f.jobs[job.UUID] = job
	return nil
}

func (f *fakeUploadRepo) Update(ctx context.Context, job *models.UploadJob) error {
	f.jobs[job.UUID] = job
	return nil
}

func (f *fakeUploadRepo) SaveBatch(ctx context.Context, jobs []*models.UploadJob) error {
	for _, j := range jobs {
		if err := f.Save(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeUploadRepo) Count(ctx context.Context, filter models.UploadJobFilter) (int64, error) {
	return int64(len(f.jobs)), nil
}

func (f *fakeUploadRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.UploadJob, error) {
	return f.jobs[id], nil
}

func (f *fakeUploadRepo) IncrementCounters(ctx context.Context, jobID uint, validatedDelta, failedDelta int64) error {
	f.increments = append(f.increments, counterIncrement{validated: validatedDelta, failed: failedDelta})
	for _, j := range f.jobs {
		if j.ID == jobID {
			j.ValidatedCount += validatedDelta
			j.FailedCount += failedDelta
		}
	}
	return nil
}

type fakeRowRepo struct {
	rows []*models.RowResult
}

func (f *fakeRowRepo) ByID(ctx context.Context, id uint) (*models.RowResult, error) {
	return nil, nil
}

func (f *fakeRowRepo) ByFilter(ctx context.Context, filter models.RowResultFilter, orderBy string, limit, offset int) ([]*models.RowResult, error) {
	matched := f.matching(filter)
	if offset >= len(matched) {
		return nil, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

func (f *fakeRowRepo) Save(ctx context.Context, row *models.RowResult) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeRowRepo) Update(ctx context.Context, row *models.RowResult) error {
	return nil
}

func (f *fakeRowRepo) SaveBatch(ctx context.Context, rows []*models.RowResult) error {
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *fakeRowRepo) Count(ctx context.Context, filter models.RowResultFilter) (int64, error) {
	return int64(len(f.matching(filter))), nil
}

func (f *fakeRowRepo) ListByUploadJob(ctx context.Context, uploadJobID uint, limit, offset int) ([]*models.RowResult, error) {
	return f.ByFilter(ctx, models.RowResultFilter{UploadJobID: &uploadJobID}, "", limit, offset)
}

func (f *fakeRowRepo) matching(filter models.RowResultFilter) []*models.RowResult {
	var out []*models.RowResult
	for _, r := range f.rows {
		if filter.UploadJobID != nil && r.UploadJobID != *filter.UploadJobID {
			continue
		}
		if filter.OnlyFailed != nil && *filter.OnlyFailed && r.IsValid() {
			continue
		}
		out = append(out, r)
	}
	return out
}

type fakeHolderRepo struct {
	holders  []*models.PolicyHolder
	upserted []*models.PolicyHolder
}

func (f *fakeHolderRepo) ByID(ctx context.Context, id uint) (*models.PolicyHolder, error) {
	return nil, nil
}

func (f *fakeHolderRepo) ByFilter(ctx context.Context, filter models.PolicyHolderFilter, orderBy string, limit, offset int) ([]*models.PolicyHolder, error) {
	if offset >= len(f.holders) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.holders) {
		end = len(f.holders)
	}
	return f.holders[offset:end], nil
}

func (f *fakeHolderRepo) Save(ctx context.Context, holder *models.PolicyHolder) error {
	f.holders = append(f.holders, holder)
	return nil
}

func (f *fakeHolderRepo) Update(ctx context.Context, holder *models.PolicyHolder) error {
	return nil
}

func (f *fakeHolderRepo) SaveBatch(ctx context.Context, holders []*models.PolicyHolder) error {
	f.holders = append(f.holders, holders...)
	return nil
}

func (f *fakeHolderRepo) Count(ctx context.Context, filter models.PolicyHolderFilter) (int64, error) {
	return int64(len(f.holders)), nil
}

func (f *fakeHolderRepo) ByPolicyNumber(ctx context.Context, policyNumber string) (*models.PolicyHolder, error) {
	for _, h := range f.holders {
		if h.PolicyNumber == policyNumber {
			return h, nil
		}
	}
	return nil, nil
}

func (f *fakeHolderRepo) UpsertBatch(ctx context.Context, holders []*models.PolicyHolder) error {
	f.upserted = append(f.upserted, holders...)
	return nil
}

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*models.CampaignJob
	nextID    uint
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*models.CampaignJob)}
}

func (f *fakeCampaignRepo) byID(id uint) *models.CampaignJob {
	for _, c := range f.campaigns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (f *fakeCampaignRepo) ByID(ctx context.Context, id uint) (*models.CampaignJob, error) {
	return f.byID(id), nil
}

func (f *fakeCampaignRepo) ByFilter(ctx context.Context, filter models.CampaignJobFilter, orderBy string, limit, offset int) ([]*models.CampaignJob, error) {
	var out []*models.CampaignJob
	for _, c := range f.campaigns {
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		out = append(out, c)
	}
	if offset >= len(out) {
		return nil, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

func (f *fakeCampaignRepo) Save(ctx context.Context, campaign *models.CampaignJob) error {
	f.nextID++
	campaign.ID = f.nextID
	if campaign.UUID == uuid.Nil {
		campaign.UUID = uuid.New()
	}
	if campaign.CreatedAt.IsZero() {
		campaign.CreatedAt = time.Now().UTC()
	}
	f.campaigns[campaign.UUID] = campaign
	return nil
}

func (f *fakeCampaignRepo) Update(ctx context.Context, campaign *models.CampaignJob) error {
	f.campaigns[campaign.UUID] = campaign
	return nil
}

func (f *fakeCampaignRepo) SaveBatch(ctx context.Context, campaigns []*models.CampaignJob) error {
	for _, c := range campaigns {
		if err := f.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeCampaignRepo) Count(ctx context.Context, filter models.CampaignJobFilter) (int64, error) {
	rows, _ := f.ByFilter(ctx, filter, "", len(f.campaigns), 0)
	return int64(len(rows)), nil
}

func (f *fakeCampaignRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.CampaignJob, error) {
	return f.campaigns[id], nil
}

func (f *fakeCampaignRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.CampaignJob, error) {
	var out []*models.CampaignJob
	for _, c := range f.campaigns {
		if c.Status == models.CampaignJobStatusScheduled && !c.ScheduleAt.After(now) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListByStatus(ctx context.Context, status models.CampaignJobStatus, limit int) ([]*models.CampaignJob, error) {
	st := status
	return f.ByFilter(ctx, models.CampaignJobFilter{Status: &st}, "", limit, 0)
}

func (f *fakeCampaignRepo) UpdateStatus(ctx context.Context, campaignID uint, from, to models.CampaignJobStatus, failureReason *string) error {
	c := f.byID(campaignID)
	if c == nil || c.Status != from || !c.CanTransitionTo(to) {
		return repository.ErrIllegalTransition
	}
	c.Status = to
	c.FailureReason = failureReason
	return nil
}

func (f *fakeCampaignRepo) UpdateCounters(ctx context.Context, campaignID uint, sent, failed, pending int64) error {
	if c := f.byID(campaignID); c != nil {
		c.SentCount = sent
		c.FailedCount = failed
		c.PendingCount = pending
	}
	return nil
}

type fakeFlowTaskRepo struct {
	tasks  map[uint]*models.MessageTask
	nextID uint
}

func newFakeFlowTaskRepo() *fakeFlowTaskRepo {
	return &fakeFlowTaskRepo{tasks: make(map[uint]*models.MessageTask)}
}

func (f *fakeFlowTaskRepo) add(task *models.MessageTask) *models.MessageTask {
	f.nextID++
	task.ID = f.nextID
	if task.UUID == uuid.Nil {
		task.UUID = uuid.New()
	}
	f.tasks[task.ID] = task
	return task
}

func (f *fakeFlowTaskRepo) ByID(ctx context.Context, id uint) (*models.MessageTask, error) {
	return f.tasks[id], nil
}

func (f *fakeFlowTaskRepo) ByFilter(ctx context.Context, filter models.MessageTaskFilter, orderBy string, limit, offset int) ([]*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeFlowTaskRepo) Save(ctx context.Context, task *models.MessageTask) error {
	f.add(task)
	return nil
}

func (f *fakeFlowTaskRepo) Update(ctx context.Context, task *models.MessageTask) error {
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeFlowTaskRepo) SaveBatch(ctx context.Context, tasks []*models.MessageTask) error {
	for _, t := range tasks {
		f.add(t)
	}
	return nil
}

func (f *fakeFlowTaskRepo) Count(ctx context.Context, filter models.MessageTaskFilter) (int64, error) {
	return int64(len(f.tasks)), nil
}

func (f *fakeFlowTaskRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.MessageTask, error) {
	for _, t := range f.tasks {
		if t.UUID == id {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeFlowTaskRepo) ByProviderMsgID(ctx context.Context, providerMsgID string) (*models.MessageTask, error) {
	for _, t := range f.tasks {
		if t.ProviderMsgID != nil && *t.ProviderMsgID == providerMsgID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeFlowTaskRepo) FindActiveByDedup(ctx context.Context, campaignID, policyHolderID uint, channel models.Channel) (*models.MessageTask, error) {
	for _, t := range f.tasks {
		if t.CampaignID == campaignID && t.PolicyHolderID == policyHolderID &&
			t.Channel == channel && !t.State.IsTerminal() {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeFlowTaskRepo) ClaimNext(ctx context.Context, channel models.Channel, token uuid.UUID, leaseUntil time.Time, excludedCampaigns []uint) (*models.MessageTask, error) {
	return nil, nil
}

func (f *fakeFlowTaskRepo) MarkSending(ctx context.Context, taskID uint, token uuid.UUID) error {
	return nil
}

func (f *fakeFlowTaskRepo) RecordAccepted(ctx context.Context, taskID uint, token uuid.UUID, providerMsgID string, sentAt time.Time) error {
	return nil
}

func (f *fakeFlowTaskRepo) ReleaseForRetry(ctx context.Context, taskID uint, token uuid.UUID, visibleAt time.Time, bumpRetry bool) error {
	return nil
}

func (f *fakeFlowTaskRepo) FailLeased(ctx context.Context, taskID uint, token uuid.UUID, terminal models.TaskState, reason string) error {
	return nil
}

func (f *fakeFlowTaskRepo) RequeueExpired(ctx context.Context, now time.Time, maxAttempts int) (int64, error) {
	return 0, nil
}

func (f *fakeFlowTaskRepo) ApplyReceiptTransition(ctx context.Context, taskID uint, to models.TaskState, reason *string, at time.Time) error {
	task, ok := f.tasks[taskID]
	if !ok || !task.State.CanTransitionTo(to) {
		return repository.ErrIllegalTransition
	}
	task.State = to
	switch to {
	case models.TaskStateSent:
		task.SentAt = &at
	case models.TaskStateDelivered:
		task.DeliveredAt = &at
	case models.TaskStateFailed:
		task.FailureReason = reason
	}
	return nil
}

func (f *fakeFlowTaskRepo) ListStuck(ctx context.Context, olderThan time.Time, limit int) ([]*models.MessageTask, error) {
	var out []*models.MessageTask
	for _, t := range f.tasks {
		if (t.State == models.TaskStateSending || t.State == models.TaskStateSent) &&
			t.UpdatedAt.Before(olderThan) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeFlowTaskRepo) FailQueuedByCampaign(ctx context.Context, campaignID uint, reason string) (int64, error) {
	var n int64
	for _, t := range f.tasks {
		if t.CampaignID == campaignID && t.State == models.TaskStateQueued {
			t.State = models.TaskStateFailed
			t.FailureReason = &reason
			n++
		}
	}
	return n, nil
}

func (f *fakeFlowTaskRepo) CountsByCampaign(ctx context.Context, campaignID uint) (*models.TaskStateCounts, error) {
	counts := &models.TaskStateCounts{}
	for _, t := range f.tasks {
		if t.CampaignID != campaignID {
			continue
		}
		switch t.State {
		case models.TaskStateQueued:
			counts.Queued++
		case models.TaskStateLeased:
			counts.Leased++
		case models.TaskStateSending:
			counts.Sending++
		case models.TaskStateSent:
			counts.Sent++
		case models.TaskStateDelivered:
			counts.Delivered++
		case models.TaskStateFailed:
			counts.Failed++
		case models.TaskStateDeadLettered:
			counts.DeadLettered++
		}
	}
	return counts, nil
}

type fakeReceiptRepo struct {
	receipts []*models.DeliveryReceipt
}

func (f *fakeReceiptRepo) ByID(ctx context.Context, id uint) (*models.DeliveryReceipt, error) {
	return nil, nil
}

func (f *fakeReceiptRepo) ByFilter(ctx context.Context, filter models.DeliveryReceiptFilter, orderBy string, limit, offset int) ([]*models.DeliveryReceipt, error) {
	return nil, nil
}

func (f *fakeReceiptRepo) Save(ctx context.Context, receipt *models.DeliveryReceipt) error {
	f.receipts = append(f.receipts, receipt)
	return nil
}

func (f *fakeReceiptRepo) Update(ctx context.Context, receipt *models.DeliveryReceipt) error {
	return nil
}

func (f *fakeReceiptRepo) SaveBatch(ctx context.Context, receipts []*models.DeliveryReceipt) error {
	f.receipts = append(f.receipts, receipts...)
	return nil
}

func (f *fakeReceiptRepo) Count(ctx context.Context, filter models.DeliveryReceiptFilter) (int64, error) {
	return int64(len(f.receipts)), nil
}

func (f *fakeReceiptRepo) ListByTask(ctx context.Context, messageTaskID uint) ([]*models.DeliveryReceipt, error) {
	var out []*models.DeliveryReceipt
	for _, r := range f.receipts {
		if r.MessageTaskID == messageTaskID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Interface checks
var (
	_ repository.UploadJobRepository       = (*fakeUploadRepo)(nil)
	_ repository.RowResultRepository       = (*fakeRowRepo)(nil)
	_ repository.PolicyHolderRepository    = (*fakeHolderRepo)(nil)
	_ repository.CampaignJobRepository     = (*fakeCampaignRepo)(nil)
	_ repository.MessageTaskRepository     = (*fakeFlowTaskRepo)(nil)
	_ repository.DeliveryReceiptRepository = (*fakeReceiptRepo)(nil)
)
