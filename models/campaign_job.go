package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// CampaignJobStatus represents the lifecycle state of a campaign
type CampaignJobStatus string

const (
	CampaignJobStatusDraft     CampaignJobStatus = "draft"
	CampaignJobStatusScheduled CampaignJobStatus = "scheduled"
	CampaignJobStatusRunning   CampaignJobStatus = "running"
	CampaignJobStatusPaused    CampaignJobStatus = "paused"
	CampaignJobStatusCompleted CampaignJobStatus = "completed"
	CampaignJobStatusFailed    CampaignJobStatus = "failed"
)

// String returns the string representation of the status
func (s CampaignJobStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s CampaignJobStatus) Valid() bool {
	switch s {
	case CampaignJobStatusDraft, CampaignJobStatusScheduled,
		CampaignJobStatusRunning, CampaignJobStatusPaused,
		CampaignJobStatusCompleted, CampaignJobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the campaign lifecycle has ended
func (s CampaignJobStatus) IsTerminal() bool {
	return s == CampaignJobStatusCompleted || s == CampaignJobStatusFailed
}

// Scan implements the sql.Scanner interface for CampaignJobStatus
func (s *CampaignJobStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = CampaignJobStatus(v)
	case []byte:
		*s = CampaignJobStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CampaignJobStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for CampaignJobStatus
func (s CampaignJobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid CampaignJobStatus: %s", s)
	}
	return string(s), nil
}

// SegmentationSpec is the JSON segmentation filter resolved against the
// policy holder dataset when the campaign starts
type SegmentationSpec struct {
	PolicyTypes       []string   `json:"policy_types,omitempty"`
	Cities            []string   `json:"cities,omitempty"`
	Segments          []string   `json:"segments,omitempty"`
	RenewalDateAfter  *time.Time `json:"renewal_date_after,omitempty"`
	RenewalDateBefore *time.Time `json:"renewal_date_before,omitempty"`
}

// Value implements the driver.Valuer interface for SegmentationSpec
func (s SegmentationSpec) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface for SegmentationSpec
func (s *SegmentationSpec) Scan(value any) error {
	if value == nil {
		*s = SegmentationSpec{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SegmentationSpec", value)
	}
	return json.Unmarshal(bytes, s)
}

// ToFilter converts the spec into a repository filter
func (s SegmentationSpec) ToFilter() PolicyHolderFilter {
	f := PolicyHolderFilter{
		PolicyTypes:       s.PolicyTypes,
		Cities:            s.Cities,
		RenewalDateAfter:  s.RenewalDateAfter,
		RenewalDateBefore: s.RenewalDateBefore,
	}
	if len(s.Segments) > 0 {
		arr := pq.StringArray(s.Segments)
		f.Segments = &arr
	}
	return f
}

// CampaignJob is a scheduled multi-channel communication effort over an audience
type CampaignJob struct {
	ID            uint              `gorm:"primaryKey" json:"id"`
	UUID          uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:uk_campaign_jobs_uuid" json:"uuid"`
	Name          string            `gorm:"size:255;not null" json:"name"`
	Channels      pq.StringArray    `gorm:"type:text[];not null" json:"channels"`
	Filter        SegmentationSpec  `gorm:"type:jsonb;not null" json:"filter"`
	TemplateBody  string            `gorm:"type:text;not null" json:"template_body"`
	ScheduleAt    time.Time         `gorm:"not null;index:idx_campaign_jobs_schedule_at" json:"schedule_at"`
	Timezone      string            `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	Status        CampaignJobStatus `gorm:"type:campaign_job_status;not null;default:'draft';index:idx_campaign_jobs_status" json:"status"`
	FailureReason *string           `gorm:"type:text" json:"failure_reason,omitempty"`
	UploadJobID   *uint             `gorm:"index:idx_campaign_jobs_upload_job_id" json:"upload_job_id,omitempty"`

	// Cached aggregates; authoritative values are the task counts and
	// are reconciled by RecomputeStatus.
	SentCount    int64 `gorm:"not null;default:0" json:"sent_count"`
	FailedCount  int64 `gorm:"not null;default:0" json:"failed_count"`
	PendingCount int64 `gorm:"not null;default:0" json:"pending_count"`

	CreatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_campaign_jobs_created_at" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relations
	Tasks []MessageTask `gorm:"foreignKey:CampaignID" json:"tasks,omitempty"`
}

// TableName returns the table name for the model
func (CampaignJob) TableName() string {
	return "campaign_jobs"
}

// BeforeCreate is called before creating a new record
func (c *CampaignJob) BeforeCreate(tx *gorm.DB) error {
	if c.UUID == uuid.Nil {
		c.UUID = uuid.New()
	}
	if c.Status == "" {
		c.Status = CampaignJobStatusDraft
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (c *CampaignJob) BeforeUpdate(tx *gorm.DB) error {
	c.UpdatedAt = utils.UTCNow()
	return nil
}

// CanTransitionTo checks if the campaign can transition to the given status.
// Any non-terminal state may move to failed on unrecoverable error.
func (c *CampaignJob) CanTransitionTo(newStatus CampaignJobStatus) bool {
	if newStatus == CampaignJobStatusFailed {
		return !c.Status.IsTerminal()
	}
	switch c.Status {
	case CampaignJobStatusDraft:
		return newStatus == CampaignJobStatusScheduled
	case CampaignJobStatusScheduled:
		return newStatus == CampaignJobStatusRunning
	case CampaignJobStatusRunning:
		return newStatus == CampaignJobStatusPaused ||
			newStatus == CampaignJobStatusCompleted
	case CampaignJobStatusPaused:
		return newStatus == CampaignJobStatusRunning
	default:
		return false
	}
}

// CampaignJobFilter represents filter criteria for campaign jobs
type CampaignJobFilter struct {
	ID             *uint              `json:"id,omitempty"`
	UUID           *uuid.UUID         `json:"uuid,omitempty"`
	Status         *CampaignJobStatus `json:"status,omitempty"`
	ScheduleAfter  *time.Time         `json:"schedule_after,omitempty"`
	ScheduleBefore *time.Time         `json:"schedule_before,omitempty"`
	CreatedAfter   *time.Time         `json:"created_after,omitempty"`
	CreatedBefore  *time.Time         `json:"created_before,omitempty"`
}
