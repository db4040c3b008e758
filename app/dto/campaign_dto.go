package dto

import "time"

// SegmentationCriteria represents the audience filter of a campaign
type SegmentationCriteria struct {
	PolicyTypes       []string   `json:"policy_types,omitempty"`
	Cities            []string   `json:"cities,omitempty"`
	Segments          []string   `json:"segments,omitempty"`
	RenewalDateAfter  *time.Time `json:"renewal_date_after,omitempty"`
	RenewalDateBefore *time.Time `json:"renewal_date_before,omitempty"`
}

// CreateCampaignRequest represents the request to create a new campaign
type CreateCampaignRequest struct {
	Name         string               `json:"name" validate:"required,min=3,max=255"`
	Channels     []string             `json:"channels" validate:"required,min=1,dive,oneof=email sms whatsapp"`
	TemplateBody string               `json:"template_body" validate:"required,min=1"`
	ScheduleAt   *time.Time           `json:"schedule_at,omitempty"`
	Timezone     string               `json:"timezone,omitempty"`
	Filter       SegmentationCriteria `json:"filter"`
}

// CreateCampaignResponse represents the response to create a new campaign
type CreateCampaignResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// GetCampaignRequest represents the request to fetch one campaign
type GetCampaignRequest struct {
	UUID string `json:"-"`
}

// CampaignCounters represents the cached dispatch aggregates
type CampaignCounters struct {
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
	Pending int64 `json:"pending"`
}

// GetCampaignResponse represents one campaign in responses
type GetCampaignResponse struct {
	UUID          string               `json:"uuid"`
	Name          string               `json:"name"`
	Channels      []string             `json:"channels"`
	Status        string               `json:"status"`
	ScheduleAt    *time.Time           `json:"schedule_at,omitempty"`
	Timezone      string               `json:"timezone,omitempty"`
	Filter        SegmentationCriteria `json:"filter"`
	Counters      CampaignCounters     `json:"counters"`
	FailureReason *string              `json:"failure_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
}

// ListCampaignsRequest represents the request to list campaigns
type ListCampaignsRequest struct {
	Status   string `json:"-"`
	Page     int    `json:"-"`
	PageSize int    `json:"-"`
}

// ListCampaignsResponse represents a page of campaigns
type ListCampaignsResponse struct {
	Items    []GetCampaignResponse `json:"items"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Total    int64                 `json:"total"`
}

// ScheduleCampaignRequest represents the request to schedule a draft campaign
type ScheduleCampaignRequest struct {
	UUID       string     `json:"-"`
	ScheduleAt *time.Time `json:"schedule_at" validate:"required"`
	Timezone   string     `json:"timezone,omitempty"`
}

// CampaignActionRequest represents a lifecycle action on a campaign
type CampaignActionRequest struct {
	UUID string `json:"-"`
}

// CampaignActionResponse represents the outcome of a lifecycle action
type CampaignActionResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}
