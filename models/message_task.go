package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// Channel is the closed set of outbound communication channels
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// String returns the string representation of the channel
func (c Channel) String() string {
	return string(c)
}

// Valid checks if the channel is a known variant
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// AllChannels lists every supported channel variant
func AllChannels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp}
}

// TaskState represents the dispatch state of a message task
type TaskState string

const (
	TaskStateQueued       TaskState = "queued"
	TaskStateLeased       TaskState = "leased"
	TaskStateSending      TaskState = "sending"
	TaskStateSent         TaskState = "sent"
	TaskStateDelivered    TaskState = "delivered"
	TaskStateFailed       TaskState = "failed"
	TaskStateDeadLettered TaskState = "dead_lettered"
)

// String returns the string representation of the state
func (s TaskState) String() string {
	return string(s)
}

// Valid checks if the state is valid
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateQueued, TaskStateLeased, TaskStateSending,
		TaskStateSent, TaskStateDelivered, TaskStateFailed, TaskStateDeadLettered:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is permitted
func (s TaskState) IsTerminal() bool {
	return s == TaskStateDelivered || s == TaskStateFailed || s == TaskStateDeadLettered
}

// rank orders states along the forward path. Used to enforce monotonic
// transitions; leased->queued is the single allowed regression.
func (s TaskState) rank() int {
	switch s {
	case TaskStateQueued:
		return 0
	case TaskStateLeased:
		return 1
	case TaskStateSending:
		return 2
	case TaskStateSent:
		return 3
	case TaskStateDelivered, TaskStateFailed, TaskStateDeadLettered:
		return 4
	default:
		return -1
	}
}

// CanTransitionTo checks whether a state transition is legal. A task
// never leaves a terminal state; the only backward move is a lease
// expiry returning a leased or sending task to queued.
func (s TaskState) CanTransitionTo(next TaskState) bool {
	if !s.Valid() || !next.Valid() || s == next {
		return false
	}
	if s.IsTerminal() {
		return false
	}
	if next == TaskStateQueued {
		return s == TaskStateLeased || s == TaskStateSending
	}
	if next.IsTerminal() {
		return true
	}
	return next.rank() == s.rank()+1
}

// Scan implements the sql.Scanner interface for TaskState
func (s *TaskState) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = TaskState(v)
	case []byte:
		*s = TaskState(string(v))
	default:
		return fmt.Errorf("cannot scan %T into TaskState", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for TaskState
func (s TaskState) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid TaskState: %s", s)
	}
	return string(s), nil
}

// MessageTask is one recipient+channel send unit within a campaign.
// The (campaign, policy holder, channel) tuple is the dedup key: it is
// unique among non-terminal tasks.
type MessageTask struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:uk_message_tasks_uuid" json:"uuid"`
	CampaignID     uint       `gorm:"not null;index:idx_message_tasks_campaign_id;index:idx_message_tasks_dedup,priority:1" json:"campaign_id"`
	PolicyHolderID uint       `gorm:"not null;index:idx_message_tasks_dedup,priority:2" json:"policy_holder_id"`
	Channel        Channel    `gorm:"size:16;not null;index:idx_message_tasks_dedup,priority:3;index:idx_message_tasks_channel" json:"channel"`
	Recipient      string     `gorm:"size:255;not null" json:"recipient"`
	Payload        string     `gorm:"type:text;not null" json:"payload"`
	State          TaskState  `gorm:"type:message_task_state;not null;default:'queued';index:idx_message_tasks_state" json:"state"`
	RetryCount     int        `gorm:"not null;default:0" json:"retry_count"`
	VisibleAt      time.Time  `gorm:"not null;index:idx_message_tasks_visible_at" json:"visible_at"`
	LeaseToken     *uuid.UUID `gorm:"type:uuid" json:"lease_token,omitempty"`
	LeaseExpiresAt *time.Time `gorm:"index:idx_message_tasks_lease_expires_at" json:"lease_expires_at,omitempty"`
	ProviderMsgID  *string    `gorm:"size:128;index:idx_message_tasks_provider_msg_id" json:"provider_msg_id,omitempty"`
	FailureReason  *string    `gorm:"type:text" json:"failure_reason,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
	CreatedAt      time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_message_tasks_created_at" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`

	// Relations
	Receipts []DeliveryReceipt `gorm:"foreignKey:MessageTaskID" json:"receipts,omitempty"`
}

// TableName returns the table name for the model
func (MessageTask) TableName() string {
	return "message_tasks"
}

// BeforeCreate is called before creating a new record
func (t *MessageTask) BeforeCreate(tx *gorm.DB) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.State == "" {
		t.State = TaskStateQueued
	}
	if t.VisibleAt.IsZero() {
		t.VisibleAt = utils.UTCNow()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (t *MessageTask) BeforeUpdate(tx *gorm.DB) error {
	t.UpdatedAt = utils.UTCNow()
	return nil
}

// MessageTaskFilter represents filter criteria for message tasks
type MessageTaskFilter struct {
	ID             *uint      `json:"id,omitempty"`
	UUID           *uuid.UUID `json:"uuid,omitempty"`
	CampaignID     *uint      `json:"campaign_id,omitempty"`
	PolicyHolderID *uint      `json:"policy_holder_id,omitempty"`
	Channel        *Channel   `json:"channel,omitempty"`
	State          *TaskState `json:"state,omitempty"`
	ProviderMsgID  *string    `json:"provider_msg_id,omitempty"`
}

// TaskStateCounts aggregates task counts per state for one campaign
type TaskStateCounts struct {
	Queued       int64 `json:"queued"`
	Leased       int64 `json:"leased"`
	Sending      int64 `json:"sending"`
	Sent         int64 `json:"sent"`
	Delivered    int64 `json:"delivered"`
	Failed       int64 `json:"failed"`
	DeadLettered int64 `json:"dead_lettered"`
}

// Pending returns the number of tasks not yet at a terminal state
func (c TaskStateCounts) Pending() int64 {
	return c.Queued + c.Leased + c.Sending + c.Sent
}

// Total returns the total number of tasks
func (c TaskStateCounts) Total() int64 {
	return c.Pending() + c.Delivered + c.Failed + c.DeadLettered
}
