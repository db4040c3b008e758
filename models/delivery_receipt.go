package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ReceiptStatus is the normalized status carried by a provider callback
type ReceiptStatus string

const (
	ReceiptStatusAccepted  ReceiptStatus = "accepted"
	ReceiptStatusDelivered ReceiptStatus = "delivered"
	ReceiptStatusFailed    ReceiptStatus = "failed"
)

// String returns the string representation of the status
func (s ReceiptStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s ReceiptStatus) Valid() bool {
	switch s {
	case ReceiptStatusAccepted, ReceiptStatusDelivered, ReceiptStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for ReceiptStatus
func (s *ReceiptStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = ReceiptStatus(v)
	case []byte:
		*s = ReceiptStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into ReceiptStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for ReceiptStatus
func (s ReceiptStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid ReceiptStatus: %s", s)
	}
	return string(s), nil
}

// DeliveryReceipt correlates an external provider message identifier to
// a message task. Receipts are append-only; several may arrive per task
// (intermediate plus final).
type DeliveryReceipt struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	MessageTaskID uint            `gorm:"not null;index:idx_delivery_receipts_message_task_id" json:"message_task_id"`
	Provider      string          `gorm:"size:64;not null" json:"provider"`
	ExternalID    string          `gorm:"size:128;not null;index:idx_delivery_receipts_external_id" json:"external_id"`
	Status        ReceiptStatus   `gorm:"type:delivery_receipt_status;not null" json:"status"`
	OccurredAt    time.Time       `gorm:"not null" json:"occurred_at"`
	Raw           json.RawMessage `gorm:"type:jsonb" json:"raw,omitempty"`
	CreatedAt     time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (DeliveryReceipt) TableName() string {
	return "delivery_receipts"
}

// DeliveryReceiptFilter represents filter criteria for delivery receipts
type DeliveryReceiptFilter struct {
	ID            *uint          `json:"id,omitempty"`
	MessageTaskID *uint          `json:"message_task_id,omitempty"`
	Provider      *string        `json:"provider,omitempty"`
	ExternalID    *string        `json:"external_id,omitempty"`
	Status        *ReceiptStatus `json:"status,omitempty"`
}
