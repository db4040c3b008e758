// Package models contains the persisted entities of the renewal communication pipeline
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"gorm.io/gorm"
)

// UploadJobStatus represents the status of a bulk file ingestion
type UploadJobStatus string

const (
	UploadJobStatusPending    UploadJobStatus = "pending"
	UploadJobStatusProcessing UploadJobStatus = "processing"
	UploadJobStatusCompleted  UploadJobStatus = "completed"
	UploadJobStatusFailed     UploadJobStatus = "failed"
)

// String returns the string representation of the status
func (s UploadJobStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s UploadJobStatus) Valid() bool {
	switch s {
	case UploadJobStatusPending, UploadJobStatusProcessing,
		UploadJobStatusCompleted, UploadJobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further row processing may occur
func (s UploadJobStatus) IsTerminal() bool {
	return s == UploadJobStatusCompleted || s == UploadJobStatusFailed
}

// Scan implements the sql.Scanner interface for UploadJobStatus
func (s *UploadJobStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*s = UploadJobStatus(v)
	case []byte:
		*s = UploadJobStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into UploadJobStatus", value)
	}
	return nil
}

// Value implements the driver.Valuer interface for UploadJobStatus
func (s UploadJobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid UploadJobStatus: %s", s)
	}
	return string(s), nil
}

// UploadFileType identifies the supported upload formats
type UploadFileType string

const (
	UploadFileTypeCSV  UploadFileType = "csv"
	UploadFileTypeXLSX UploadFileType = "xlsx"
)

// UploadJob tracks one bulk policy/customer file ingestion
type UploadJob struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	UUID           uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uk_upload_jobs_uuid" json:"uuid"`
	FileName       string          `gorm:"size:255;not null" json:"file_name"`
	FileType       UploadFileType  `gorm:"size:10;not null" json:"file_type"`
	TotalRows      int64           `gorm:"not null;default:0" json:"total_rows"`
	ValidatedCount int64           `gorm:"not null;default:0" json:"validated_count"`
	FailedCount    int64           `gorm:"not null;default:0" json:"failed_count"`
	Status         UploadJobStatus `gorm:"type:upload_job_status;not null;default:'pending';index:idx_upload_jobs_status" json:"status"`
	FatalError     *string         `gorm:"type:text" json:"fatal_error,omitempty"`
	CreatedBy      string          `gorm:"size:128" json:"created_by"`
	CreatedAt      time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_upload_jobs_created_at" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`

	// Relations
	RowResults []RowResult `gorm:"foreignKey:UploadJobID" json:"row_results,omitempty"`
}

// TableName returns the table name for the model
func (UploadJob) TableName() string {
	return "upload_jobs"
}

// BeforeCreate is called before creating a new record
func (j *UploadJob) BeforeCreate(tx *gorm.DB) error {
	if j.UUID == uuid.Nil {
		j.UUID = uuid.New()
	}
	if j.Status == "" {
		j.Status = UploadJobStatusPending
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = utils.UTCNow()
	}
	return nil
}

// BeforeUpdate is called before updating a record
func (j *UploadJob) BeforeUpdate(tx *gorm.DB) error {
	j.UpdatedAt = utils.UTCNow()
	return nil
}

// UploadJobFilter represents filter criteria for upload jobs
type UploadJobFilter struct {
	ID            *uint            `json:"id,omitempty"`
	UUID          *uuid.UUID       `json:"uuid,omitempty"`
	Status        *UploadJobStatus `json:"status,omitempty"`
	CreatedBy     *string          `json:"created_by,omitempty"`
	CreatedAfter  *time.Time       `json:"created_after,omitempty"`
	CreatedBefore *time.Time       `json:"created_before,omitempty"`
}
