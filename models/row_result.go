package models

import (
	"encoding/json"
	"time"
)

// RowResult records the validation outcome of a single input row.
// Rows are immutable once written and owned by their UploadJob.
type RowResult struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UploadJobID uint            `gorm:"not null;index:idx_row_results_upload_job_id" json:"upload_job_id"`
	RowIndex    int64           `gorm:"not null;index:idx_row_results_row_index" json:"row_index"`
	Raw         json.RawMessage `gorm:"type:jsonb;not null" json:"raw"`
	Normalized  json.RawMessage `gorm:"type:jsonb" json:"normalized,omitempty"`
	ErrorCode   *string         `gorm:"size:64" json:"error_code,omitempty"`
	ErrorField  *string         `gorm:"size:64" json:"error_field,omitempty"`
	ErrorDetail *string         `gorm:"type:text" json:"error_detail,omitempty"`
	CreatedAt   time.Time       `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for the model
func (RowResult) TableName() string {
	return "row_results"
}

// IsValid reports whether the row passed validation
func (r *RowResult) IsValid() bool {
	return r.ErrorCode == nil
}

// RowResultFilter represents filter criteria for row results
type RowResultFilter struct {
	ID          *uint   `json:"id,omitempty"`
	UploadJobID *uint   `json:"upload_job_id,omitempty"`
	RowIndex    *int64  `json:"row_index,omitempty"`
	ErrorCode   *string `json:"error_code,omitempty"`
	OnlyFailed  *bool   `json:"only_failed,omitempty"`
}
