package dto

import "time"

// CreateUploadRequest represents the request to start a bulk file ingestion
type CreateUploadRequest struct {
	FileName  string `json:"-"`
	FileType  string `json:"-"`
	CreatedBy string `json:"-"`
}

// CreateUploadResponse represents the response to start a bulk file ingestion
type CreateUploadResponse struct {
	Message   string `json:"message"`
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// GetUploadStatusRequest represents the request to fetch an upload job's progress
type GetUploadStatusRequest struct {
	UUID string `json:"-"`
}

// GetUploadStatusResponse represents the progress of one upload job
type GetUploadStatusResponse struct {
	UUID           string     `json:"uuid"`
	FileName       string     `json:"file_name"`
	FileType       string     `json:"file_type"`
	Status         string     `json:"status"`
	TotalRows      int64      `json:"total_rows"`
	ValidatedCount int64      `json:"validated_count"`
	FailedCount    int64      `json:"failed_count"`
	FatalError     *string    `json:"fatal_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// ListRowErrorsRequest represents the request to list failed rows of an upload
type ListRowErrorsRequest struct {
	UUID     string `json:"-"`
	Page     int    `json:"-"`
	PageSize int    `json:"-"`
}

// RowErrorItem represents one failed row in responses
type RowErrorItem struct {
	RowIndex    int64   `json:"row_index"`
	ErrorCode   string  `json:"error_code"`
	ErrorField  *string `json:"error_field,omitempty"`
	ErrorDetail *string `json:"error_detail,omitempty"`
}

// ListRowErrorsResponse represents the paginated failed rows of an upload
type ListRowErrorsResponse struct {
	Items    []RowErrorItem `json:"items"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Total    int64          `json:"total"`
}
