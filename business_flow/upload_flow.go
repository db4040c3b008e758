// Package businessflow contains the core business logic and use cases for ingestion workflows
package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/app/dto"
	"github.com/welleazyhts/Renewal-Backend/app/ingestion"
	"github.com/welleazyhts/Renewal-Backend/app/middleware"
	"github.com/welleazyhts/Renewal-Backend/app/services"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// rowBatchSize bounds memory while persisting row results and holders
const rowBatchSize = 200

// UploadFlow handles the bulk ingestion business logic
type UploadFlow interface {
	CreateUpload(ctx context.Context, req *dto.CreateUploadRequest) (*dto.CreateUploadResponse, error)
	// ProcessUpload runs the full validation pipeline for a pending job.
	// It is called asynchronously after CreateUpload returns.
	ProcessUpload(ctx context.Context, jobUUID uuid.UUID, file io.Reader) error
	GetUploadStatus(ctx context.Context, req *dto.GetUploadStatusRequest) (*dto.GetUploadStatusResponse, error)
	ListRowErrors(ctx context.Context, req *dto.ListRowErrorsRequest) (*dto.ListRowErrorsResponse, error)
}

// UploadFlowImpl implements the upload business flow
type UploadFlowImpl struct {
	uploadRepo repository.UploadJobRepository
	rowRepo    repository.RowResultRepository
	holderRepo repository.PolicyHolderRepository
	validator  *ingestion.Validator
	notifier   services.ProgressNotifier
}

// NewUploadFlow creates a new upload flow instance
func NewUploadFlow(
	uploadRepo repository.UploadJobRepository,
	rowRepo repository.RowResultRepository,
	holderRepo repository.PolicyHolderRepository,
	validator *ingestion.Validator,
	notifier services.ProgressNotifier,
) UploadFlow {
	return &UploadFlowImpl{
		uploadRepo: uploadRepo,
		rowRepo:    rowRepo,
		holderRepo: holderRepo,
		validator:  validator,
		notifier:   notifier,
	}
}

// CreateUpload registers a new upload job in pending state
func (s *UploadFlowImpl) CreateUpload(ctx context.Context, req *dto.CreateUploadRequest) (*dto.CreateUploadResponse, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return nil, NewBusinessError("UPLOAD_VALIDATION_FAILED", "Upload validation failed", ErrUploadFileNameRequired)
	}
	fileType, err := resolveFileType(req.FileName, req.FileType)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_VALIDATION_FAILED", "Upload validation failed", err)
	}

	job := &models.UploadJob{
		FileName:  req.FileName,
		FileType:  fileType,
		Status:    models.UploadJobStatusPending,
		CreatedBy: req.CreatedBy,
	}
	if err := s.uploadRepo.Save(ctx, job); err != nil {
		return nil, NewBusinessError("UPLOAD_CREATION_FAILED", "Upload creation failed", err)
	}

	return &dto.CreateUploadResponse{
		Message:   "Upload accepted for validation",
		UUID:      job.UUID.String(),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}, nil
}

// ProcessUpload validates the file row by row and upserts valid rows
// into the policy holder dataset. Row-level failures never abort the
// pass; structural problems fail the whole job.
func (s *UploadFlowImpl) ProcessUpload(ctx context.Context, jobUUID uuid.UUID, file io.Reader) error {
	job, err := s.uploadRepo.ByUUID(ctx, jobUUID)
	if err != nil {
		return NewBusinessError("UPLOAD_LOOKUP_FAILED", "Failed to lookup upload job", err)
	}
	if job == nil {
		return NewBusinessError("UPLOAD_NOT_FOUND", "Upload job not found", ErrUploadJobNotFound)
	}
	if job.Status.IsTerminal() {
		return NewBusinessError("UPLOAD_ALREADY_FINISHED", "Upload job already finished", ErrUploadAlreadyTerminal)
	}

	job.Status = models.UploadJobStatusProcessing
	if err := s.uploadRepo.Update(ctx, job); err != nil {
		return NewBusinessError("UPLOAD_UPDATE_FAILED", "Failed to mark upload processing", err)
	}

	stream := services.UploadStream(job.UUID.String())
	var (
		rowBatch    []*models.RowResult
		holderBatch []*models.PolicyHolder
	)

	flush := func() error {
		if len(rowBatch) > 0 {
			if err := s.rowRepo.SaveBatch(ctx, rowBatch); err != nil {
				return fmt.Errorf("failed to persist row results: %w", err)
			}
			rowBatch = rowBatch[:0]
		}
		if len(holderBatch) > 0 {
			if err := s.holderRepo.UpsertBatch(ctx, holderBatch); err != nil {
				return fmt.Errorf("failed to upsert policy holders: %w", err)
			}
			holderBatch = holderBatch[:0]
		}
		return nil
	}

	emit := func(outcome ingestion.RowOutcome) error {
		result := &models.RowResult{
			UploadJobID: job.ID,
			RowIndex:    outcome.Index,
			Raw:         ingestion.MarshalRaw(outcome.Raw),
		}
		if outcome.Err != nil {
			middleware.RecordIngestedRow("failed")
			result.ErrorCode = utils.ToPtr(outcome.Err.Code)
			result.ErrorField = utils.ToPtr(outcome.Err.Field)
			result.ErrorDetail = utils.ToPtr(outcome.Err.Detail)
		} else {
			middleware.RecordIngestedRow("valid")
			normalized, err := json.Marshal(outcome.Normalized)
			if err != nil {
				return fmt.Errorf("failed to marshal normalized row: %w", err)
			}
			result.Normalized = normalized
			holderBatch = append(holderBatch, outcome.Normalized.ToPolicyHolder())
		}
		rowBatch = append(rowBatch, result)
		if len(rowBatch) >= rowBatchSize {
			return flush()
		}
		return nil
	}

	// Counters move at each checkpoint so status polls see live progress
	// instead of zeros until the terminal write.
	var lastValid, lastFailed int64
	checkpoint := func(stats ingestion.Stats) {
		if err := s.uploadRepo.IncrementCounters(ctx, job.ID, stats.Valid-lastValid, stats.Failed-lastFailed); err != nil {
			log.Printf("failed to increment counters for upload %s: %v", job.UUID, err)
		} else {
			lastValid, lastFailed = stats.Valid, stats.Failed
		}
		s.notifier.Publish(ctx, stream, services.StageValidating,
			stats.Total, stats.Valid, stats.Failed, 0, "")
	}

	stats, streamErr := s.validator.Stream(ctx, file, job.FileType, emit, checkpoint)

	// Persist whatever was accumulated before deciding the terminal state
	if err := flush(); err != nil && streamErr == nil {
		streamErr = err
	}

	job.TotalRows = stats.Total
	job.ValidatedCount = stats.Valid
	job.FailedCount = stats.Failed
	job.CompletedAt = utils.UTCNowPtr()

	if streamErr != nil {
		job.Status = models.UploadJobStatusFailed
		job.FatalError = utils.ToPtr(streamErr.Error())
		if err := s.uploadRepo.Update(ctx, job); err != nil {
			return NewBusinessError("UPLOAD_UPDATE_FAILED", "Failed to mark upload failed", err)
		}
		s.notifier.Publish(ctx, stream, services.StageFailed,
			stats.Total, stats.Valid, stats.Failed, stats.Total, streamErr.Error())
		return NewBusinessError("UPLOAD_PROCESSING_FAILED", "Upload processing failed", streamErr)
	}

	job.Status = models.UploadJobStatusCompleted
	if err := s.uploadRepo.Update(ctx, job); err != nil {
		return NewBusinessError("UPLOAD_UPDATE_FAILED", "Failed to mark upload completed", err)
	}
	s.notifier.Publish(ctx, stream, services.StageCompleted,
		stats.Total, stats.Valid, stats.Failed, stats.Total, "")
	return nil
}

// GetUploadStatus returns the current progress of an upload job
func (s *UploadFlowImpl) GetUploadStatus(ctx context.Context, req *dto.GetUploadStatusRequest) (*dto.GetUploadStatusResponse, error) {
	jobUUID, err := uuid.Parse(req.UUID)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_NOT_FOUND", "Upload job not found", ErrUploadJobNotFound)
	}
	job, err := s.uploadRepo.ByUUID(ctx, jobUUID)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_LOOKUP_FAILED", "Failed to lookup upload job", err)
	}
	if job == nil {
		return nil, NewBusinessError("UPLOAD_NOT_FOUND", "Upload job not found", ErrUploadJobNotFound)
	}

	return &dto.GetUploadStatusResponse{
		UUID:           job.UUID.String(),
		FileName:       job.FileName,
		FileType:       string(job.FileType),
		Status:         string(job.Status),
		TotalRows:      job.TotalRows,
		ValidatedCount: job.ValidatedCount,
		FailedCount:    job.FailedCount,
		FatalError:     job.FatalError,
		CreatedAt:      job.CreatedAt,
		CompletedAt:    job.CompletedAt,
	}, nil
}

// ListRowErrors returns the failed rows of an upload, paginated
func (s *UploadFlowImpl) ListRowErrors(ctx context.Context, req *dto.ListRowErrorsRequest) (*dto.ListRowErrorsResponse, error) {
	if req.Page < 1 {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", ErrInvalidPage)
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		return nil, NewBusinessError("INVALID_PAGINATION", "Invalid pagination", ErrInvalidPageSize)
	}
	jobUUID, err := uuid.Parse(req.UUID)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_NOT_FOUND", "Upload job not found", ErrUploadJobNotFound)
	}
	job, err := s.uploadRepo.ByUUID(ctx, jobUUID)
	if err != nil {
		return nil, NewBusinessError("UPLOAD_LOOKUP_FAILED", "Failed to lookup upload job", err)
	}
	if job == nil {
		return nil, NewBusinessError("UPLOAD_NOT_FOUND", "Upload job not found", ErrUploadJobNotFound)
	}

	onlyFailed := true
	filter := models.RowResultFilter{UploadJobID: &job.ID, OnlyFailed: &onlyFailed}
	total, err := s.rowRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("ROW_ERRORS_LOOKUP_FAILED", "Failed to count failed rows", err)
	}
	rows, err := s.rowRepo.ByFilter(ctx, filter, "row_index ASC", req.PageSize, (req.Page-1)*req.PageSize)
	if err != nil {
		return nil, NewBusinessError("ROW_ERRORS_LOOKUP_FAILED", "Failed to list failed rows", err)
	}

	items := make([]dto.RowErrorItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, dto.RowErrorItem{
			RowIndex:    row.RowIndex,
			ErrorCode:   utils.FromPtr(row.ErrorCode),
			ErrorField:  row.ErrorField,
			ErrorDetail: row.ErrorDetail,
		})
	}
	return &dto.ListRowErrorsResponse{
		Items:    items,
		Page:     req.Page,
		PageSize: req.PageSize,
		Total:    total,
	}, nil
}

func resolveFileType(fileName, declared string) (models.UploadFileType, error) {
	candidate := strings.ToLower(strings.TrimSpace(declared))
	if candidate == "" {
		if i := strings.LastIndex(fileName, "."); i >= 0 {
			candidate = strings.ToLower(fileName[i+1:])
		}
	}
	switch candidate {
	case "csv":
		return models.UploadFileTypeCSV, nil
	case "xlsx":
		return models.UploadFileTypeXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFileType, candidate)
	}
}
