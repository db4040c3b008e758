// Package handlers contains HTTP request handlers and presentation layer logic for the API endpoints
package handlers

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/welleazyhts/Renewal-Backend/app/dto"
	businessflow "github.com/welleazyhts/Renewal-Backend/business_flow"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// UploadHandlerInterface defines the contract for upload handlers
type UploadHandlerInterface interface {
	CreateUpload(c fiber.Ctx) error
	GetUploadStatus(c fiber.Ctx) error
	ListRowErrors(c fiber.Ctx) error
}

// UploadHandler handles bulk upload HTTP requests
type UploadHandler struct {
	uploadFlow businessflow.UploadFlow
	validator  *validator.Validate
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploadFlow businessflow.UploadFlow) *UploadHandler {
	return &UploadHandler{
		uploadFlow: uploadFlow,
		validator:  validator.New(),
	}
}

func (h *UploadHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *UploadHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateUpload accepts a CSV or XLSX file, registers the upload job and
// kicks off validation in the background. The response carries the job
// uuid to poll for progress.
func (h *UploadHandler) CreateUpload(c fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Missing file", "MISSING_FILE", err.Error())
	}

	req := &dto.CreateUploadRequest{
		FileName:  fileHeader.Filename,
		FileType:  c.FormValue("file_type"),
		CreatedBy: c.Get("X-User-ID"),
	}

	result, err := h.uploadFlow.CreateUpload(h.createRequestContext(c, "/api/v1/uploads"), req)
	if err != nil {
		log.Println("Upload creation failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Upload creation failed", "UPLOAD_CREATION_FAILED", nil)
	}

	// Spool the upload to a temp file so validation can run after this
	// request returns.
	src, err := fileHeader.Open()
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Cannot read file", "UNREADABLE_FILE", err.Error())
	}
	defer src.Close()

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(fileHeader.Filename))
	if err != nil {
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Cannot buffer file", "UPLOAD_BUFFER_FAILED", nil)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Cannot buffer file", "UPLOAD_BUFFER_FAILED", nil)
	}
	tmp.Close()

	jobUUID, _ := uuid.Parse(result.UUID)
	go func(path string, jobUUID uuid.UUID) {
		defer os.Remove(path)
		f, err := os.Open(path)
		if err != nil {
			log.Printf("upload %s: cannot reopen spooled file: %v", jobUUID, err)
			return
		}
		defer f.Close()
		if err := h.uploadFlow.ProcessUpload(context.Background(), jobUUID, f); err != nil {
			log.Printf("upload %s: processing failed: %v", jobUUID, err)
		}
	}(tmp.Name(), jobUUID)

	return h.SuccessResponse(c, fiber.StatusAccepted, "Upload accepted", fiber.Map{
		"message":    result.Message,
		"uuid":       result.UUID,
		"status":     result.Status,
		"created_at": result.CreatedAt,
	})
}

// GetUploadStatus returns the progress and counters of one upload job
func (h *UploadHandler) GetUploadStatus(c fiber.Ctx) error {
	req := &dto.GetUploadStatusRequest{UUID: c.Params("uuid")}

	result, err := h.uploadFlow.GetUploadStatus(h.createRequestContext(c, "/api/v1/uploads/:uuid"), req)
	if err != nil {
		if businessflow.IsUploadJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Upload job not found", "UPLOAD_NOT_FOUND", nil)
		}
		log.Println("Upload status lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Upload status lookup failed", "UPLOAD_LOOKUP_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Upload status retrieved", result)
}

// ListRowErrors returns the failed rows of an upload, paginated
func (h *UploadHandler) ListRowErrors(c fiber.Ctx) error {
	req := &dto.ListRowErrorsRequest{
		UUID:     c.Params("uuid"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}

	result, err := h.uploadFlow.ListRowErrors(h.createRequestContext(c, "/api/v1/uploads/:uuid/errors"), req)
	if err != nil {
		if businessflow.IsUploadJobNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Upload job not found", "UPLOAD_NOT_FOUND", nil)
		}
		log.Println("Row errors lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Row errors lookup failed", "ROW_ERRORS_LOOKUP_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Row errors retrieved", result)
}

func (h *UploadHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func createRequestContextWithTimeout(c fiber.Ctx, endpoint string, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	// Add request-scoped values for observability
	ctx = context.WithValue(ctx, utils.RequestIDKey, c.Get("X-Request-ID"))
	ctx = context.WithValue(ctx, utils.UserAgentKey, c.Get("User-Agent"))
	ctx = context.WithValue(ctx, utils.IPAddressKey, c.IP())
	ctx = context.WithValue(ctx, utils.EndpointKey, endpoint)
	ctx = context.WithValue(ctx, utils.TimeoutKey, timeout)
	ctx = context.WithValue(ctx, utils.CancelFuncKey, cancel)

	return ctx
}

func queryInt(c fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
