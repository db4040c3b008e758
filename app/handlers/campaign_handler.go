package handlers

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/welleazyhts/Renewal-Backend/app/dto"
	businessflow "github.com/welleazyhts/Renewal-Backend/business_flow"
)

// CampaignHandlerInterface defines the contract for campaign handlers
type CampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	ScheduleCampaign(c fiber.Ctx) error
	StartCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	ResumeCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
}

// CampaignHandler handles campaign-related HTTP requests
type CampaignHandler struct {
	campaignFlow businessflow.CampaignFlow
	validator    *validator.Validate
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignFlow businessflow.CampaignFlow) *CampaignHandler {
	return &CampaignHandler{
		campaignFlow: campaignFlow,
		validator:    validator.New(),
	}
}

func (h *CampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// CreateCampaign handles the campaign creation process
func (h *CampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.campaignFlow.CreateCampaign(h.createRequestContext(c, "/api/v1/campaigns"), &req)
	if err != nil {
		log.Println("Campaign creation failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusCreated, "Campaign created successfully", fiber.Map{
		"message":    result.Message,
		"uuid":       result.UUID,
		"status":     result.Status,
		"created_at": result.CreatedAt,
	})
}

// GetCampaign returns one campaign with its counters
func (h *CampaignHandler) GetCampaign(c fiber.Ctx) error {
	req := &dto.GetCampaignRequest{UUID: c.Params("uuid")}

	result, err := h.campaignFlow.GetCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid"), req)
	if err != nil {
		if businessflow.IsCampaignNotFound(err) {
			return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
		}
		log.Println("Campaign lookup failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Campaign lookup failed", "CAMPAIGN_LOOKUP_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved", result)
}

// ListCampaigns returns a page of campaigns
func (h *CampaignHandler) ListCampaigns(c fiber.Ctx) error {
	req := &dto.ListCampaignsRequest{
		Status:   c.Query("status"),
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}

	result, err := h.campaignFlow.ListCampaigns(h.createRequestContext(c, "/api/v1/campaigns"), req)
	if err != nil {
		log.Println("Campaign list failed", err)
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign list failed", "CAMPAIGN_LIST_FAILED", nil)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved", result)
}

// ScheduleCampaign moves a draft campaign to scheduled
func (h *CampaignHandler) ScheduleCampaign(c fiber.Ctx) error {
	var req dto.ScheduleCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.UUID = c.Params("uuid")

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.campaignFlow.ScheduleCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid/schedule"), &req)
	if err != nil {
		return h.campaignActionError(c, "Campaign scheduling failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign scheduled", result)
}

// StartCampaign starts a scheduled campaign immediately
func (h *CampaignHandler) StartCampaign(c fiber.Ctx) error {
	req := &dto.CampaignActionRequest{UUID: c.Params("uuid")}
	result, err := h.campaignFlow.StartCampaignByUUID(h.createRequestContext(c, "/api/v1/campaigns/:uuid/start"), req)
	if err != nil {
		if businessflow.IsEmptyAudience(err) {
			return h.ErrorResponse(c, fiber.StatusConflict, "Campaign audience is empty", "CAMPAIGN_EMPTY_AUDIENCE", nil)
		}
		return h.campaignActionError(c, "Campaign start failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign started", result)
}

// PauseCampaign pauses a running campaign
func (h *CampaignHandler) PauseCampaign(c fiber.Ctx) error {
	req := &dto.CampaignActionRequest{UUID: c.Params("uuid")}
	result, err := h.campaignFlow.PauseCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid/pause"), req)
	if err != nil {
		return h.campaignActionError(c, "Campaign pause failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign paused", result)
}

// ResumeCampaign resumes a paused campaign
func (h *CampaignHandler) ResumeCampaign(c fiber.Ctx) error {
	req := &dto.CampaignActionRequest{UUID: c.Params("uuid")}
	result, err := h.campaignFlow.ResumeCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid/resume"), req)
	if err != nil {
		return h.campaignActionError(c, "Campaign resume failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign resumed", result)
}

// CancelCampaign cancels a non-terminal campaign
func (h *CampaignHandler) CancelCampaign(c fiber.Ctx) error {
	req := &dto.CampaignActionRequest{UUID: c.Params("uuid")}
	result, err := h.campaignFlow.CancelCampaign(h.createRequestContext(c, "/api/v1/campaigns/:uuid/cancel"), req)
	if err != nil {
		return h.campaignActionError(c, "Campaign cancel failed", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign cancelled", result)
}

func (h *CampaignHandler) campaignActionError(c fiber.Ctx, message string, err error) error {
	if businessflow.IsCampaignNotFound(err) {
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	}
	if businessflow.IsIllegalStatusTransition(err) {
		return h.ErrorResponse(c, fiber.StatusConflict, message, "CAMPAIGN_ILLEGAL_TRANSITION", nil)
	}
	log.Println(message, err)
	return h.ErrorResponse(c, fiber.StatusBadRequest, message, "CAMPAIGN_ACTION_FAILED", nil)
}

func (h *CampaignHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}

func getValidationErrorMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return err.Field() + " is required"
	case "min":
		return err.Field() + " must be at least " + err.Param() + " characters"
	case "max":
		return err.Field() + " must be at most " + err.Param() + " characters"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	default:
		return err.Field() + " is invalid"
	}
}
