package handlers

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/welleazyhts/Renewal-Backend/app/dto"
	"github.com/welleazyhts/Renewal-Backend/app/middleware"
	businessflow "github.com/welleazyhts/Renewal-Backend/business_flow"
)

// WebhookHandlerInterface defines the contract for delivery webhook handlers
type WebhookHandlerInterface interface {
	HandleDeliveryReceipt(c fiber.Ctx) error
}

// WebhookHandler handles provider delivery callbacks
type WebhookHandler struct {
	deliveryFlow businessflow.DeliveryFlow
	validator    *validator.Validate
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(deliveryFlow businessflow.DeliveryFlow) *WebhookHandler {
	return &WebhookHandler{
		deliveryFlow: deliveryFlow,
		validator:    validator.New(),
	}
}

func (h *WebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *WebhookHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// HandleDeliveryReceipt ingests a provider delivery status callback.
// The provider name comes from the route so each provider can be given
// its own webhook URL.
func (h *WebhookHandler) HandleDeliveryReceipt(c fiber.Ctx) error {
	var req dto.DeliveryWebhookRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if provider := c.Params("provider"); provider != "" {
		req.Provider = provider
	}

	if err := h.validator.Struct(&req); err != nil {
		var validationErrors []string
		for _, err := range err.(validator.ValidationErrors) {
			validationErrors = append(validationErrors, getValidationErrorMessage(err))
		}
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", validationErrors)
	}

	result, err := h.deliveryFlow.HandleReceipt(h.createRequestContext(c, "/api/v1/webhooks/delivery/:provider"), &req)
	if err != nil {
		middleware.RecordDeliveryReceipt(req.Status, "error")
		log.Println("Delivery receipt processing failed", err)
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Receipt processing failed", "RECEIPT_PROCESSING_FAILED", nil)
	}

	middleware.RecordDeliveryReceipt(req.Status, "processed")
	return h.SuccessResponse(c, fiber.StatusOK, "Receipt processed", result)
}

func (h *WebhookHandler) createRequestContext(c fiber.Ctx, endpoint string) context.Context {
	return createRequestContextWithTimeout(c, endpoint, 30*time.Second)
}
