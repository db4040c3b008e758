package dto

import "time"

// DeliveryWebhookRequest represents a provider delivery status callback.
// Providers differ in envelope shape; the webhook handler maps each
// provider's payload into this normalized form.
type DeliveryWebhookRequest struct {
	Provider   string     `json:"provider" validate:"required"`
	ExternalID string     `json:"external_id" validate:"required"`
	Status     string     `json:"status" validate:"required,oneof=accepted delivered failed"`
	Reason     string     `json:"reason,omitempty"`
	OccurredAt *time.Time `json:"occurred_at,omitempty"`
}

// DeliveryWebhookResponse acknowledges a processed callback
type DeliveryWebhookResponse struct {
	Message string `json:"message"`
}
