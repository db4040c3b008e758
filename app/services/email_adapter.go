package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"golang.org/x/time/rate"
)

// EmailAdapter sends renewal emails through the transactional email
// provider's REST API.
type EmailAdapter struct {
	config  *config.EmailConfig
	client  *resty.Client
	limiter *rate.Limiter
}

// EmailSendRequest represents the request payload for the email API
type EmailSendRequest struct {
	To        string `json:"to"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
	Subject   string `json:"subject"`
	HTMLBody  string `json:"html_body"`
	Reference string `json:"reference"`
}

// EmailSendResponse represents the provider acceptance payload
type EmailSendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NewEmailAdapter creates a new email adapter instance
func NewEmailAdapter(cfg *config.EmailConfig) *EmailAdapter {
	client := resty.New().
		SetBaseURL(cfg.ProviderURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	return &EmailAdapter{config: cfg, client: client, limiter: providerLimiter(cfg.RateLimit)}
}

func (a *EmailAdapter) Channel() models.Channel {
	return models.ChannelEmail
}

func (a *EmailAdapter) Send(ctx context.Context, req SendRequest) (*ProviderResult, error) {
	if !a.limiter.Allow() {
		return &ProviderResult{Classification: SendQuota, Detail: "email provider rate limit reached"}, nil
	}

	payload := EmailSendRequest{
		To:        req.Recipient,
		FromEmail: a.config.FromEmail,
		FromName:  a.config.FromName,
		Subject:   "Your policy renewal",
		HTMLBody:  req.Body,
		Reference: req.TaskUUID,
	}

	var result EmailSendResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		SetError(&result).
		Post("/messages")
	if err != nil {
		// Connection-level retries are already spent at this point
		return &ProviderResult{Classification: SendTransient, Detail: err.Error()}, nil
	}

	classification := classifyStatus(resp.StatusCode())
	if classification == SendAccepted && result.MessageID == "" {
		return &ProviderResult{
			Classification: SendTransient,
			Detail:         fmt.Sprintf("provider accepted without message id (status %d)", resp.StatusCode()),
		}, nil
	}
	return &ProviderResult{
		Classification: classification,
		ExternalID:     result.MessageID,
		Detail:         result.Error,
	}, nil
}
