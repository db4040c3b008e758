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

// SMSAdapter sends renewal SMS messages through the SMS gateway
type SMSAdapter struct {
	config  *config.SMSConfig
	client  *resty.Client
	limiter *rate.Limiter
}

// SMSSendRequest represents the request payload for the SMS API
type SMSSendRequest struct {
	SrcNum    string `json:"srcNum"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	Reference string `json:"reference"`
}

// SMSSendResponse represents individual message result from the SMS API
type SMSSendResponse struct {
	MessageID  string `json:"messageId"`
	Recipient  string `json:"recipient"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
}

// NewSMSAdapter creates a new SMS adapter instance
func NewSMSAdapter(cfg *config.SMSConfig) *SMSAdapter {
	client := resty.New().
		SetBaseURL(cfg.ProviderURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("x-api-key", cfg.APIKey)

	return &SMSAdapter{config: cfg, client: client, limiter: providerLimiter(cfg.RateLimit)}
}

func (a *SMSAdapter) Channel() models.Channel {
	return models.ChannelSMS
}

func (a *SMSAdapter) Send(ctx context.Context, req SendRequest) (*ProviderResult, error) {
	if !a.limiter.Allow() {
		return &ProviderResult{Classification: SendQuota, Detail: "sms gateway rate limit reached"}, nil
	}

	payload := SMSSendRequest{
		SrcNum:    a.config.SourceNumber,
		Recipient: req.Recipient,
		Body:      req.Body,
		Reference: req.TaskUUID,
	}

	var result SMSSendResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		SetError(&result).
		Post("/send")
	if err != nil {
		return &ProviderResult{Classification: SendTransient, Detail: err.Error()}, nil
	}

	classification := classifyStatus(resp.StatusCode())
	if classification == SendAccepted {
		// The gateway reports per-message status inside a 200 response
		if result.Status != "ACCEPTED" {
			return &ProviderResult{
				Classification: classifyStatus(result.StatusCode),
				Detail:         fmt.Sprintf("gateway status %s (%d)", result.Status, result.StatusCode),
			}, nil
		}
		if result.MessageID == "" {
			return &ProviderResult{
				Classification: SendTransient,
				Detail:         "gateway accepted without message id",
			}, nil
		}
	}
	return &ProviderResult{
		Classification: classification,
		ExternalID:     result.MessageID,
		Detail:         result.Status,
	}, nil
}
