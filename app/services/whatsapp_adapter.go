package services

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"golang.org/x/time/rate"
)

// WhatsAppAdapter sends renewal messages through the WhatsApp Business
// API provider.
type WhatsAppAdapter struct {
	config  *config.WhatsAppConfig
	client  *resty.Client
	limiter *rate.Limiter
}

// WhatsAppSendRequest represents the request payload for the WhatsApp API
type WhatsAppSendRequest struct {
	From string           `json:"from"`
	To   string           `json:"to"`
	Type string           `json:"type"`
	Text WhatsAppTextBody `json:"text"`
}

// WhatsAppTextBody carries the message text
type WhatsAppTextBody struct {
	Body string `json:"body"`
}

// WhatsAppSendResponse represents the provider acceptance payload
type WhatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// NewWhatsAppAdapter creates a new WhatsApp adapter instance
func NewWhatsAppAdapter(cfg *config.WhatsAppConfig) *WhatsAppAdapter {
	client := resty.New().
		SetBaseURL(cfg.ProviderURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryAttempts).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+cfg.APIKey)

	return &WhatsAppAdapter{config: cfg, client: client, limiter: providerLimiter(cfg.RateLimit)}
}

func (a *WhatsAppAdapter) Channel() models.Channel {
	return models.ChannelWhatsApp
}

func (a *WhatsAppAdapter) Send(ctx context.Context, req SendRequest) (*ProviderResult, error) {
	if !a.limiter.Allow() {
		return &ProviderResult{Classification: SendQuota, Detail: "whatsapp provider rate limit reached"}, nil
	}

	payload := WhatsAppSendRequest{
		From: a.config.SourceNumber,
		To:   req.Recipient,
		Type: "text",
		Text: WhatsAppTextBody{Body: req.Body},
	}

	var result WhatsAppSendResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&result).
		SetError(&result).
		Post("/messages")
	if err != nil {
		return &ProviderResult{Classification: SendTransient, Detail: err.Error()}, nil
	}

	classification := classifyStatus(resp.StatusCode())
	if classification == SendAccepted {
		if len(result.Messages) == 0 || result.Messages[0].ID == "" {
			return &ProviderResult{
				Classification: SendTransient,
				Detail:         "provider accepted without message id",
			}, nil
		}
		return &ProviderResult{
			Classification: SendAccepted,
			ExternalID:     result.Messages[0].ID,
		}, nil
	}
	return &ProviderResult{
		Classification: classification,
		Detail:         result.Error.Message,
	}, nil
}
