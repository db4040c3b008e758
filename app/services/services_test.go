package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, SendAccepted, classifyStatus(http.StatusOK))
	assert.Equal(t, SendAccepted, classifyStatus(http.StatusAccepted))
	assert.Equal(t, SendQuota, classifyStatus(http.StatusTooManyRequests))
	assert.Equal(t, SendTransient, classifyStatus(http.StatusRequestTimeout))
	assert.Equal(t, SendTransient, classifyStatus(http.StatusInternalServerError))
	assert.Equal(t, SendTransient, classifyStatus(http.StatusBadGateway))
	assert.Equal(t, SendPermanent, classifyStatus(http.StatusBadRequest))
	assert.Equal(t, SendPermanent, classifyStatus(http.StatusNotFound))
	assert.Equal(t, SendPermanent, classifyStatus(http.StatusUnauthorized))
}

func TestMockChannelAdapter(t *testing.T) {
	mock := NewMockChannelAdapter(models.ChannelEmail,
		ProviderResult{Classification: SendTransient, Detail: "provider 503"},
		ProviderResult{Classification: SendAccepted, ExternalID: "ext-1"},
	)
	ctx := context.Background()

	result, err := mock.Send(ctx, SendRequest{Recipient: "jane@example.com", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, SendTransient, result.Classification)

	result, err = mock.Send(ctx, SendRequest{Recipient: "jane@example.com", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, SendAccepted, result.Classification)
	assert.Equal(t, "ext-1", result.ExternalID)

	// Script exhausted: everything is accepted with a generated id.
	result, err = mock.Send(ctx, SendRequest{Recipient: "jane@example.com", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, SendAccepted, result.Classification)
	assert.NotEmpty(t, result.ExternalID)

	assert.Equal(t, 3, mock.SentCount())
	assert.Equal(t, "jane@example.com", mock.SentMessages[0].Recipient)
}

func TestAdapterRegistry(t *testing.T) {
	email := NewMockChannelAdapter(models.ChannelEmail)
	sms := NewMockChannelAdapter(models.ChannelSMS)
	registry := NewAdapterRegistry(email, sms)

	adapter, err := registry.For(models.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, models.ChannelEmail, adapter.Channel())

	_, err = registry.For(models.ChannelWhatsApp)
	assert.Error(t, err)

	registry.Register(NewMockChannelAdapter(models.ChannelWhatsApp))
	_, err = registry.For(models.ChannelWhatsApp)
	assert.NoError(t, err)

	assert.Len(t, registry.Channels(), 3)
}

func TestAdapterRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("EmailQuotaWhenExhausted", func(t *testing.T) {
		adapter := NewEmailAdapter(&config.EmailConfig{ProviderURL: "http://127.0.0.1:1", RateLimit: 1, Timeout: time.Second})
		require.True(t, adapter.limiter.Allow())

		result, err := adapter.Send(ctx, SendRequest{Recipient: "jane@example.com", Body: "hi"})
		require.NoError(t, err)
		assert.Equal(t, SendQuota, result.Classification)
		assert.Contains(t, result.Detail, "rate limit")
	})

	t.Run("SMSQuotaWhenExhausted", func(t *testing.T) {
		adapter := NewSMSAdapter(&config.SMSConfig{ProviderURL: "http://127.0.0.1:1", RateLimit: 1, Timeout: time.Second})
		require.True(t, adapter.limiter.Allow())

		result, err := adapter.Send(ctx, SendRequest{Recipient: "+919900112233", Body: "hi"})
		require.NoError(t, err)
		assert.Equal(t, SendQuota, result.Classification)
	})

	t.Run("WhatsAppQuotaWhenExhausted", func(t *testing.T) {
		adapter := NewWhatsAppAdapter(&config.WhatsAppConfig{ProviderURL: "http://127.0.0.1:1", RateLimit: 1, Timeout: time.Second})
		require.True(t, adapter.limiter.Allow())

		result, err := adapter.Send(ctx, SendRequest{Recipient: "+919900112233", Body: "hi"})
		require.NoError(t, err)
		assert.Equal(t, SendQuota, result.Classification)
	})

	t.Run("UnconfiguredLimitIsUnthrottled", func(t *testing.T) {
		limiter := providerLimiter(0)
		for i := 0; i < 1000; i++ {
			require.True(t, limiter.Allow())
		}
	})
}

func TestRenderTemplate(t *testing.T) {
	holder := &models.PolicyHolder{
		PolicyNumber:  "POL-42",
		FullName:      "Jane Shaw",
		PolicyType:    "motor",
		City:          utils.ToPtr("Pune"),
		RenewalDate:   time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC),
		PremiumAmount: utils.ToPtr(12500.5),
	}

	body := "Hi {{name}}, policy {{policy_number}} ({{policy_type}}) renews on {{renewal_date}} for {{premium_amount}} in {{city}}."
	rendered := RenderTemplate(body, holder)
	assert.Equal(t, "Hi Jane Shaw, policy POL-42 (motor) renews on 15 Sep 2026 for 12500.50 in Pune.", rendered)

	t.Run("UnknownPlaceholderStays", func(t *testing.T) {
		rendered := RenderTemplate("Hello {{nickname}}", holder)
		assert.Equal(t, "Hello {{nickname}}", rendered)
	})

	t.Run("MissingOptionalFieldsRenderEmpty", func(t *testing.T) {
		holder := &models.PolicyHolder{FullName: "Raj", RenewalDate: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}
		rendered := RenderTemplate("{{name}}/{{city}}/{{premium_amount}}", holder)
		assert.Equal(t, "Raj//", rendered)
	})
}

func TestProgressStreams(t *testing.T) {
	assert.Equal(t, "upload:abc", UploadStream("abc"))
	assert.Equal(t, "campaign:abc", CampaignStream("abc"))
}

func TestMockProgressNotifierSequences(t *testing.T) {
	notifier := NewMockProgressNotifier()
	ctx := context.Background()

	notifier.Publish(ctx, "upload:1", StageValidating, 500, 480, 20, 0, "")
	notifier.Publish(ctx, "upload:1", StageValidating, 1000, 950, 50, 0, "")
	notifier.Publish(ctx, "upload:2", StageValidating, 500, 500, 0, 0, "")
	notifier.Publish(ctx, "upload:1", StageCompleted, 1200, 1140, 60, 1200, "")

	events := notifier.EventsFor("upload:1")
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	assert.Equal(t, StageCompleted, events[2].Stage)
	assert.Equal(t, int64(1200), events[2].Total)

	// Streams sequence independently.
	other := notifier.EventsFor("upload:2")
	require.Len(t, other, 1)
	assert.Equal(t, int64(1), other[0].Sequence)
}

func TestRedisProgressNotifierInProcess(t *testing.T) {
	// Without redis the notifier still sequences and fans out locally.
	notifier := NewRedisProgressNotifier(nil, "renewal:")
	ctx := context.Background()

	ch, cancel := notifier.Subscribe("campaign:9")
	defer cancel()

	notifier.Publish(ctx, "campaign:9", StageDispatch, 10, 8, 2, 100, "")
	notifier.Publish(ctx, "campaign:9", StageDispatch, 20, 17, 3, 100, "")

	first := <-ch
	second := <-ch
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
	assert.Equal(t, int64(20), second.Processed)
}
