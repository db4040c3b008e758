// Package services provides external service integrations and technical concerns like provider adapters and progress notifications
package services

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/utils"
	"golang.org/x/time/rate"
)

// SendClassification buckets provider outcomes into the retry policy
// the dispatch workers apply.
type SendClassification string

const (
	SendAccepted  SendClassification = "accepted"
	SendTransient SendClassification = "transient"
	SendPermanent SendClassification = "permanent"
	SendQuota     SendClassification = "quota"
)

// SendRequest is the channel-independent send unit handed to adapters
type SendRequest struct {
	TaskUUID  string
	Recipient string
	Body      string
}

// ProviderResult is the normalized outcome of one provider call
type ProviderResult struct {
	Classification SendClassification
	ExternalID     string
	Detail         string
}

// ChannelAdapter sends one message on one channel. Implementations
// normalize provider responses into a classification; they never retry
// business-level rejections themselves.
type ChannelAdapter interface {
	Channel() models.Channel
	Send(ctx context.Context, req SendRequest) (*ProviderResult, error)
}

// AdapterRegistry resolves the adapter for a channel
type AdapterRegistry struct {
	mu       sync.RWMutex
	adapters map[models.Channel]ChannelAdapter
}

func NewAdapterRegistry(adapters ...ChannelAdapter) *AdapterRegistry {
	r := &AdapterRegistry{adapters: make(map[models.Channel]ChannelAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

// Register adds or replaces the adapter for its channel
func (r *AdapterRegistry) Register(adapter ChannelAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Channel()] = adapter
}

// For returns the adapter registered for the channel
func (r *AdapterRegistry) For(channel models.Channel) (ChannelAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %s", channel)
	}
	return adapter, nil
}

// Channels lists the channels with a registered adapter
func (r *AdapterRegistry) Channels() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]models.Channel, 0, len(r.adapters))
	for ch := range r.adapters {
		channels = append(channels, ch)
	}
	return channels
}

// providerLimiter builds the adapter-level limiter from the configured
// per-second quota. A non-positive quota leaves the adapter unthrottled.
// This limiter guards the provider API itself and is separate from the
// per-channel token bucket applied when leasing tasks.
func providerLimiter(perSecond int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}

// classifyStatus maps an HTTP status to the retry classification.
// Rate-limit responses are quota so the attempt is not charged against
// the retry budget.
func classifyStatus(status int) SendClassification {
	switch {
	case status >= 200 && status < 300:
		return SendAccepted
	case status == http.StatusTooManyRequests:
		return SendQuota
	case status == http.StatusRequestTimeout || status >= 500:
		return SendTransient
	default:
		return SendPermanent
	}
}

// MockChannelAdapter implements ChannelAdapter for testing. Results are
// consumed in script order; once the script is exhausted every send is
// accepted.
type MockChannelAdapter struct {
	ChannelName  models.Channel
	Script       []ProviderResult
	SentMessages []MockSentMessage

	mu   sync.Mutex
	next int
}

// MockSentMessage records one mock send
type MockSentMessage struct {
	Recipient string
	Body      string
	SentAt    string
}

// NewMockChannelAdapter creates a mock adapter for the given channel
func NewMockChannelAdapter(channel models.Channel, script ...ProviderResult) *MockChannelAdapter {
	return &MockChannelAdapter{ChannelName: channel, Script: script}
}

func (m *MockChannelAdapter) Channel() models.Channel {
	return m.ChannelName
}

func (m *MockChannelAdapter) Send(ctx context.Context, req SendRequest) (*ProviderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentMessages = append(m.SentMessages, MockSentMessage{
		Recipient: req.Recipient,
		Body:      req.Body,
		SentAt:    utils.UTCNow().Format("2006-01-02T15:04:05Z"),
	})
	if m.next < len(m.Script) {
		result := m.Script[m.next]
		m.next++
		return &result, nil
	}
	return &ProviderResult{
		Classification: SendAccepted,
		ExternalID:     fmt.Sprintf("mock-%s-%d", m.ChannelName, len(m.SentMessages)),
	}, nil
}

// SentCount returns the number of sends the mock has observed
func (m *MockChannelAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentMessages)
}
