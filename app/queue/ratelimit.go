package queue

import (
	"context"
	"sync"

	"github.com/welleazyhts/Renewal-Backend/models"
	"golang.org/x/time/rate"
)

// ChannelLimiter holds one token bucket per channel so a slow provider
// on one channel never starves the others.
type ChannelLimiter struct {
	mu       sync.RWMutex
	limiters map[models.Channel]*rate.Limiter
}

func NewChannelLimiter() *ChannelLimiter {
	return &ChannelLimiter{limiters: make(map[models.Channel]*rate.Limiter)}
}

// SetLimit configures the per-second rate for a channel. A limit of zero
// or less leaves the channel unthrottled.
func (l *ChannelLimiter) SetLimit(channel models.Channel, perSecond int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if perSecond <= 0 {
		delete(l.limiters, channel)
		return
	}
	burst := perSecond
	if burst < 1 {
		burst = 1
	}
	l.limiters[channel] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Allow reports whether one send token is available right now.
func (l *ChannelLimiter) Allow(channel models.Channel) bool {
	l.mu.RLock()
	lim := l.limiters[channel]
	l.mu.RUnlock()
	if lim == nil {
		return true
	}
	return lim.Allow()
}

// Wait blocks until a send token is available or the context is done.
func (l *ChannelLimiter) Wait(ctx context.Context, channel models.Channel) error {
	l.mu.RLock()
	lim := l.limiters[channel]
	l.mu.RUnlock()
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}
