package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// Progress event stages
const (
	StageValidating = "validating"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageDispatch   = "dispatching"
	StagePaused     = "paused"
	StageResumed    = "resumed"
)

// ProgressEvent is one observable step of a long-running job. Sequence
// numbers are strictly increasing per stream; consumers can detect
// gaps and reorderings from them.
type ProgressEvent struct {
	Stream     string    `json:"stream"`
	Sequence   int64     `json:"sequence"`
	Stage      string    `json:"stage"`
	Processed  int64     `json:"processed"`
	Succeeded  int64     `json:"succeeded"`
	Failed     int64     `json:"failed"`
	Total      int64     `json:"total,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ProgressNotifier publishes sequenced progress events. Publishing is
// best effort: a notifier failure never fails the job that emitted it.
type ProgressNotifier interface {
	Publish(ctx context.Context, stream, stage string, processed, succeeded, failed, total int64, detail string)
	Subscribe(stream string) (<-chan ProgressEvent, func())
}

// UploadStream builds the stream name for an upload job
func UploadStream(uploadUUID string) string {
	return "upload:" + uploadUUID
}

// CampaignStream builds the stream name for a campaign job
func CampaignStream(campaignUUID string) string {
	return "campaign:" + campaignUUID
}

// RedisProgressNotifier assigns sequence numbers with redis INCR and
// fans events out over redis pub/sub, plus any in-process subscribers.
type RedisProgressNotifier struct {
	rc     *redis.Client
	prefix string

	mu   sync.Mutex
	subs map[string][]chan ProgressEvent
	seq  map[string]int64 // fallback sequences when redis is down
}

func NewRedisProgressNotifier(rc *redis.Client, prefix string) *RedisProgressNotifier {
	return &RedisProgressNotifier{
		rc:     rc,
		prefix: prefix,
		subs:   make(map[string][]chan ProgressEvent),
		seq:    make(map[string]int64),
	}
}

func (n *RedisProgressNotifier) Publish(ctx context.Context, stream, stage string, processed, succeeded, failed, total int64, detail string) {
	event := ProgressEvent{
		Stream:     stream,
		Stage:      stage,
		Processed:  processed,
		Succeeded:  succeeded,
		Failed:     failed,
		Total:      total,
		Detail:     detail,
		OccurredAt: utils.UTCNow(),
	}
	event.Sequence = n.nextSequence(ctx, stream)

	if n.rc != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			if err := n.rc.Publish(ctx, n.prefix+utils.ProgressChannelPrefix+stream, payload).Err(); err != nil {
				log.Printf("progress publish failed for %s: %v", stream, err)
			}
		}
	}

	n.mu.Lock()
	subscribers := n.subs[stream]
	n.mu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			// Slow subscribers drop events rather than block publishers
		}
	}
}

func (n *RedisProgressNotifier) nextSequence(ctx context.Context, stream string) int64 {
	if n.rc != nil {
		key := n.prefix + utils.ProgressSequenceKeyPrefix + stream
		seq, err := n.rc.Incr(ctx, key).Result()
		if err == nil {
			n.rc.Expire(ctx, key, utils.ProgressSequenceTTL)
			return seq
		}
		log.Printf("progress sequence INCR failed for %s: %v", stream, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq[stream]++
	return n.seq[stream]
}

// Subscribe registers an in-process consumer for the stream. The
// returned cancel function removes the subscription.
func (n *RedisProgressNotifier) Subscribe(stream string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 64)
	n.mu.Lock()
	n.subs[stream] = append(n.subs[stream], ch)
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		subscribers := n.subs[stream]
		for i, c := range subscribers {
			if c == ch {
				n.subs[stream] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		close(ch)
	}
	return ch, cancel
}

// MockProgressNotifier implements ProgressNotifier for testing
type MockProgressNotifier struct {
	mu     sync.Mutex
	seq    map[string]int64
	Events []ProgressEvent
}

// NewMockProgressNotifier creates a new mock progress notifier
func NewMockProgressNotifier() *MockProgressNotifier {
	return &MockProgressNotifier{seq: make(map[string]int64)}
}

func (m *MockProgressNotifier) Publish(ctx context.Context, stream, stage string, processed, succeeded, failed, total int64, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq[stream]++
	m.Events = append(m.Events, ProgressEvent{
		Stream:     stream,
		Sequence:   m.seq[stream],
		Stage:      stage,
		Processed:  processed,
		Succeeded:  succeeded,
		Failed:     failed,
		Total:      total,
		Detail:     detail,
		OccurredAt: utils.UTCNow(),
	})
}

func (m *MockProgressNotifier) Subscribe(stream string) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent)
	return ch, func() { close(ch) }
}

// EventsFor returns the events published on one stream, in order
func (m *MockProgressNotifier) EventsFor(stream string) []ProgressEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ProgressEvent
	for _, e := range m.Events {
		if e.Stream == stream {
			out = append(out, e)
		}
	}
	return out
}

var _ ProgressNotifier = (*RedisProgressNotifier)(nil)
var _ ProgressNotifier = (*MockProgressNotifier)(nil)
