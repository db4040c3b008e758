package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/welleazyhts/Renewal-Backend/app/middleware"
	"github.com/welleazyhts/Renewal-Backend/app/queue"
	"github.com/welleazyhts/Renewal-Backend/app/services"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
)

// idleDelay is how long a worker sleeps when its channel has no
// claimable work or the rate bucket is empty.
const idleDelay = 500 * time.Millisecond

// Dispatcher runs the send workers. Each registered channel gets its
// own worker pool so one slow provider cannot stall the rest.
type Dispatcher struct {
	queueClient *queue.Client
	registry    *services.AdapterRegistry
	logger      *log.Logger
	workers     int

	wg sync.WaitGroup
}

func NewDispatcher(queueClient *queue.Client, registry *services.AdapterRegistry, logger *log.Logger, workers int) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		queueClient: queueClient,
		registry:    registry,
		logger:      logger,
		workers:     workers,
	}
}

// Start launches the worker pools. The returned stop function cancels
// the workers and waits for in-flight sends to finish.
func (d *Dispatcher) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	for _, channel := range d.registry.Channels() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.workerLoop(ctx, channel)
		}
	}

	return func() {
		cancel()
		d.wg.Wait()
	}
}

func (d *Dispatcher) workerLoop(ctx context.Context, channel models.Channel) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lease, err := d.queueClient.Lease(ctx, channel)
		if err != nil {
			d.logger.Printf("dispatcher: lease on %s failed: %v", channel, err)
			d.sleep(ctx, idleDelay)
			continue
		}
		if lease == nil {
			d.sleep(ctx, idleDelay)
			continue
		}

		d.processLease(ctx, channel, lease)
	}
}

// processLease drives one task through a single provider attempt. Every
// acknowledge carries the lease token; losing the lease mid-flight means
// the expiry sweep reclaimed the task and another worker owns it now.
func (d *Dispatcher) processLease(ctx context.Context, channel models.Channel, lease *queue.Lease) {
	task := lease.Task

	if err := d.queueClient.MarkSending(ctx, lease); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			d.logger.Printf("dispatcher: lease lost before send for task %s", task.UUID)
			return
		}
		d.logger.Printf("dispatcher: mark sending failed for task %s: %v", task.UUID, err)
		return
	}

	adapter, err := d.registry.For(channel)
	if err != nil {
		// No adapter means a misconfigured channel; retry with backoff
		// so a late registration can still pick the task up.
		d.finish(ctx, lease, func() error {
			return d.queueClient.Retry(ctx, lease, err.Error())
		})
		return
	}

	result, err := adapter.Send(ctx, services.SendRequest{
		TaskUUID:  task.UUID.String(),
		Recipient: task.Recipient,
		Body:      task.Payload,
	})
	if err != nil {
		middleware.RecordDispatchResult(string(channel), string(services.SendTransient))
		d.finish(ctx, lease, func() error {
			return d.queueClient.Retry(ctx, lease, err.Error())
		})
		return
	}

	middleware.RecordDispatchResult(string(channel), string(result.Classification))
	switch result.Classification {
	case services.SendAccepted:
		d.finish(ctx, lease, func() error {
			return d.queueClient.Ack(ctx, lease, result.ExternalID)
		})
	case services.SendTransient:
		d.finish(ctx, lease, func() error {
			return d.queueClient.Retry(ctx, lease, result.Detail)
		})
	case services.SendQuota:
		d.finish(ctx, lease, func() error {
			return d.queueClient.ReleaseThrottled(ctx, lease, 0)
		})
	case services.SendPermanent:
		d.finish(ctx, lease, func() error {
			return d.queueClient.Fail(ctx, lease, result.Detail)
		})
	default:
		d.logger.Printf("dispatcher: unknown classification %q for task %s", result.Classification, task.UUID)
		d.finish(ctx, lease, func() error {
			return d.queueClient.Retry(ctx, lease, "unknown provider classification")
		})
	}
}

func (d *Dispatcher) finish(ctx context.Context, lease *queue.Lease, resolve func() error) {
	if err := resolve(); err != nil {
		if errors.Is(err, repository.ErrLeaseLost) {
			// The expiry sweep reclaimed the task while the provider
			// call was running. The task will be retried; if the send
			// actually went out, the dedup key stops a second copy at
			// enqueue time and the receipt path reconciles the state.
			d.logger.Printf("dispatcher: lease lost resolving task %s", lease.Task.UUID)
			return
		}
		d.logger.Printf("dispatcher: resolving task %s failed: %v", lease.Task.UUID, err)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
