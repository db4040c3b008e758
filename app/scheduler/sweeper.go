package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/welleazyhts/Renewal-Backend/app/middleware"
	"github.com/welleazyhts/Renewal-Backend/app/queue"
	businessflow "github.com/welleazyhts/Renewal-Backend/business_flow"
	"github.com/welleazyhts/Renewal-Backend/config"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// reconcileBatch bounds how many stuck tasks one sweep times out
const reconcileBatch = 500

// Sweeper runs the periodic maintenance jobs: reclaiming expired leases
// and timing out tasks stuck without a final delivery receipt.
type Sweeper struct {
	queueClient  *queue.Client
	deliveryFlow businessflow.DeliveryFlow
	cfg          config.SchedulerConfig
	logger       *log.Logger
	c            *cron.Cron
}

func NewSweeper(
	queueClient *queue.Client,
	deliveryFlow businessflow.DeliveryFlow,
	cfg config.SchedulerConfig,
	logger *log.Logger,
) *Sweeper {
	if cfg.RequeueInterval <= 0 {
		cfg.RequeueInterval = time.Minute
	}
	if cfg.ReconciliationInterval <= 0 {
		cfg.ReconciliationInterval = 10 * time.Minute
	}
	if cfg.DeliverySLA <= 0 {
		cfg.DeliverySLA = utils.DefaultDeliverySLA
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		queueClient:  queueClient,
		deliveryFlow: deliveryFlow,
		cfg:          cfg,
		logger:       logger,
	}
}

// Start registers and launches the sweep jobs. The returned stop
// function waits for a running sweep to finish.
func (s *Sweeper) Start(parent context.Context) (func(), error) {
	s.c = cron.New()

	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.RequeueInterval), func() {
		s.requeueExpired(parent)
	}); err != nil {
		return nil, fmt.Errorf("failed to register requeue sweep: %w", err)
	}
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.ReconciliationInterval), func() {
		s.reconcile(parent)
	}); err != nil {
		return nil, fmt.Errorf("failed to register reconciliation sweep: %w", err)
	}

	s.c.Start()
	return func() {
		ctx := s.c.Stop()
		<-ctx.Done()
	}, nil
}

func (s *Sweeper) requeueExpired(ctx context.Context) {
	n, err := s.queueClient.RequeueExpired(ctx)
	if err != nil {
		s.logger.Printf("sweeper: requeue expired leases failed: %v", err)
		return
	}
	if n > 0 {
		middleware.RecordRequeuedLeases(n)
		s.logger.Printf("sweeper: requeued %d expired leases", n)
	}
}

func (s *Sweeper) reconcile(ctx context.Context) {
	olderThan := utils.UTCNow().Add(-s.cfg.DeliverySLA)
	n, err := s.deliveryFlow.ReconcileStuck(ctx, olderThan, reconcileBatch)
	if err != nil {
		s.logger.Printf("sweeper: reconciliation failed: %v", err)
		return
	}
	if n > 0 {
		s.logger.Printf("sweeper: timed out %d tasks without delivery receipts", n)
	}
}
