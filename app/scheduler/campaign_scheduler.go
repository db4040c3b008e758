// Package scheduler runs the background loops: campaign activation,
// dispatch workers and the maintenance sweeps.
package scheduler

import (
	"context"
	"log"
	"time"

	businessflow "github.com/welleazyhts/Renewal-Backend/business_flow"
	"github.com/welleazyhts/Renewal-Backend/models"
	"github.com/welleazyhts/Renewal-Backend/repository"
	"github.com/welleazyhts/Renewal-Backend/utils"
)

// dueCampaignBatch bounds how many campaigns one tick activates
const dueCampaignBatch = 20

// CampaignScheduler periodically activates due campaigns and reconciles
// the counters of running ones.
type CampaignScheduler struct {
	campaignRepo repository.CampaignJobRepository
	campaignFlow businessflow.CampaignFlow
	logger       *log.Logger
	interval     time.Duration
}

func NewCampaignScheduler(
	campaignRepo repository.CampaignJobRepository,
	campaignFlow businessflow.CampaignFlow,
	logger *log.Logger,
	interval time.Duration,
) *CampaignScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CampaignScheduler{
		campaignRepo: campaignRepo,
		campaignFlow: campaignFlow,
		logger:       logger,
		interval:     interval,
	}
}

// Start launches the scheduler loop. The returned cancel function stops it.
func (s *CampaignScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.runOnce(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	return cancel
}

func (s *CampaignScheduler) runOnce(ctx context.Context) {
	s.activateDue(ctx)
	s.reconcileRunning(ctx)
}

// activateDue starts every scheduled campaign whose time has come. The
// start itself is guarded by a compare-and-set, so a second scheduler
// instance activating the same campaign loses cleanly.
func (s *CampaignScheduler) activateDue(ctx context.Context) {
	due, err := s.campaignRepo.ListDueScheduled(ctx, utils.UTCNow(), dueCampaignBatch)
	if err != nil {
		s.logger.Printf("scheduler: list due campaigns failed: %v", err)
		return
	}
	for _, campaign := range due {
		if err := s.campaignFlow.StartCampaign(ctx, campaign.ID); err != nil {
			s.logger.Printf("scheduler: start campaign %s failed: %v", campaign.UUID, err)
			continue
		}
		s.logger.Printf("scheduler: campaign %s started", campaign.UUID)
	}
}

// reconcileRunning refreshes counters for running campaigns and
// completes the ones with no pending tasks left.
func (s *CampaignScheduler) reconcileRunning(ctx context.Context) {
	running, err := s.campaignRepo.ListByStatus(ctx, models.CampaignJobStatusRunning, 0)
	if err != nil {
		s.logger.Printf("scheduler: list running campaigns failed: %v", err)
		return
	}
	for _, campaign := range running {
		if err := s.campaignFlow.RecomputeStatus(ctx, campaign.ID); err != nil {
			s.logger.Printf("scheduler: recompute campaign %s failed: %v", campaign.UUID, err)
		}
	}
}
