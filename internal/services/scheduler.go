package services

import (
	"context"

	"heartpulse-billing/pkg/logging"

	"github.com/robfig/cron/v3"
)

// RetrySweeper re-runs backfill for all known links on a fixed schedule as a
// safety net against missed webhooks.
type RetrySweeper struct {
	links    *LinkService
	backfill *BackfillOrchestrator
	schedule string
	limit    int
	cron     *cron.Cron
}

// NewRetrySweeper creates a sweeper with a cron schedule expression and a cap
// on how many links one sweep visits.
func NewRetrySweeper(links *LinkService, backfill *BackfillOrchestrator, schedule string, limit int) *RetrySweeper {
	return &RetrySweeper{
		links:    links,
		backfill: backfill,
		schedule: schedule,
		limit:    limit,
	}
}

// Start registers the sweep with the cron runner
func (s *RetrySweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.Sweep); err != nil {
		return err
	}
	s.cron.Start()
	logging.Infof("Retry sweeper scheduled: %q, limit: %d", s.schedule, s.limit)
	return nil
}

// Stop halts the cron runner
func (s *RetrySweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep loads one bounded page of links and backfills each. Per-link failures
// are logged and skipped; the sweep always completes. The page is not resumed
// across runs, a known scale limitation.
func (s *RetrySweeper) Sweep() {
	links, err := s.links.List(s.limit)
	if err != nil {
		logging.Errorf("Retry sweep failed to load links: %v", err)
		return
	}

	ok, failed := 0, 0
	for _, link := range links {
		result, err := s.backfill.Run(context.Background(), link.OriginalTransactionID)
		if err != nil {
			failed++
			logging.Errorf("Retry sweep backfill failed - original_transaction_id: %s, error: %v",
				link.OriginalTransactionID, err)
			continue
		}
		if !result.OK {
			failed++
			logging.Infof("Retry sweep backfill skipped - original_transaction_id: %s, reason: %s",
				link.OriginalTransactionID, result.Reason)
			continue
		}
		ok++
	}

	logging.Infof("Retry sweep completed - links: %d, ok: %d, failed: %d", len(links), ok, failed)
}
