package population

import (
	"context"
	"fmt"
	"time"

	"github.com/johndauphine/airport-sync/internal/logging"
	"github.com/johndauphine/airport-sync/internal/metrics"
	"github.com/johndauphine/airport-sync/internal/model"
)

// Store is the population state kept on airports.
type Store interface {
	ResetQueued(ctx context.Context, source model.Source) (int64, error)
	ClaimNeedsHandling(ctx context.Context, source model.Source, limit int) ([]string, error)
	SetPopulation(ctx context.Context, source model.Source, idents []string, state model.PopulationState) error
}

// Scheduler moves one source's airports from NeedsHandling through Queued to
// Handled.
type Scheduler struct {
	source    model.Source
	store     Store
	populator Populator
	batchSize int
	interval  time.Duration
}

// NewScheduler creates a scheduler for source.
func NewScheduler(source model.Source, store Store, populator Populator, batchSize int, interval time.Duration) *Scheduler {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Scheduler{
		source:    source,
		store:     store,
		populator: populator,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Run recovers airports left Queued by a previous crash, then polls until ctx
// is cancelled. Recovery is retried every interval until it succeeds; no
// batch is claimed before that.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		n, err := s.store.ResetQueued(ctx, s.source)
		if err == nil {
			if n > 0 {
				logging.Warn("Population %s: reset %d airports left queued", s.source, n)
			}
			break
		}
		if ctx.Err() != nil {
			return nil
		}
		logging.Error("Population %s recovery: %v (retrying in %s)", s.source, err, s.interval)
		if !sleep(ctx, s.interval) {
			return nil
		}
	}
	logging.Info("Population %s scheduler started (batch %d, interval %s)", s.source, s.batchSize, s.interval)

	for {
		handled, err := s.Drain(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			logging.Error("Population %s: %v", s.source, err)
		} else if handled > 0 {
			logging.Info("Population %s: %d airports handled", s.source, handled)
		}

		if !sleep(ctx, s.interval) {
			return nil
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Drain processes batches until none are left or one fails, and returns the
// number of airports handled.
func (s *Scheduler) Drain(ctx context.Context) (int, error) {
	total := 0
	for ctx.Err() == nil {
		n, err := s.RunBatch(ctx)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
	return total, nil
}

// RunBatch claims one batch and sends it to the populator. A failed batch is
// returned to NeedsHandling.
func (s *Scheduler) RunBatch(ctx context.Context) (int, error) {
	idents, err := s.store.ClaimNeedsHandling(ctx, s.source, s.batchSize)
	if err != nil {
		return 0, err
	}
	if len(idents) == 0 {
		return 0, nil
	}
	logging.Debug("Population %s: claimed %d airports", s.source, len(idents))

	popErr := s.populator.Populate(ctx, s.source, idents)
	metrics.RecordPopulationBatch(string(s.source), len(idents), popErr)

	// state changes must land even when shutting down
	storeCtx := context.WithoutCancel(ctx)
	if popErr != nil {
		if err := s.store.SetPopulation(storeCtx, s.source, idents, model.NeedsHandling); err != nil {
			return 0, fmt.Errorf("reverting batch after %v: %w", popErr, err)
		}
		return 0, fmt.Errorf("populating %d airports: %w", len(idents), popErr)
	}
	if err := s.store.SetPopulation(storeCtx, s.source, idents, model.Handled); err != nil {
		return 0, err
	}
	return len(idents), nil
}
