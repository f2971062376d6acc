// Package jobs runs the background half of discovery: a single polling
// worker that drains the durable queue left behind by synchronous attempts
// that hit a transient failure.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/suplementia/search-backend/internal/data/repos"
	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// Processor settles one claimed queue item. Implemented by the discovery
// service.
type Processor interface {
	ProcessClaimed(ctx context.Context, item *domain.DiscoveryItem) error
}

type Worker struct {
	log       *logger.Logger
	queue     repos.DiscoveryRepo
	processor Processor

	interval time.Duration
	now      func() time.Time
}

func NewWorker(baseLog *logger.Logger, queue repos.DiscoveryRepo, processor Processor) *Worker {
	return &Worker{
		log:       baseLog.With("component", "DiscoveryWorker"),
		queue:     queue,
		processor: processor,
		interval:  envutil.Duration("WORKER_POLL_INTERVAL", 1*time.Second),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the polling loop. It returns immediately; the loop stops
// when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Tick claims and processes at most one eligible item. Exported so tests
// and the CLI can drive the loop without the ticker.
func (w *Worker) Tick(ctx context.Context) {
	item, err := w.queue.ClaimNextEligible(ctx, nil, w.now())
	if err != nil {
		w.log.Warn("Queue claim failed", "error", err)
		return
	}
	if item == nil {
		return
	}

	// A panicking processor must not take the loop down; the item is
	// parked as failed so it stays visible for manual requeue.
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Discovery processor panic", "term", item.Query, "panic", r)
				if failErr := w.queue.MarkFailed(ctx, nil, item.IngredientID, item.RetryCount, item.EvidenceGrade, item.StudyCount, fmt.Sprintf("panic: %v", r)); failErr != nil {
					w.log.Error("Failed to park panicked item", "term", item.Query, "error", failErr)
				}
			}
		}()
		if err := w.processor.ProcessClaimed(ctx, item); err != nil {
			w.log.Error("Discovery processing failed to settle", "term", item.Query, "error", err)
			w.park(ctx, item, err)
		}
	}()
}

// park is the fallback when the processor could not record an outcome
// itself, usually because the settle write failed.
func (w *Worker) park(ctx context.Context, item *domain.DiscoveryItem, cause error) {
	if err := w.queue.MarkFailed(ctx, nil, item.IngredientID, item.RetryCount, item.EvidenceGrade, item.StudyCount, cause.Error()); err != nil {
		w.log.Error("Failed to park unsettled item", "term", item.Query, "error", err)
	}
}
