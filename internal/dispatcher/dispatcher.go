// Package dispatcher fans scan jobs out to a pool of scan workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/crawl"
	"github.com/JakeFAU/competitor-watch/internal/metrics"
	"github.com/JakeFAU/competitor-watch/internal/queue"
)

// ScanRunner executes one scan to completion.
type ScanRunner interface {
	Run(ctx context.Context, scanID string) (crawl.Result, error)
}

// Dispatcher fans out queued scans to a fixed number of workers.
type Dispatcher struct {
	queue   queue.Queue
	runner  ScanRunner
	workers int
	logger  *zap.Logger
}

// New creates a Dispatcher. workers <= 0 selects one worker.
func New(q queue.Queue, runner ScanRunner, workers int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   q,
		runner:  runner,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes or the queue
// is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range d.workers {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.work(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	logger := d.logger.With(zap.Int("worker", worker))
	for {
		job, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		logger.Debug("dequeued scan", zap.String("scan_id", job.ScanID), zap.Duration("waited", time.Since(job.EnqueuedAt)))
		metrics.IncActiveWorkers()
		if _, err := d.runner.Run(ctx, job.ScanID); err != nil {
			logger.Warn("scan run failed", zap.String("scan_id", job.ScanID), zap.Error(err))
		}
		metrics.DecActiveWorkers()
	}
}

// Enqueue schedules scanID for a worker.
func (d *Dispatcher) Enqueue(ctx context.Context, scanID string) error {
	if err := d.queue.Enqueue(ctx, queue.Job{ScanID: scanID, EnqueuedAt: time.Now()}); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
