// Package queue carries scan jobs from the API to the scan workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Dequeue once the queue has been closed and drained.
var ErrClosed = errors.New("queue closed")

// Job asks a worker to run one scan.
type Job struct {
	ScanID     string    `json:"scan_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO of scan jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
}
