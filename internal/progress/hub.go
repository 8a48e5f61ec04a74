package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBufferSize     = 4096
	defaultMaxBatchEvents = 1000
	defaultMaxBatchWait   = 500 * time.Millisecond
	defaultSinkTimeout    = 10 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Config controls buffering and batching for the Hub. Zero values select the
// default noted on each field.
type Config struct {
	// BufferSize is the capacity of the event channel (4096).
	BufferSize int
	// MaxBatchEvents flushes a batch once it holds this many events (1000).
	MaxBatchEvents int
	// MaxBatchWait flushes a non-empty batch this long after its first event (500ms).
	MaxBatchWait time.Duration
	// SinkTimeout bounds every Consume call (10s).
	SinkTimeout time.Duration
	// BaseContext parents sink calls.
	BaseContext context.Context
	Logger      *zap.Logger
}

// Hub batches scan events on a background goroutine and fans them out to
// sinks. Emit never blocks: when the buffer is full the event is dropped and
// counted. Within a batch, SCAN_PROGRESS events for the same scan collapse
// onto the most recent one.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	events chan Event
	stop   chan struct{}
	done   chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
	closeCtx  context.Context

	dropped  atomic.Int64
	dropWarn rate.Sometimes
}

// NewHub starts a Hub delivering to sinks.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:      cfg,
		sinks:    append([]Sink(nil), sinks...),
		logger:   logger,
		events:   make(chan Event, cfg.BufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		dropWarn: rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit queues evt for the next batch. Invalid events are discarded.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid scan event", zap.String("stage", string(evt.Stage)), zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		h.dropped.Add(1)
		h.dropWarn.Do(func() {
			h.logger.Warn("scan events dropped due to backpressure",
				zap.Int64("dropped", h.dropped.Swap(0)),
				zap.String("last_stage", string(evt.Stage)),
				zap.String("scan_id", evt.ScanID),
			)
		})
	}
}

// Close stops accepting events, flushes what is buffered, closes the sinks
// and waits for the background goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stop)
	})
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.done)
	pending := newBatch(h.cfg.MaxBatchEvents)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()

	for {
		select {
		case evt := <-h.events:
			if pending.len() == 0 {
				timer.Reset(h.cfg.MaxBatchWait)
			}
			pending.add(evt)
			if pending.len() >= h.cfg.MaxBatchEvents {
				timer.Stop()
				h.flush(pending.take())
			}
		case <-timer.C:
			h.flush(pending.take())
		case <-h.stop:
			timer.Stop()
			h.drain(pending)
			return
		}
	}
}

func (h *Hub) drain(pending *batch) {
	for {
		select {
		case evt := <-h.events:
			pending.add(evt)
			if pending.len() >= h.cfg.MaxBatchEvents {
				h.flush(pending.take())
			}
		default:
			h.flush(pending.take())
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, events); err != nil {
			h.logger.Warn("progress sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batch accumulates events between flushes in arrival order, except that a
// scan's SCAN_PROGRESS event replaces the one already pending for that scan.
type batch struct {
	events   []Event
	progress map[string]int
}

func newBatch(capacity int) *batch {
	return &batch{events: make([]Event, 0, capacity), progress: make(map[string]int)}
}

func (b *batch) add(evt Event) {
	if evt.Stage == StageScanProgress {
		if i, ok := b.progress[evt.ScanID]; ok {
			b.events[i] = evt
			return
		}
		b.progress[evt.ScanID] = len(b.events)
	}
	b.events = append(b.events, evt)
}

func (b *batch) len() int {
	return len(b.events)
}

// take hands the pending events to the caller and starts a fresh batch.
func (b *batch) take() []Event {
	out := b.events
	b.events = make([]Event, 0, cap(out))
	clear(b.progress)
	return out
}
