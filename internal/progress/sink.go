package progress

import "context"

// Emitter accepts scan events. The Hub implements it; the crawl executor,
// scan runner and change pipeline depend only on this.
type Emitter interface {
	Emit(evt Event)
}

// Sink receives flushed batches. Consume may be called with a ctx that
// carries the hub's per-sink deadline and must not retain batch.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// SinkFunc adapts a function to a Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close implements Sink.
func (SinkFunc) Close(context.Context) error {
	return nil
}
