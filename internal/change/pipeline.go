package change

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-watch/internal/metrics"
	"github.com/JakeFAU/competitor-watch/internal/progress"
	"github.com/JakeFAU/competitor-watch/internal/store"
)

// Pipeline runs every coordinator against a fetched page. Coordinator errors
// are logged and absorbed; alerts are persisted and emitted best-effort.
type Pipeline struct {
	coordinators []Coordinator
	alerts       store.AlertRepository
	emitter      progress.Emitter
	clock        store.Clock
	logger       *zap.Logger
}

// NewPipeline constructs a Pipeline. emitter may be nil.
func NewPipeline(alerts store.AlertRepository, emitter progress.Emitter, clock store.Clock, logger *zap.Logger, coordinators ...Coordinator) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{coordinators: coordinators, alerts: alerts, emitter: emitter, clock: clock, logger: logger}
}

// Process hands obs to each coordinator in order and returns every event produced.
func (p *Pipeline) Process(ctx context.Context, obs Observation) []Event {
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = p.clock.Now()
	}
	var all []Event
	for _, c := range p.coordinators {
		events, err := c.Process(ctx, obs)
		if err != nil {
			p.logger.Warn("change coordinator failed",
				zap.String("domain", string(c.Domain())),
				zap.String("scan_id", obs.ScanID),
				zap.String("url", obs.URL),
				zap.Error(err),
			)
		}
		for _, ev := range events {
			metrics.ObserveChange(string(ev.Domain), string(ev.Kind))
			if ev.Alert != nil {
				p.raise(ctx, *ev.Alert)
			}
		}
		all = append(all, events...)
	}
	return all
}

func (p *Pipeline) raise(ctx context.Context, alert store.Alert) {
	if p.alerts != nil {
		if err := p.alerts.AddAlert(ctx, alert); err != nil {
			p.logger.Warn("persist alert failed",
				zap.String("competitor_id", alert.CompetitorID),
				zap.String("alert_type", string(alert.Type)),
				zap.Error(err),
			)
		}
	}
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(progress.Event{
		ScanID:       alert.ScanID,
		CompetitorID: alert.CompetitorID,
		TS:           alert.CreatedAt,
		Stage:        progress.StageAlert,
		URL:          alert.URL,
		AlertType:    string(alert.Type),
		Severity:     string(alert.Severity),
		Title:        alert.Title,
		Note:         alert.Message,
	})
}
