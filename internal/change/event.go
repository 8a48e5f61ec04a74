// Package change extracts content, price and product facts from fetched pages,
// compares them against the last known state and emits change events.
package change

import (
	"context"
	"time"

	"github.com/JakeFAU/competitor-watch/internal/store"
)

// Domain names the kind of fact a coordinator tracks.
type Domain string

// Coordinator domains.
const (
	DomainContent Domain = "content"
	DomainPrice   Domain = "price"
	DomainProduct Domain = "product"
)

// Kind reports how an observation compares with the stored state.
type Kind string

// Event kinds.
const (
	KindNew       Kind = "new"
	KindChanged   Kind = "changed"
	KindUnchanged Kind = "unchanged"
)

// Observation is one fetched page handed to the coordinators.
type Observation struct {
	CompetitorID string
	ScanID       string
	URL          string
	Title        string
	HTML         string
	ObservedAt   time.Time
}

// Event is the outcome of comparing one extracted entity with its stored state.
type Event struct {
	Domain        Domain         `json:"domain"`
	Kind          Kind           `json:"kind"`
	Severity      store.Severity `json:"severity,omitempty"`
	Key           string         `json:"key"`
	URL           string         `json:"url"`
	Title         string         `json:"title,omitempty"`
	Message       string         `json:"message,omitempty"`
	OldValue      string         `json:"old_value,omitempty"`
	NewValue      string         `json:"new_value,omitempty"`
	ChangeType    string         `json:"change_type,omitempty"`
	ChangePercent float64        `json:"change_percent,omitempty"`
	// Alert is set when the event should be persisted as a user-facing alert.
	Alert *store.Alert `json:"-"`
}

// Coordinator processes one page for a single domain.
type Coordinator interface {
	Domain() Domain
	Process(ctx context.Context, obs Observation) ([]Event, error)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func newAlert(ids store.IDGenerator, obs Observation, at time.Time, typ store.AlertType, sev store.Severity, title, message, entityID string) (*store.Alert, error) {
	id, err := ids.NewID()
	if err != nil {
		return nil, err
	}
	return &store.Alert{
		ID:           id,
		CompetitorID: obs.CompetitorID,
		ScanID:       obs.ScanID,
		Type:         typ,
		Severity:     sev,
		Title:        title,
		Message:      message,
		URL:          obs.URL,
		EntityID:     entityID,
		CreatedAt:    at,
	}, nil
}

func observedAt(obs Observation, clock store.Clock) time.Time {
	if !obs.ObservedAt.IsZero() {
		return obs.ObservedAt
	}
	return clock.Now()
}
