// Package politeness spaces dispatches to each origin by a jittered gap and the
// robots Crawl-delay, and blocks origins that keep refusing us.
package politeness

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/competitor-watch/internal/metrics"
	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

const (
	defaultMinDelay = 500 * time.Millisecond
	defaultMaxDelay = 2 * time.Second
)

// Config bounds the jittered pause. Zero values select 0.5s and 2s; set
// Disabled to skip the pause entirely while still honoring Crawl-delay.
type Config struct {
	MinDelay time.Duration
	MaxDelay time.Duration
	Disabled bool
}

// Limiter manages per-origin spacing. It is safe for concurrent use.
//
// Every Wait claims the next dispatch slot for its origin under one mutex, so
// concurrent workers on the same origin are released one jittered gap apart
// instead of together. The first request to an origin goes out immediately.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	slots map[string]*originSlot

	jitter func(lo, hi time.Duration) time.Duration
}

type originSlot struct {
	// crawlDelay spaces dispatches by the robots Crawl-delay; rate.Inf when none.
	crawlDelay *rate.Limiter
	// next is the earliest time the following dispatch may start.
	next time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.MinDelay <= 0 && !cfg.Disabled {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.MaxDelay < cfg.MinDelay || cfg.MaxDelay == 0 {
		cfg.MaxDelay = max(cfg.MinDelay, defaultMaxDelay)
	}
	if cfg.Disabled {
		cfg.MinDelay, cfg.MaxDelay = 0, 0
	}
	return &Limiter{cfg: cfg, slots: make(map[string]*originSlot), jitter: uniform}
}

// Wait blocks until rawURL's origin may be requested again. crawlDelay is the
// origin's robots Crawl-delay; zero means none.
func (l *Limiter) Wait(ctx context.Context, rawURL string, crawlDelay time.Duration) error {
	origin, err := urlnorm.Origin(rawURL)
	if err != nil {
		origin = "unknown"
	}

	start := time.Now()
	at, reservation := l.reserve(origin, crawlDelay, start)
	if delay := at.Sub(start); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			reservation.Cancel()
			return fmt.Errorf("politeness wait: %w", ctx.Err())
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		reservation.Cancel()
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObservePolitenessWait(metrics.SanitizeSite(rawURL), waited)
	}
	return nil
}

// reserve claims origin's next dispatch slot and returns when it starts.
func (l *Limiter) reserve(origin string, crawlDelay time.Duration, now time.Time) (time.Time, *rate.Reservation) {
	limit := rate.Inf
	if crawlDelay > 0 {
		limit = rate.Every(crawlDelay)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[origin]
	if !ok {
		slot = &originSlot{crawlDelay: rate.NewLimiter(limit, 1)}
		l.slots[origin] = slot
	} else if slot.crawlDelay.Limit() != limit {
		slot.crawlDelay.SetLimitAt(now, limit)
	}

	reservation := slot.crawlDelay.ReserveN(now, 1)
	at := now.Add(reservation.DelayFrom(now))
	if slot.next.After(at) {
		at = slot.next
	}
	slot.next = at.Add(l.jitter(l.cfg.MinDelay, l.cfg.MaxDelay))
	return at, reservation
}

func uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
