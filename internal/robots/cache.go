package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

const (
	defaultTTL     = time.Hour
	failureTTL     = 5 * time.Minute
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Doer is the subset of *http.Client used to fetch robots.txt.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls robots.txt fetching.
type Config struct {
	// UserAgent is sent with robots requests.
	UserAgent string
	// AgentToken selects the User-agent groups that apply to us.
	AgentToken string
	// TTL is how long a fetched policy stays fresh.
	TTL time.Duration
	// Respect turns enforcement on; when false Allowed always reports true.
	Respect bool
}

// Cache fetches and caches robots policy per origin. It is safe for
// concurrent use; concurrent misses for the same origin share one fetch.
type Cache struct {
	cfg    Config
	client Doer
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

type entry struct {
	policy  Policy
	expires time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithClient overrides the HTTP client.
func WithClient(client Doer) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

// NewCache builds a Cache.
func NewCache(cfg Config, logger *zap.Logger, opts ...Option) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.AgentToken == "" {
		cfg.AgentToken = "competitor-watch"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		cfg:     cfg,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the cached policy for origin, fetching it when absent or
// older than the TTL. Fetch failures and non-200 responses produce a
// permissive policy; server errors and network failures are cached for a few
// minutes only. A caller whose ctx ends first gets an uncached permissive
// policy while the shared fetch carries on detached from it.
func (c *Cache) Policy(ctx context.Context, origin string) Policy {
	if p, ok := c.fresh(origin); ok {
		return p
	}
	if ctx.Err() != nil {
		return Permissive(c.now())
	}
	ch := c.group.DoChan(origin, func() (any, error) {
		if p, ok := c.fresh(origin); ok {
			return p, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer cancel()
		p, ttl := c.fetch(fetchCtx, origin)
		c.mu.Lock()
		c.entries[origin] = entry{policy: p, expires: p.FetchedAt.Add(ttl)}
		c.mu.Unlock()
		return p, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Policy)
	case <-ctx.Done():
		c.logger.Debug("robots lookup abandoned; allowing access", zap.String("origin", origin), zap.Error(ctx.Err()))
		return Permissive(c.now())
	}
}

// Allowed reports whether rawURL may be fetched under its origin's policy.
// Unparseable URLs are denied.
func (c *Cache) Allowed(ctx context.Context, rawURL string) bool {
	if !c.cfg.Respect {
		return true
	}
	origin, err := urlnorm.Origin(rawURL)
	if err != nil {
		return false
	}
	return c.Policy(ctx, origin).IsAllowed(urlnorm.Path(rawURL))
}

func (c *Cache) fresh(origin string) (Policy, bool) {
	c.mu.RLock()
	e, ok := c.entries[origin]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expires) {
		return Policy{}, false
	}
	return e.policy, true
}

// fetch returns origin's policy and how long it may be cached.
func (c *Cache) fetch(ctx context.Context, origin string) (Policy, time.Duration) {
	now := c.now()
	shortTTL := min(failureTTL, c.cfg.TTL)
	body, status, err := c.get(ctx, origin+"/robots.txt")
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access", zap.String("origin", origin), zap.Error(err))
		return Permissive(now), shortTTL
	}
	if status >= http.StatusInternalServerError {
		c.logger.Warn("robots server error; allowing access", zap.String("origin", origin), zap.Int("status", status))
		return Permissive(now), shortTTL
	}
	if status != http.StatusOK {
		c.logger.Debug("robots unavailable; allowing access", zap.String("origin", origin), zap.Int("status", status))
		return Permissive(now), c.cfg.TTL
	}
	p := Parse(body, c.cfg.AgentToken)
	p.FetchedAt = now
	return p, c.cfg.TTL
}

func (c *Cache) get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build robots request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read robots body: %w", err)
	}
	return body, resp.StatusCode, nil
}
