// Package frontier implements the crawl work queue: a tier-ordered priority
// queue with seen-set deduplication, in-progress tracking, terminal completed
// and failed sets, and a retry policy that demotes failing URLs.
//
// A Frontier is scoped to one crawl session. Every operation runs under a
// single mutex; callers fetch pages outside of it.
package frontier

import (
	"container/heap"
	"sync"
	"time"

	"github.com/JakeFAU/competitor-watch/internal/priority"
	"github.com/JakeFAU/competitor-watch/internal/urlnorm"
)

const (
	defaultMaxDepth   = 5
	defaultMaxRetries = 3
	defaultMaxURLs    = 1000
)

// Config bounds a Frontier. Zero values select the defaults; a negative
// MaxRetries disables retries.
type Config struct {
	MaxDepth   int
	MaxRetries int
	MaxURLs    int
}

// Item is a URL awaiting fetch.
type Item struct {
	URL      string            `json:"url"`
	Tier     priority.Tier     `json:"tier"`
	Depth    int               `json:"depth"`
	Referrer string            `json:"referrer,omitempty"`
	AddedAt  time.Time         `json:"added_at"`
	Retries  int               `json:"retries"`
	Metadata map[string]string `json:"metadata,omitempty"`

	seq uint64
}

// Stats is a point-in-time view of frontier sizes.
type Stats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	TotalSeen  int `json:"total_seen"`
	MaxURLs    int `json:"max_urls"`
}

// Frontier is safe for concurrent use.
type Frontier struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	queue      itemHeap
	seq        uint64
	seen       map[string]struct{}
	inProgress map[string]struct{}
	completed  map[string]struct{}
	failed     map[string]string
}

// Option customizes a Frontier.
type Option func(*Frontier)

// WithClock overrides the time source used to stamp items.
func WithClock(now func() time.Time) Option {
	return func(f *Frontier) {
		if now != nil {
			f.now = now
		}
	}
}

// New constructs an empty Frontier.
func New(cfg Config, opts ...Option) *Frontier {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = defaultMaxURLs
	}
	f := &Frontier{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	f.reset()
	return f
}

func (f *Frontier) reset() {
	f.queue = itemHeap{}
	f.seq = 0
	f.seen = make(map[string]struct{})
	f.inProgress = make(map[string]struct{})
	f.completed = make(map[string]struct{})
	f.failed = make(map[string]string)
}

// Config returns the effective limits.
func (f *Frontier) Config() Config {
	return f.cfg
}

// Add admits rawURL at the given tier and depth. It returns false without
// changing state when the URL cannot be normalized, the seen set is at
// capacity, depth exceeds the limit, or the URL was already seen.
func (f *Frontier) Add(rawURL string, tier priority.Tier, depth int, referrer string, metadata map[string]string) bool {
	normalized, err := urlnorm.Normalize(rawURL, referrer)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.seen) >= f.cfg.MaxURLs {
		return false
	}
	if depth < 0 || depth > f.cfg.MaxDepth {
		return false
	}
	if _, ok := f.seen[normalized]; ok {
		return false
	}
	f.seen[normalized] = struct{}{}
	f.push(Item{
		URL:      normalized,
		Tier:     clampTier(tier),
		Depth:    depth,
		Referrer: referrer,
		AddedAt:  f.now(),
		Metadata: copyMetadata(metadata),
	})
	return true
}

// AddMany applies Add to each URL and returns how many were admitted.
func (f *Frontier) AddMany(urls []string, tier priority.Tier, depth int, referrer string) int {
	admitted := 0
	for _, u := range urls {
		if f.Add(u, tier, depth, referrer, nil) {
			admitted++
		}
	}
	return admitted
}

// Get pops the most urgent eligible item and marks it in progress. Entries
// whose URL is already completed or in progress are discarded. The boolean is
// false when nothing eligible remains.
func (f *Frontier) Get() (Item, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.popLocked()
}

func (f *Frontier) popLocked() (Item, bool) {
	for f.queue.Len() > 0 {
		item := heap.Pop(&f.queue).(Item)
		if _, done := f.completed[item.URL]; done {
			continue
		}
		if _, busy := f.inProgress[item.URL]; busy {
			continue
		}
		f.inProgress[item.URL] = struct{}{}
		return item, true
	}
	return Item{}, false
}

// GetBatch returns up to n items, fewer if the queue drains.
func (f *Frontier) GetBatch(n int) []Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]Item, 0, max(n, 0))
	for len(items) < n {
		item, ok := f.popLocked()
		if !ok {
			break
		}
		items = append(items, item)
	}
	return items
}

// Complete moves url from in progress to completed. It is a no-op for a URL
// that is not in progress, so a queued URL is never dropped unfetched.
func (f *Frontier) Complete(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.inProgress[url]; !ok {
		return
	}
	delete(f.inProgress, url)
	f.completed[url] = struct{}{}
}

// Fail clears item from in progress. While retries remain the URL is queued
// again one tier lower; otherwise it is recorded as failed with cause.
func (f *Frontier) Fail(item Item, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inProgress, item.URL)

	if item.Retries < f.cfg.MaxRetries {
		retry := item
		retry.Tier = clampTier(item.Tier).Demote()
		retry.Retries = item.Retries + 1
		retry.Metadata = copyMetadata(item.Metadata)
		f.push(retry)
		return
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	f.failed[item.URL] = msg
}

// Release clears url from in progress without a terminal transition. The URL
// stays in the seen set, so a later Add of the same URL is rejected; requeues
// go through Fail.
func (f *Frontier) Release(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.inProgress, url)
}

// IsEmpty reports whether nothing is queued and nothing is in progress.
func (f *Frontier) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() == 0 && len(f.inProgress) == 0
}

// Stats returns current counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:    f.queue.Len(),
		InProgress: len(f.inProgress),
		Completed:  len(f.completed),
		Failed:     len(f.failed),
		TotalSeen:  len(f.seen),
		MaxURLs:    f.cfg.MaxURLs,
	}
}

// Failures returns a copy of the terminal failures keyed by URL.
func (f *Frontier) Failures() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.failed))
	for k, v := range f.failed {
		out[k] = v
	}
	return out
}

// Clear resets all state for a new session.
func (f *Frontier) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()
}

func (f *Frontier) push(item Item) {
	f.seq++
	item.seq = f.seq
	heap.Push(&f.queue, item)
}

func clampTier(t priority.Tier) priority.Tier {
	switch {
	case t < priority.Critical:
		return priority.Critical
	case t > priority.Deferred:
		return priority.Deferred
	default:
		return t
	}
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// itemHeap orders by tier, then by admission sequence.
type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Tier != h[j].Tier {
		return h[i].Tier < h[j].Tier
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
