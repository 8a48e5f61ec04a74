package politeness

import (
	"strings"
	"sync"
)

const defaultForbiddenThreshold = 3

// Blocker stops a session from hammering an origin that keeps answering 403
// or 429.
type Blocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

// NewBlocker builds a Blocker. threshold <= 0 selects 3.
func NewBlocker(threshold int) *Blocker {
	if threshold <= 0 {
		threshold = defaultForbiddenThreshold
	}
	return &Blocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether origin has been blocked.
func (b *Blocker) IsBlocked(origin string) bool {
	if origin == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[strings.ToLower(origin)]
	return ok
}

// MarkRefused counts a refusal for origin and returns true once it is blocked.
func (b *Blocker) MarkRefused(origin string) bool {
	if origin == "" {
		return false
	}
	key := strings.ToLower(origin)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// HostList matches hosts against exact names and "*.suffix" or ".suffix"
// patterns. A nil HostList matches nothing.
type HostList struct {
	exact    map[string]struct{}
	suffixes []string
}

// NewHostList compiles patterns; it returns nil when no pattern is usable.
func NewHostList(patterns []string) *HostList {
	hl := &HostList{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			hl.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			hl.addSuffix(strings.TrimPrefix(value, "."))
		default:
			hl.exact[value] = struct{}{}
		}
	}
	if len(hl.exact) == 0 && len(hl.suffixes) == 0 {
		return nil
	}
	return hl
}

func (h *HostList) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range h.suffixes {
		if existing == suffix {
			return
		}
	}
	h.suffixes = append(h.suffixes, suffix)
}

// Contains reports whether host matches any pattern.
func (h *HostList) Contains(host string) bool {
	if h == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return false
	}
	if _, ok := h.exact[host]; ok {
		return true
	}
	for _, suffix := range h.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
