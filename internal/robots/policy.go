// Package robots fetches, parses and caches per-origin robots.txt policy.
package robots

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// Policy holds the directives that apply to our agent for one origin.
type Policy struct {
	Allow      []string      `json:"allow,omitempty"`
	Disallow   []string      `json:"disallow,omitempty"`
	CrawlDelay time.Duration `json:"crawl_delay,omitempty"`
	Sitemaps   []string      `json:"sitemaps,omitempty"`
	FetchedAt  time.Time     `json:"fetched_at"`
}

// Permissive returns a policy with no restrictions.
func Permissive(at time.Time) Policy {
	return Policy{FetchedAt: at}
}

// IsAllowed reports whether path may be fetched. Allow patterns are checked
// first and win over any overlapping Disallow; no match means allowed.
func (p Policy) IsAllowed(path string) bool {
	if path == "" {
		path = "/"
	}
	for _, pattern := range p.Allow {
		if matches(pattern, path) {
			return true
		}
	}
	for _, pattern := range p.Disallow {
		if matches(pattern, path) {
			return false
		}
	}
	return true
}

// Parse extracts the rules for agent from a robots.txt body. Groups addressed
// to "*" or to agent contribute Allow, Disallow and Crawl-delay; Sitemap lines
// are global. Malformed input yields whatever could be read.
func Parse(body []byte, agent string) Policy {
	var policy Policy
	token := strings.ToLower(strings.TrimSpace(agent))

	var (
		groupAgents []string
		inRules     bool
	)
	applies := func() bool {
		for _, a := range groupAgents {
			if a == "*" || (a != "" && token != "" && strings.Contains(token, a)) {
				return true
			}
		}
		return false
	}

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			// A user-agent line after rules starts a new group.
			if inRules {
				groupAgents = groupAgents[:0]
				inRules = false
			}
			groupAgents = append(groupAgents, strings.ToLower(value))
		case "allow":
			inRules = true
			if value != "" && applies() {
				policy.Allow = append(policy.Allow, value)
			}
		case "disallow":
			inRules = true
			if value != "" && applies() {
				policy.Disallow = append(policy.Disallow, value)
			}
		case "crawl-delay":
			inRules = true
		case "sitemap":
			if value != "" {
				policy.Sitemaps = append(policy.Sitemaps, value)
			}
		}
	}

	// Sitemap and Crawl-delay come from robotstxt when it can parse the body.
	if data, err := robotstxt.FromStatusAndBytes(200, body); err == nil {
		if len(data.Sitemaps) > 0 {
			policy.Sitemaps = dedupe(data.Sitemaps)
		}
		if group := data.FindGroup(agent); group != nil && group.CrawlDelay > 0 {
			policy.CrawlDelay = group.CrawlDelay
		}
	}
	policy.Sitemaps = dedupe(policy.Sitemaps)
	return policy
}

var patternCache sync.Map // string -> *regexp.Regexp

func matches(pattern, path string) bool {
	if !strings.Contains(pattern, "*") {
		if strings.HasSuffix(pattern, "$") {
			return path == strings.TrimSuffix(pattern, "$")
		}
		return strings.HasPrefix(path, pattern)
	}
	re := wildcardRegexp(pattern)
	return re.MatchString(path)
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}
	anchored := strings.HasSuffix(pattern, "$")
	body := strings.TrimSuffix(pattern, "$")
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(body), `\*`, ".*")
	if anchored {
		expr += "$"
	}
	re := regexp.MustCompile(expr)
	patternCache.Store(pattern, re)
	return re
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
