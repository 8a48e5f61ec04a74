// Package priority classifies URLs into crawl urgency tiers.
package priority

import (
	"net/url"
	"regexp"
	"strings"
)

// Tier is a discrete priority class. Lower values are more urgent.
type Tier int

// Supported tiers, most to least urgent.
const (
	Critical Tier = iota
	High
	Medium
	Low
	Deferred
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Demote returns the next less urgent tier, saturating at Deferred.
func (t Tier) Demote() Tier {
	if t >= Deferred {
		return Deferred
	}
	return t + 1
}

// LinkContext is an optional hint about what a link points at, usually derived
// from where and how it appeared on the referring page.
type LinkContext string

// Known link contexts.
const (
	ContextNone          LinkContext = ""
	ContextPricing       LinkContext = "pricing"
	ContextProduct       LinkContext = "product"
	ContextContent       LinkContext = "content"
	ContextDocumentation LinkContext = "documentation"
	ContextNavigation    LinkContext = "navigation"
	ContextAuth          LinkContext = "auth"
	ContextGeneral       LinkContext = "general"
)

type tierPatterns struct {
	tier     Tier
	patterns []*regexp.Regexp
}

// patternTable is checked in order; the first matching pattern wins.
var patternTable = []tierPatterns{
	{tier: Critical, patterns: compile(`^/$`, `^/home/?$`, `^/index\.html?$`)},
	{tier: High, patterns: compile(`/pricing`, `/plans`, `/products?/`, `/features`, `/shop`, `/store`, `/buy`)},
	{tier: Medium, patterns: compile(`/blog/`, `/posts?/`, `/articles?/`, `/news/`, `/case-study`, `/solutions`)},
	{tier: Low, patterns: compile(
		`/about`, `/team`, `/careers`, `/contact`, `/privacy`, `/terms`, `/legal`,
		`/docs/`, `/help/`, `/support/`, `/faq`,
	)},
	{tier: Deferred, patterns: compile(`/tag/`, `/category/`, `/author/`, `/page/\d+`, `\?.*page=`, `/archive/`)},
}

var contextTiers = map[LinkContext]Tier{
	ContextPricing:       High,
	ContextProduct:       High,
	ContextContent:       Medium,
	ContextDocumentation: Low,
	ContextNavigation:    Low,
	ContextAuth:          Deferred,
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(expr))
	}
	return out
}

// Classify maps a URL to a tier using the path pattern tables, falling back
// to the link context hint and finally to Medium.
func Classify(rawURL string, hint LinkContext) Tier {
	target := matchTarget(rawURL)
	for _, group := range patternTable {
		for _, re := range group.patterns {
			if re.MatchString(target) {
				return group.tier
			}
		}
	}
	if tier, ok := contextTiers[hint]; ok {
		return tier
	}
	return Medium
}

// matchTarget is the lowercased path, with the raw query appended when present
// so pagination queries can be recognised.
func matchTarget(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	p := u.Path
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return strings.ToLower(p)
}

var contextKeywords = []struct {
	ctx   LinkContext
	paths []string
	words []string
}{
	{ctx: ContextNavigation, paths: []string{"/about", "/contact", "/team", "/careers"}},
	{ctx: ContextProduct, paths: []string{"/product", "/shop", "/store", "/item", "/buy"}, words: []string{"shop now", "buy"}},
	{ctx: ContextContent, paths: []string{"/blog", "/post", "/article", "/news"}, words: []string{"read more"}},
	{ctx: ContextPricing, paths: []string{"/pricing", "/plans", "/subscribe"}, words: []string{"pricing", "plans"}},
	{ctx: ContextDocumentation, paths: []string{"/docs", "/help", "/support", "/faq"}, words: []string{"documentation"}},
	{ctx: ContextAuth, paths: []string{"/login", "/signup", "/register", "/signin"}, words: []string{"log in", "sign in", "sign up"}},
}

// InferContext derives a link context from the link target and its anchor text.
func InferContext(href, anchorText string) LinkContext {
	lowerURL := strings.ToLower(href)
	for _, kw := range contextKeywords {
		for _, p := range kw.paths {
			if strings.Contains(lowerURL, p) {
				return kw.ctx
			}
		}
	}
	text := strings.ToLower(strings.TrimSpace(anchorText))
	if text == "" {
		return ContextGeneral
	}
	for _, kw := range contextKeywords {
		for _, w := range kw.words {
			if strings.Contains(text, w) {
				return kw.ctx
			}
		}
	}
	return ContextGeneral
}
