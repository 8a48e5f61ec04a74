// Package urlnorm canonicalizes URLs so equivalent variants share one identity key.
package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path"
	"strings"
)

var (
	// ErrNotAbsolute is returned when a URL cannot be resolved to an absolute form.
	ErrNotAbsolute = errors.New("url is not absolute")
	// ErrUnsupportedScheme is returned for anything other than http and https.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// trackingParams lists query keys stripped during normalization. Keys prefixed
// with utm_ are stripped as well.
var trackingParams = map[string]struct{}{
	"fbclid":     {},
	"gclid":      {},
	"msclkid":    {},
	"ref":        {},
	"source":     {},
	"mc_cid":     {},
	"mc_eid":     {},
	"sessionid":  {},
	"sid":        {},
	"jsessionid": {},
	"_ga":        {},
	"_gid":       {},
}

var skipExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {}, ".tar": {}, ".gz": {}, ".7z": {},
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {},
	".exe": {}, ".dmg": {}, ".apk": {},
}

// Normalize resolves raw against base (when raw is relative) and returns its
// canonical form: lowercase scheme and host, no default port, no fragment, no
// trailing slash except for the root path, tracking parameters removed and the
// remaining query parameters sorted by key.
func Normalize(raw, base string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !u.IsAbs() && base != "" {
		b, err := url.Parse(strings.TrimSpace(base))
		if err != nil {
			return "", fmt.Errorf("parse base url: %w", err)
		}
		u = b.ResolveReference(u)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrNotAbsolute, raw)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	if u.User != nil {
		b.WriteString(u.User.String())
		b.WriteByte('@')
	}
	b.WriteString(normalizeHost(scheme, u))
	b.WriteString(normalizePath(u.EscapedPath()))
	if q := normalizeQuery(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

func normalizeHost(scheme string, u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		return net.JoinHostPort(host, port)
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]"
	}
	return host
}

// normalizePath trims every trailing slash, not just one, so a second pass
// over the result never changes it.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil && len(values) == 0 {
		return ""
	}
	for key := range values {
		if isTrackingParam(key) {
			values.Del(key)
		}
	}
	// Encode sorts by key.
	return values.Encode()
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	if strings.HasPrefix(k, "utm_") {
		return true
	}
	_, ok := trackingParams[k]
	return ok
}

// Origin returns scheme://host[:port] of a URL in normalized form.
func Origin(raw string) (string, error) {
	normalized, err := Normalize(raw, "")
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("parse normalized url: %w", err)
	}
	return u.Scheme + "://" + u.Host, nil
}

// IsSameOrigin reports whether a and b share scheme and host. Unparseable
// inputs are never the same origin.
func IsSameOrigin(a, b string) bool {
	oa, err := Origin(a)
	if err != nil {
		return false
	}
	ob, err := Origin(b)
	if err != nil {
		return false
	}
	return oa == ob
}

// PathDepth counts the non-empty path segments of raw.
func PathDepth(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	trimmed := strings.Trim(u.Path, "/")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "/"))
}

// Path returns the escaped path and query of raw, using "/" for an empty path.
func Path(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		return p + "?" + u.RawQuery
	}
	return p
}

// SkipExtension reports whether raw points at a binary or asset resource that
// is not worth crawling.
func SkipExtension(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	_, ok := skipExtensions[ext]
	return ok
}
