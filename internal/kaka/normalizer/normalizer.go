// Package normalizer canonicalizes URLs so that textual variants of the same
// resource map to one string before they reach the exact-match filter.
//
// The default rules are:
//
//   - scheme and host are lower-cased; a leading "www." is removed
//   - internationalized hosts are converted to punycode
//   - the scheme's default port is dropped; other ports are kept
//   - "." and ".." path segments are resolved and a trailing slash is
//     removed; an empty path becomes "/"
//   - tracking parameters are dropped and the rest sorted by key, then value
//   - an empty query and the fragment are dropped
//
// so that
//
//	HTTPS://WWW.Example.com:443/a/../b/?utm_source=x&b=2&a=1#top
//
// becomes
//
//	https://example.com/b?a=1&b=2
//
// Path case is preserved. Per-domain rules replace the default output for a
// host entirely.
package normalizer

import (
	"net"
	"net/url"
	"path"
	"sort"
	"strings"

	"golang.org/x/net/idna"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

// DefaultTrackingParams are removed from every query string.
var DefaultTrackingParams = []string{
	"utm_source",
	"utm_medium",
	"utm_campaign",
	"utm_content",
	"utm_term",
	"fbclid",
	"gclid",
	"msclkid",
	"_ga",
	"_gl",
	"mc_cid",
	"mc_eid",
	"ref",
	"referrer",
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
	"ftp":   "21",
}

// Rule produces the canonical form for a URL on a specific domain. The URL it
// receives already has its scheme and host canonicalized.
type Rule func(u *url.URL) string

// Config toggles individual rules.
type Config struct {
	RemoveWWW         bool
	RemoveDefaultPort bool
	SortQuery         bool
	RemoveFragment    bool
	StripTracking     bool
}

// DefaultConfig enables every rule.
func DefaultConfig() Config {
	return Config{
		RemoveWWW:         true,
		RemoveDefaultPort: true,
		SortQuery:         true,
		RemoveFragment:    true,
		StripTracking:     true,
	}
}

// Normalizer applies a fixed rule set. Configure it with AddTrackingParam and
// AddDomainRule before sharing it; Normalize itself is safe for concurrent use.
type Normalizer struct {
	cfg      Config
	tracking map[string]struct{}
	rules    map[string]Rule
}

// New returns a normalizer with the default configuration and tracking list.
func New() *Normalizer {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig returns a normalizer using cfg and the default tracking list.
func NewWithConfig(cfg Config) *Normalizer {
	n := &Normalizer{
		cfg:      cfg,
		tracking: make(map[string]struct{}, len(DefaultTrackingParams)),
		rules:    make(map[string]Rule),
	}
	for _, p := range DefaultTrackingParams {
		n.tracking[p] = struct{}{}
	}
	return n
}

// AddTrackingParam adds a query key to strip.
func (n *Normalizer) AddTrackingParam(key string) {
	n.tracking[key] = struct{}{}
}

// AddDomainRule installs a rule for host. The host is matched after
// lower-casing and "www." removal.
func (n *Normalizer) AddDomainRule(host string, r Rule) {
	n.rules[strings.TrimPrefix(strings.ToLower(host), "www.")] = r
}

// Normalize returns the canonical form of raw. It is deterministic: equal
// inputs always give equal outputs, and Normalize(Normalize(x)) == Normalize(x)
// for the default rules.
func (n *Normalizer) Normalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", kakaerr.Wrap(kakaerr.ErrNormalize, "%v", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", kakaerr.Wrap(kakaerr.ErrNormalize, "%q has no scheme or host", raw)
	}

	scheme := strings.ToLower(u.Scheme)
	name, err := canonicalHost(u.Hostname())
	if err != nil {
		return "", kakaerr.Wrap(kakaerr.ErrNormalize, "host %q: %v", u.Hostname(), err)
	}
	if n.cfg.RemoveWWW {
		name = strings.TrimPrefix(name, "www.")
	}

	host := name
	port := u.Port()
	switch {
	case port != "" && !(n.cfg.RemoveDefaultPort && defaultPorts[scheme] == port):
		host = net.JoinHostPort(name, port)
	case strings.Contains(name, ":"):
		host = "[" + name + "]"
	}

	if r, ok := n.rules[name]; ok {
		cu := *u
		cu.Scheme, cu.Host, cu.User = scheme, host, nil
		return r(&cu), nil
	}

	var b strings.Builder
	b.Grow(len(raw))
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(cleanPath(u.EscapedPath()))

	if q := n.query(u.RawQuery); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	if !n.cfg.RemoveFragment && u.Fragment != "" {
		b.WriteByte('#')
		b.WriteString(u.EscapedFragment())
	}
	return b.String(), nil
}

func canonicalHost(h string) (string, error) {
	for i := 0; i < len(h); i++ {
		if h[i] >= 0x80 {
			return idna.Lookup.ToASCII(h)
		}
	}
	return strings.ToLower(h), nil
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	p = path.Clean(p)
	p = strings.TrimRight(p, "/")
	if p == "" || p == "." {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return p
}

type pair struct{ k, v string }

func (n *Normalizer) query(raw string) string {
	if raw == "" {
		return ""
	}
	vals, _ := url.ParseQuery(raw)
	pairs := make([]pair, 0, len(vals))
	for k, vs := range vals {
		if n.cfg.StripTracking {
			if _, ok := n.tracking[k]; ok {
				continue
			}
		}
		for _, v := range vs {
			pairs = append(pairs, pair{k, v})
		}
	}
	if len(pairs) == 0 {
		return ""
	}
	if n.cfg.SortQuery {
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].k != pairs[j].k {
				return pairs[i].k < pairs[j].k
			}
			return pairs[i].v < pairs[j].v
		})
	} else {
		// Map iteration is random; fall back to key order so output stays
		// deterministic.
		sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
	}

	var b strings.Builder
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.v))
	}
	return b.String()
}

// KeepParams returns a Rule that keeps only the named query parameters, in
// the given order, and drops the path's trailing slash.
//
//	n.AddDomainRule("youtube.com", normalizer.KeepParams("v"))
func KeepParams(keys ...string) Rule {
	return func(u *url.URL) string {
		q := u.Query()
		var parts []string
		for _, k := range keys {
			for _, v := range q[k] {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		out := u.Scheme + "://" + u.Host + cleanPath(u.EscapedPath())
		if len(parts) > 0 {
			out += "?" + strings.Join(parts, "&")
		}
		return out
	}
}
