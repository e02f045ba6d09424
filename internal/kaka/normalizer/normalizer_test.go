package normalizer

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaka.lopezb.com/internal/kaka/kakaerr"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"scheme upper http", "HTTP://example.com", "http://example.com/"},
		{"scheme upper https", "HTTPS://example.com", "https://example.com/"},
		{"www and case", "http://WWW.Example.COM", "http://example.com/"},
		{"host case", "http://EXAMPLE.COM", "http://example.com/"},
		{"default http port", "http://example.com:80", "http://example.com/"},
		{"default https port", "https://example.com:443", "https://example.com/"},
		{"custom port kept", "http://example.com:8080", "http://example.com:8080/"},
		{"dot segments", "http://example.com/path/to/../page", "http://example.com/path/page"},
		{"trailing slash", "http://example.com/path/", "http://example.com/path"},
		{"root", "http://example.com/", "http://example.com/"},
		{"sorted query", "http://example.com/?b=2&a=1", "http://example.com/?a=1&b=2"},
		{"tracking stripped", "http://example.com/?utm_source=google&q=test", "http://example.com/?q=test"},
		{"empty query", "http://example.com/?", "http://example.com/"},
		{"only tracking", "http://example.com/x?fbclid=1&gclid=2", "http://example.com/x"},
		{"fragment", "http://example.com/page#section", "http://example.com/page"},
		{"empty fragment", "http://example.com/page#", "http://example.com/page"},
		{"complex", "HTTPS://WWW.Example.com:443/Path/../Page?b=2&utm_source=google&a=1#section", "https://example.com/Page?a=1&b=2"},
		{"idn", "https://münchen.de", "https://xn--mnchen-3ya.de/"},
		{"ipv6", "http://[::1]:80/x", "http://[::1]/x"},
		{"ipv6 port", "http://[::1]:9000/x", "http://[::1]:9000/x"},
		{"repeat key sorted by value", "http://e.com/?a=2&a=1", "http://e.com/?a=1&a=2"},
		{"escaped value", "http://e.com/?q=a+b", "http://e.com/?q=a+b"},
		{"userinfo dropped", "http://user:pw@e.com/", "http://e.com/"},
		{"whitespace", "  http://e.com/a  ", "http://e.com/a"},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := n.Normalize(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "not idempotent")
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	n := New()
	for _, in := range []string{"not a url", "", "/relative/path", "http://exa mple.com/"} {
		_, err := n.Normalize(in)
		assert.True(t, errors.Is(err, kakaerr.ErrNormalize), "%q: %v", in, err)
	}
}

func TestAddTrackingParam(t *testing.T) {
	n := New()
	n.AddTrackingParam("sessionid")
	got, err := n.Normalize("https://e.com/a?sessionid=9&x=1")
	require.NoError(t, err)
	assert.Equal(t, "https://e.com/a?x=1", got)
}

func TestDomainRule(t *testing.T) {
	n := New()
	n.AddDomainRule("www.YouTube.com", KeepParams("v"))

	got, err := n.Normalize("https://www.youtube.com/watch?v=abc&list=xyz&t=10s")
	require.NoError(t, err)
	assert.Equal(t, "https://youtube.com/watch?v=abc", got)

	n.AddDomainRule("example.org", func(u *url.URL) string { return "example:" + u.Host })
	got, _ = n.Normalize("HTTP://Example.org:8080/anything")
	assert.Equal(t, "example:example.org:8080", got)
}

func TestConfigToggles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RemoveWWW = false
	cfg.RemoveFragment = false
	cfg.StripTracking = false
	n := NewWithConfig(cfg)

	got, err := n.Normalize("http://www.e.com/a?utm_source=x#frag")
	require.NoError(t, err)
	assert.Equal(t, "http://www.e.com/a?utm_source=x#frag", got)
}
