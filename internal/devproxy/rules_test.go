package devproxy

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpstream(t *testing.T) {
	tests := []struct {
		raw    string
		host   string
		origin string
		href   string
	}{
		{"http://upstream.example:8080", "upstream.example:8080", "http://upstream.example:8080", "http://upstream.example:8080/"},
		{"HTTPS://Hub.Example.com:443/", "hub.example.com", "https://hub.example.com", "https://hub.example.com/"},
		{"http://awx.local:80/base", "awx.local", "http://awx.local", "http://awx.local/base"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			up, err := ParseUpstream(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.host, up.Host)
			assert.Equal(t, tt.origin, up.Origin)
			assert.Equal(t, tt.href, up.Href)
		})
	}
}

func TestParseUpstream_RejectsRelative(t *testing.T) {
	_, err := ParseUpstream("upstream.example")
	assert.Error(t, err)

	_, err = ParseUpstream("://bad")
	assert.Error(t, err)
}

func TestBuildRules_PerApp(t *testing.T) {
	tests := []struct {
		app      string
		prefixes []string
	}{
		{"awx", []string{"/api", "/sso", "/websocket"}},
		{"eda", []string{"/api"}},
		{"hub", []string{"/api"}},
	}
	for _, tt := range tests {
		t.Run(tt.app, func(t *testing.T) {
			rules, err := BuildRules(tt.app, "https://upstream.example")
			require.NoError(t, err)

			var prefixes []string
			for _, r := range rules {
				prefixes = append(prefixes, r.Prefix)
				assert.False(t, r.Secure)
				assert.Equal(t, "upstream.example", r.Target.Host)
				assert.Equal(t, r.Prefix == "/websocket", r.WebSocket)
			}
			assert.Equal(t, tt.prefixes, prefixes)
		})
	}

	_, err := BuildRules("tower", "https://upstream.example")
	assert.Error(t, err)
}

func applied(rule Rule, host, referer string) map[string]string {
	in := httptest.NewRequest("GET", "http://"+host+rule.Prefix+"/login/", nil)
	in.Host = host
	if referer != "" {
		in.Header.Set("Referer", referer)
	}
	out := map[string]string{}
	for _, h := range rule.Headers {
		out[h.Name] = h.Value(in)
	}
	return out
}

func TestRuleHeaders(t *testing.T) {
	rules, err := BuildRules("awx", "http://upstream.example:8080")
	require.NoError(t, err)
	api, sso, ws := rules[0], rules[1], rules[2]

	assert.Equal(t, map[string]string{
		"Host":    "upstream.example:8080",
		"Origin":  "http://upstream.example:8080",
		"Referer": "http://upstream.example:8080/",
	}, applied(api, "client.local", "http://client.local/ui/"))

	assert.Equal(t, map[string]string{
		"Host":    "client.local",
		"Origin":  "http://upstream.example:8080",
		"Referer": "http://upstream.example:8080/",
	}, applied(sso, "client.local", ""))

	assert.Equal(t, "http://client.local/ui/", applied(sso, "client.local", "http://client.local/ui/")["Referer"])

	assert.Empty(t, ws.Headers)
}

func TestRuleMatches(t *testing.T) {
	r := Rule{Prefix: "/api"}
	assert.True(t, r.Matches("/api"))
	assert.True(t, r.Matches("/api/v2/me/"))
	assert.False(t, r.Matches("/apidocs"))
	assert.False(t, r.Matches("/ui/api"))
}
