package devproxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type seen struct {
	host, origin, referer, path string
}

func recordingUpstream(t *testing.T, got chan<- seen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- seen{
			host:    r.Host,
			origin:  r.Header.Get("Origin"),
			referer: r.Header.Get("Referer"),
			path:    r.URL.Path,
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestProxy(t *testing.T, app, upstream string) *httptest.Server {
	t.Helper()
	rules, err := BuildRules(app, upstream)
	require.NoError(t, err)

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	srv := httptest.NewServer(New(app, rules, zaptest.NewLogger(t)).Handler(next))
	t.Cleanup(srv.Close)
	return srv
}

func TestProxy_SSOKeepsInboundHost(t *testing.T) {
	got := make(chan seen, 1)
	upstream := recordingUpstream(t, got)
	proxy := newTestProxy(t, "awx", upstream.URL)

	req, err := http.NewRequest(http.MethodGet, proxy.URL+"/sso/login/", nil)
	require.NoError(t, err)
	req.Host = "client.local"

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	s := <-got
	assert.Equal(t, "client.local", s.host)
	assert.Equal(t, upstream.URL+"/", s.referer)
	assert.Equal(t, upstream.URL, s.origin)
	assert.Equal(t, "/sso/login/", s.path)
}

func TestProxy_APIRewritesToUpstream(t *testing.T) {
	got := make(chan seen, 1)
	upstream := recordingUpstream(t, got)
	proxy := newTestProxy(t, "hub", upstream.URL)

	req, err := http.NewRequest(http.MethodGet, proxy.URL+"/api/galaxy/_ui/v2/me/", nil)
	require.NoError(t, err)
	req.Host = "client.local"
	req.Header.Set("Origin", "http://client.local")
	req.Header.Set("Referer", "http://client.local/ui/")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	s := <-got
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://"), s.host)
	assert.Equal(t, upstream.URL, s.origin)
	assert.Equal(t, upstream.URL+"/", s.referer)
	assert.Equal(t, "/api/galaxy/_ui/v2/me/", s.path)
}

func TestProxy_UnmatchedFallsThrough(t *testing.T) {
	proxy := newTestProxy(t, "eda", "http://127.0.0.1:1")

	for _, p := range []string{"/", "/apidocs", "/sso/login/", "/ui/api"} {
		resp, err := http.Get(proxy.URL + p)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusTeapot, resp.StatusCode, p)
	}
}

func TestProxy_UpstreamDownIsBadGateway(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	proxy := newTestProxy(t, "hub", deadURL)
	resp, err := http.Get(proxy.URL + "/api/galaxy/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "UPSTREAM_ERROR", body["code"])
}

func TestProxy_UpgradeRefusedOnAPIRule(t *testing.T) {
	got := make(chan seen, 1)
	upstream := recordingUpstream(t, got)
	proxy := newTestProxy(t, "awx", upstream.URL)

	req, err := http.NewRequest(http.MethodGet, proxy.URL+"/api/v2/ping/", nil)
	require.NoError(t, err)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, got)
}

func TestProxy_WebSocketRule(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/websocket/" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte("echo: "), msg...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(upstream.Close)

	proxy := newTestProxy(t, "awx", upstream.URL)
	wsURL := "ws" + strings.TrimPrefix(proxy.URL, "http") + "/websocket/"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", string(msg))
}

func TestNew_LongestPrefixFirst(t *testing.T) {
	rules := []Rule{{Prefix: "/api"}, {Prefix: "/api/galaxy"}, {Prefix: "/sso"}}
	for i := range rules {
		up, err := ParseUpstream("http://upstream.example")
		require.NoError(t, err)
		rules[i].Target = up.URL
	}

	p := New("hub", rules, zaptest.NewLogger(t))
	assert.Equal(t, "/api/galaxy", p.Rules()[p.Match("/api/galaxy/x")].Prefix)
	assert.Equal(t, "/api", p.Rules()[p.Match("/api/v2")].Prefix)
	assert.Equal(t, -1, p.Match("/static/app.js"))
}
