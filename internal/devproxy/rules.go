// Package devproxy serves a built front-end bundle and forwards API,
// single-sign-on and websocket traffic to the upstream server of the
// selected application.
package devproxy

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// App describes one bundled front-end application.
type App struct {
	Name  string `json:"name"`
	Entry string `json:"entry"`
	Icon  string `json:"icon"`
}

// Apps lists the bundled applications by name.
var Apps = map[string]App{
	"awx": {Name: "awx", Entry: "./frontend/awx/main/Awx.tsx", Icon: "awx-icon.svg"},
	"eda": {Name: "eda", Entry: "./frontend/eda/main/Eda.tsx", Icon: "eda-icon.svg"},
	"hub": {Name: "hub", Entry: "./frontend/hub/main/Hub.tsx", Icon: "galaxy-icon.svg"},
}

// HeaderOverride sets one outgoing request header. Value receives the inbound
// request.
type HeaderOverride struct {
	Name  string
	Value func(in *http.Request) string
}

// Rule forwards requests under Prefix to Target.
type Rule struct {
	Prefix    string
	Target    *url.URL
	WebSocket bool
	// Secure enables upstream certificate verification.
	Secure  bool
	Headers []HeaderOverride
}

// Matches reports whether path falls under the rule prefix on a segment
// boundary.
func (r Rule) Matches(path string) bool {
	return path == r.Prefix || strings.HasPrefix(path, r.Prefix+"/")
}

// Upstream holds the parsed upstream URL and the derived header values.
type Upstream struct {
	URL    *url.URL
	Host   string
	Origin string
	Href   string
}

// ParseUpstream parses an absolute upstream base URL. Scheme and host are
// lowercased, a default port is dropped and an empty path becomes "/", so
// "http://upstream.example:8080" has href "http://upstream.example:8080/".
func ParseUpstream(raw string) (*Upstream, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse upstream %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream %q is not an absolute URL", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if host, port, err := net.SplitHostPort(u.Host); err == nil {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return &Upstream{
		URL:    u,
		Host:   u.Host,
		Origin: u.Scheme + "://" + u.Host,
		Href:   u.String(),
	}, nil
}

// BuildRules returns the proxy rule table for app against upstream.
func BuildRules(app, upstream string) ([]Rule, error) {
	if _, ok := Apps[app]; !ok {
		return nil, fmt.Errorf("unknown app %q", app)
	}
	up, err := ParseUpstream(upstream)
	if err != nil {
		return nil, err
	}

	rules := []Rule{{Prefix: "/api", Target: up.URL, Headers: apiHeaders(up)}}
	if app == "awx" {
		rules = append(rules,
			Rule{Prefix: "/sso", Target: up.URL, Headers: ssoHeaders(up)},
			Rule{Prefix: "/websocket", Target: up.URL, WebSocket: true},
		)
	}
	return rules, nil
}

func fixed(v string) func(*http.Request) string {
	return func(*http.Request) string { return v }
}

func apiHeaders(up *Upstream) []HeaderOverride {
	return []HeaderOverride{
		{Name: "Host", Value: fixed(up.Host)},
		{Name: "Origin", Value: fixed(up.Origin)},
		{Name: "Referer", Value: fixed(up.Href)},
	}
}

// ssoHeaders keeps the inbound Host and Referer so redirects issued by the
// identity provider point back at the browser-facing address.
func ssoHeaders(up *Upstream) []HeaderOverride {
	return []HeaderOverride{
		{Name: "Origin", Value: fixed(up.Origin)},
		{Name: "Host", Value: func(in *http.Request) string {
			if in.Host != "" {
				return in.Host
			}
			return up.Host
		}},
		{Name: "Referer", Value: func(in *http.Request) string {
			if ref := in.Header.Get("Referer"); ref != "" {
				return ref
			}
			return up.Href
		}},
	}
}
