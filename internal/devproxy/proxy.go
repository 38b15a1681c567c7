package devproxy

import (
	"crypto/tls"
	"net/http"
	"net/http/httputil"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

// Proxy forwards requests matching its rules and hands everything else to
// the next handler.
type Proxy struct {
	app    string
	rules  []Rule
	rps    []*httputil.ReverseProxy
	logger *zap.Logger
}

// New builds a reverse proxy per rule. Rules are matched longest prefix
// first.
func New(app string, rules []Rule, logger *zap.Logger) *Proxy {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})

	p := &Proxy{
		app:    app,
		rules:  sorted,
		logger: logger.Named("devproxy"),
	}
	for _, rule := range sorted {
		p.rps = append(p.rps, p.reverseProxy(rule))
	}
	return p
}

func (p *Proxy) reverseProxy(rule Rule) *httputil.ReverseProxy {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: !rule.Secure} //nolint:gosec // upstreams are development servers with self-signed certificates

	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(rule.Target)
			for _, h := range rule.Headers {
				v := h.Value(pr.In)
				if strings.EqualFold(h.Name, "Host") {
					pr.Out.Host = v
					continue
				}
				pr.Out.Header.Set(h.Name, v)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			metrics.ProxyRequestsTotal.WithLabelValues(p.app, rule.Prefix, strconv.Itoa(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.ProxyErrorsTotal.WithLabelValues(p.app, rule.Prefix).Inc()
			metrics.ProxyRequestsTotal.WithLabelValues(p.app, rule.Prefix, strconv.Itoa(http.StatusBadGateway)).Inc()
			p.logger.Error("upstream request failed",
				zap.String("prefix", rule.Prefix),
				zap.String("upstream", rule.Target.Host),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Error(err),
			)
			model.WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream unavailable")
		},
	}
}

// Rules returns the rule table in match order.
func (p *Proxy) Rules() []Rule {
	return append([]Rule(nil), p.rules...)
}

// Match returns the index of the rule serving path, or -1.
func (p *Proxy) Match(path string) int {
	for i, rule := range p.rules {
		if rule.Matches(path) {
			return i
		}
	}
	return -1
}

// Handler forwards matching requests and passes the rest to next.
func (p *Proxy) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := p.Match(r.URL.Path)
		if i < 0 {
			next.ServeHTTP(w, r)
			return
		}
		if isUpgrade(r) && !p.rules[i].WebSocket {
			model.WriteError(w, http.StatusBadRequest, "UPGRADE_NOT_ALLOWED", "protocol upgrade is not supported on "+p.rules[i].Prefix)
			return
		}
		p.rps[i].ServeHTTP(w, r)
	})
}

func isUpgrade(r *http.Request) bool {
	if r.Header.Get("Upgrade") == "" {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}
