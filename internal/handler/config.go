package handler

import (
	"net/http"

	"github.com/MalfuncEddie/ansible-ui/internal/devproxy"
	"github.com/MalfuncEddie/ansible-ui/internal/roleform"
)

type publicConfig struct {
	App           string            `json:"app"`
	Entry         string            `json:"entry"`
	PublicPath    string            `json:"publicPath"`
	Favicon       string            `json:"favicon"`
	OIDCIssuerURL string            `json:"oidcIssuerUrl,omitempty"`
	OIDCClientID  string            `json:"oidcClientId,omitempty"`
	Routes        map[string]string `json:"routes"`
	Proxy         []string          `json:"proxy"`
}

// GetPublicConfig handles GET /console/config. It tells the browser which
// bundle is served and where, and needs no authentication.
func (h *Handler) GetPublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config
	app := devproxy.Apps[cfg.App]
	routes := roleform.Routes{Base: cfg.PublicPath}

	resp := publicConfig{
		App:           app.Name,
		Entry:         app.Entry,
		PublicPath:    cfg.PublicPath,
		Favicon:       cfg.PublicPath + "favicon.svg",
		OIDCIssuerURL: cfg.OIDCIssuerURL,
		OIDCClientID:  cfg.OIDCClientID,
		Routes:        map[string]string{"roles": routes.Roles()},
		Proxy:         []string{},
	}
	if rules, err := devproxy.BuildRules(cfg.App, cfg.Upstream()); err == nil {
		for _, rule := range rules {
			resp.Proxy = append(resp.Proxy, rule.Prefix)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
