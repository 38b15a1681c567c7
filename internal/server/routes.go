package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/config"
	"github.com/MalfuncEddie/ansible-ui/internal/handler"
	"github.com/MalfuncEddie/ansible-ui/internal/middleware"
)

// Deps are the handlers and middleware the router is assembled from.
type Deps struct {
	Handler *handler.Handler
	// Site serves everything outside the console API: proxied upstream
	// prefixes and the static bundle.
	Site    http.Handler
	Limiter *middleware.RateLimiter
	// Verifier is nil when console routes are unauthenticated.
	Verifier middleware.TokenVerifier
}

// NewRouter builds the complete HTTP handler with all routes and middleware.
func NewRouter(cfg *config.Config, d Deps, logger *zap.Logger) http.Handler {
	h := d.Handler
	mux := http.NewServeMux()

	// --- Unauthenticated routes ---
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	// --- Console API (rate limited) ---
	consoleMux := http.NewServeMux()
	consoleMux.HandleFunc("GET /console/config", h.GetPublicConfig)

	if h.Roles != nil {
		rolesMux := http.NewServeMux()
		rolesMux.HandleFunc("GET /console/roles/create", h.CreateRolePage)
		rolesMux.HandleFunc("POST /console/roles/create", h.SubmitCreateRole)
		rolesMux.HandleFunc("GET /console/roles/{id}/edit", h.EditRolePage)
		rolesMux.HandleFunc("POST /console/roles/{id}/edit", h.SubmitEditRole)
		rolesMux.HandleFunc("POST /console/roles/fields", h.RoleFields)
		rolesMux.HandleFunc("POST /console/roles/close", h.CloseRoleForm)
		rolesMux.HandleFunc("GET /console/roles/validate-name", h.ValidateRoleName)

		// Chain: auth -> require admin groups
		var roles http.Handler = rolesMux
		if d.Verifier != nil {
			roles = middleware.Auth(logger, d.Verifier)(
				middleware.RequireGroups(logger, cfg.AdminGroups...)(rolesMux),
			)
		}
		consoleMux.Handle("/console/roles/", roles)
	}

	var console http.Handler = consoleMux
	if d.Limiter != nil {
		console = d.Limiter.Limit(consoleMux)
	}
	mux.Handle("/console/", console)

	// --- Proxied prefixes and the bundle ---
	mux.Handle("/", d.Site)

	// --- Apply global middleware (outermost first) ---
	var root http.Handler = mux
	root = middleware.CORS(cfg.CORSOrigin)(root)
	root = middleware.Logging(logger)(root)
	root = middleware.Recovery(logger)(root)
	root = middleware.RequestID(root)

	return root
}
