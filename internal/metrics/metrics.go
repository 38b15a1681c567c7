package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts all HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ansible_ui_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ProxyRequestsTotal counts requests forwarded by the dev proxy.
	ProxyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_proxy_requests_total",
		Help: "Total number of requests forwarded to the upstream",
	}, []string{"app", "prefix", "status"})

	// ProxyErrorsTotal counts upstream connection failures in the dev proxy.
	ProxyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_proxy_errors_total",
		Help: "Total number of upstream errors in the dev proxy",
	}, []string{"app", "prefix"})

	// RoleSubmitsTotal counts role form submissions by mode and outcome.
	RoleSubmitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_role_submits_total",
		Help: "Total number of role form submissions",
	}, []string{"mode", "outcome"})

	// HubRequestsTotal counts hub API requests.
	HubRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_hub_requests_total",
		Help: "Total number of hub API requests",
	}, []string{"operation", "status"})

	// HubErrorsTotal counts hub API errors.
	HubErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_hub_errors_total",
		Help: "Total number of hub API errors",
	}, []string{"operation"})

	// CacheLookupsTotal counts cache lookups by key kind and result.
	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_cache_lookups_total",
		Help: "Total number of cache lookups",
	}, []string{"key", "result"})

	// RoleDefinitions is the number of role definitions seen at the last
	// catalog refresh.
	RoleDefinitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ansible_ui_role_definitions",
		Help: "Number of role definitions known to the hub",
	})

	// KeycloakRequestsTotal counts Keycloak API requests.
	KeycloakRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_keycloak_requests_total",
		Help: "Total number of Keycloak API requests",
	}, []string{"operation", "status"})

	// KeycloakErrorsTotal counts Keycloak API errors.
	KeycloakErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_keycloak_errors_total",
		Help: "Total number of Keycloak API errors",
	}, []string{"operation"})

	// VaultRequestsTotal counts Vault API requests.
	VaultRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_vault_requests_total",
		Help: "Total number of Vault API requests",
	}, []string{"operation", "status"})

	// VaultErrorsTotal counts Vault API errors.
	VaultErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ansible_ui_vault_errors_total",
		Help: "Total number of Vault API errors",
	}, []string{"operation"})
)
