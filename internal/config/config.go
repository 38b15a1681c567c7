package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Application names accepted by APP.
const (
	AppAWX = "awx"
	AppEDA = "eda"
	AppHub = "hub"
)

// Config holds all configuration for the console server.
type Config struct {
	Port string `json:"port"`
	App  string `json:"app"`

	AWXServer string `json:"-"`
	EDAServer string `json:"-"`
	HubServer string `json:"-"`

	PublicPath   string `json:"publicPath"`
	StaticDir    string `json:"-"`
	AssetsDir    string `json:"-"`
	HubAPIPrefix string `json:"-"`

	OIDCIssuerURL string   `json:"oidcIssuerUrl,omitempty"`
	OIDCClientID  string   `json:"oidcClientId,omitempty"`
	AdminGroups   []string `json:"-"`

	KeycloakURL          string `json:"-"`
	KeycloakRealm        string `json:"-"`
	KeycloakClientID     string `json:"-"`
	KeycloakClientSecret string `json:"-"`

	VaultAddr       string `json:"-"`
	VaultToken      string `json:"-"`
	VaultAuthRole   string `json:"-"`
	VaultSecretPath string `json:"-"`

	RedisURL        string        `json:"-"`
	CacheTTL        time.Duration `json:"-"`
	FormLoadTimeout time.Duration `json:"-"`
	RateLimitRPS    float64       `json:"-"`
	RateLimitBurst  int           `json:"-"`
	LogLevel        string        `json:"-"`
	CORSOrigin      string        `json:"-"`
}

// Load reads configuration from an optional .env file and the environment,
// applying defaults where appropriate, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP", AppHub)
	v.SetDefault("ASSETS_DIR", "frontend/assets")
	v.SetDefault("HUB_API_PREFIX", "/api/galaxy")
	v.SetDefault("ADMIN_GROUPS", "platform-admins")
	v.SetDefault("KEYCLOAK_REALM", "master")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "ansible-ui")
	v.SetDefault("VAULT_AUTH_ROLE", "ansible-ui")
	v.SetDefault("CACHE_TTL", "30s")
	v.SetDefault("FORM_LOAD_TIMEOUT", "2s")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("LOG_LEVEL", "info")
	return v
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:                 v.GetString("PORT"),
		App:                  strings.ToLower(v.GetString("APP")),
		AWXServer:            v.GetString("AWX_SERVER"),
		EDAServer:            v.GetString("EDA_SERVER"),
		HubServer:            v.GetString("HUB_SERVER"),
		StaticDir:            v.GetString("STATIC_DIR"),
		AssetsDir:            v.GetString("ASSETS_DIR"),
		HubAPIPrefix:         strings.TrimRight(v.GetString("HUB_API_PREFIX"), "/"),
		OIDCIssuerURL:        v.GetString("OIDC_ISSUER_URL"),
		OIDCClientID:         v.GetString("OIDC_CLIENT_ID"),
		AdminGroups:          splitAndTrim(v.GetString("ADMIN_GROUPS")),
		KeycloakURL:          v.GetString("KEYCLOAK_URL"),
		KeycloakRealm:        v.GetString("KEYCLOAK_REALM"),
		KeycloakClientID:     v.GetString("KEYCLOAK_CLIENT_ID"),
		KeycloakClientSecret: v.GetString("KEYCLOAK_CLIENT_SECRET"),
		VaultAddr:            v.GetString("VAULT_ADDR"),
		VaultToken:           v.GetString("VAULT_TOKEN"),
		VaultAuthRole:        v.GetString("VAULT_AUTH_ROLE"),
		VaultSecretPath:      v.GetString("VAULT_SECRET_PATH"),
		RedisURL:             v.GetString("REDIS_URL"),
		CacheTTL:             v.GetDuration("CACHE_TTL"),
		FormLoadTimeout:      v.GetDuration("FORM_LOAD_TIMEOUT"),
		RateLimitRPS:         v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:       v.GetInt("RATE_LIMIT_BURST"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		CORSOrigin:           v.GetString("CORS_ORIGIN"),
	}

	cfg.PublicPath = normalizePublicPath(firstNonEmpty(v.GetString("PUBLIC_PATH"), v.GetString("ROUTE_PREFIX"), "/"))

	if cfg.StaticDir == "" {
		cfg.StaticDir = "build/" + cfg.App
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Upstream returns the upstream base URL of the selected application.
func (c *Config) Upstream() string {
	switch c.App {
	case AppAWX:
		return c.AWXServer
	case AppEDA:
		return c.EDAServer
	case AppHub:
		return c.HubServer
	}
	return ""
}

// UpstreamEnv names the environment variable holding the upstream for the
// selected application.
func (c *Config) UpstreamEnv() string {
	return strings.ToUpper(c.App) + "_SERVER"
}

// OIDCEnabled reports whether console routes require a bearer token.
func (c *Config) OIDCEnabled() bool {
	return c.OIDCIssuerURL != ""
}

// KeycloakEnabled reports whether upstream calls use a service-account token.
func (c *Config) KeycloakEnabled() bool {
	return c.KeycloakURL != ""
}

func (c *Config) validate() error {
	var problems []string

	switch c.App {
	case AppAWX, AppEDA, AppHub:
		upstream := c.Upstream()
		if upstream == "" {
			problems = append(problems, fmt.Sprintf("missing required environment variable: %s", c.UpstreamEnv()))
		} else if u, err := url.Parse(upstream); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("%s must be an absolute URL, got %q", c.UpstreamEnv(), upstream))
		}
	default:
		problems = append(problems, fmt.Sprintf("APP must be one of awx, eda, hub, got %q", c.App))
	}

	if c.OIDCIssuerURL != "" && c.OIDCClientID == "" {
		problems = append(problems, "missing required environment variable: OIDC_CLIENT_ID")
	}
	if c.KeycloakURL != "" && c.KeycloakClientSecret == "" && c.VaultSecretPath == "" {
		problems = append(problems, "KEYCLOAK_URL requires KEYCLOAK_CLIENT_SECRET or VAULT_SECRET_PATH")
	}
	if c.VaultSecretPath != "" && c.VaultAddr == "" {
		problems = append(problems, "missing required environment variable: VAULT_ADDR")
	}
	if c.CacheTTL <= 0 {
		problems = append(problems, "CACHE_TTL must be positive")
	}
	if c.FormLoadTimeout <= 0 {
		problems = append(problems, "FORM_LOAD_TIMEOUT must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}

// normalizePublicPath makes p start and end with a slash.
func normalizePublicPath(p string) string {
	p = strings.TrimSpace(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
