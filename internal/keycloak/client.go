package keycloak

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/config"
	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
)

// Client wraps GoCloak and manages the service-account token the console
// presents to the hub API.
type Client struct {
	gc          *gocloak.GoCloak
	cfg         *config.Config
	logger      *zap.Logger
	mu          sync.RWMutex
	token       *gocloak.JWT
	tokenExpiry time.Time
	now         func() time.Time
}

// NewClient creates a new Keycloak client and performs an initial login.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	c := &Client{
		gc:     gocloak.NewClient(cfg.KeycloakURL),
		cfg:    cfg,
		logger: logger.Named("keycloak"),
		now:    time.Now,
	}

	if err := c.refreshToken(context.Background()); err != nil {
		return nil, fmt.Errorf("initial keycloak login: %w", err)
	}

	return c, nil
}

// Token returns a valid access token, refreshing if needed.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != nil && c.now().Before(c.tokenExpiry) {
		tok := c.token.AccessToken
		c.mu.RUnlock()
		return tok, nil
	}
	c.mu.RUnlock()

	if err := c.refreshToken(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token.AccessToken, nil
}

func (c *Client) refreshToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock.
	if c.token != nil && c.now().Before(c.tokenExpiry) {
		return nil
	}

	c.logger.Debug("refreshing service account token",
		zap.String("client_id", c.cfg.KeycloakClientID),
		zap.String("realm", c.cfg.KeycloakRealm),
	)

	token, err := c.gc.LoginClient(ctx, c.cfg.KeycloakClientID, c.cfg.KeycloakClientSecret, c.cfg.KeycloakRealm)
	if err != nil {
		metrics.KeycloakErrorsTotal.WithLabelValues("login").Inc()
		return fmt.Errorf("keycloak client login: %w", err)
	}

	metrics.KeycloakRequestsTotal.WithLabelValues("login", "success").Inc()

	c.token = token
	// Keep a 30 second margin so a token never expires mid-request.
	c.tokenExpiry = c.now().Add(time.Duration(token.ExpiresIn-30) * time.Second)

	c.logger.Info("keycloak token refreshed", zap.Time("expires", c.tokenExpiry))
	return nil
}

// Healthy checks that a token can be obtained.
func (c *Client) Healthy(ctx context.Context) error {
	if _, err := c.Token(ctx); err != nil {
		metrics.KeycloakErrorsTotal.WithLabelValues("health_check").Inc()
		return fmt.Errorf("get token: %w", err)
	}
	metrics.KeycloakRequestsTotal.WithLabelValues("health_check", "success").Inc()
	return nil
}
