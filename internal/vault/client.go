package vault

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/config"
	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
)

const (
	k8sSATokenPath      = "/var/run/secrets/kubernetes.io/serviceaccount/token" //nolint:gosec // Not a credential, it's a file path
	k8sAuthPath         = "auth/kubernetes/login"
	tokenRenewThreshold = 60 * time.Second
)

// Client wraps the Vault API client. It authenticates with VAULT_TOKEN when
// set and with Kubernetes auth otherwise.
type Client struct {
	client      *vaultapi.Client
	cfg         *config.Config
	logger      *zap.Logger
	mu          sync.RWMutex
	secret      *vaultapi.Secret
	tokenExpiry time.Time
	static      bool
	saTokenPath string
}

// NewClient creates a Vault client and authenticates.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	vaultCfg := vaultapi.DefaultConfig()
	vaultCfg.Address = cfg.VaultAddr
	vaultCfg.Timeout = 30 * time.Second

	vc, err := vaultapi.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}

	c := &Client{
		client:      vc,
		cfg:         cfg,
		logger:      logger.Named("vault"),
		saTokenPath: k8sSATokenPath,
	}

	if cfg.VaultToken != "" {
		vc.SetToken(cfg.VaultToken)
		c.static = true
		return c, nil
	}

	if err := c.authenticate(context.Background()); err != nil {
		return nil, fmt.Errorf("initial vault auth: %w", err)
	}

	return c, nil
}

// authenticate performs Kubernetes auth against Vault.
func (c *Client) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.secret != nil && time.Now().Before(c.tokenExpiry) {
		return nil
	}

	jwt, err := os.ReadFile(c.saTokenPath)
	if err != nil {
		return fmt.Errorf("read service account token: %w", err)
	}

	c.logger.Debug("authenticating to vault via kubernetes auth",
		zap.String("role", c.cfg.VaultAuthRole),
	)

	secret, err := c.client.Logical().WriteWithContext(ctx, k8sAuthPath, map[string]interface{}{
		"role": c.cfg.VaultAuthRole,
		"jwt":  string(jwt),
	})
	if err != nil {
		metrics.VaultErrorsTotal.WithLabelValues("authenticate").Inc()
		return fmt.Errorf("vault kubernetes login: %w", err)
	}

	if secret == nil || secret.Auth == nil {
		metrics.VaultErrorsTotal.WithLabelValues("authenticate").Inc()
		return fmt.Errorf("vault kubernetes login returned nil auth")
	}

	c.client.SetToken(secret.Auth.ClientToken)
	c.secret = secret

	leaseDuration := time.Duration(secret.Auth.LeaseDuration) * time.Second
	c.tokenExpiry = time.Now().Add(leaseDuration - tokenRenewThreshold)

	metrics.VaultRequestsTotal.WithLabelValues("authenticate", "success").Inc()
	c.logger.Info("vault token acquired",
		zap.Duration("lease_duration", leaseDuration),
		zap.Time("expires", c.tokenExpiry),
	)

	return nil
}

func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.static {
		return nil
	}

	c.mu.RLock()
	valid := c.secret != nil && time.Now().Before(c.tokenExpiry)
	c.mu.RUnlock()

	if valid {
		return nil
	}

	return c.authenticate(ctx)
}

// ReadSecretField reads one field of a KV secret. Both KV v1 and v2 layouts
// are accepted; for v2 the path must include the data/ segment.
func (c *Client) ReadSecretField(ctx context.Context, path, field string) (string, error) {
	if err := c.ensureAuthenticated(ctx); err != nil {
		metrics.VaultErrorsTotal.WithLabelValues("read_secret").Inc()
		return "", fmt.Errorf("vault auth for read secret: %w", err)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		metrics.VaultErrorsTotal.WithLabelValues("read_secret").Inc()
		return "", fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		metrics.VaultErrorsTotal.WithLabelValues("read_secret").Inc()
		return "", fmt.Errorf("vault secret %s not found", path)
	}

	data := secret.Data
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}

	value, ok := data[field].(string)
	if !ok || value == "" {
		metrics.VaultErrorsTotal.WithLabelValues("read_secret").Inc()
		return "", fmt.Errorf("vault secret %s has no field %q", path, field)
	}

	metrics.VaultRequestsTotal.WithLabelValues("read_secret", "success").Inc()
	return value, nil
}

// Healthy checks Vault connectivity by looking up the current token.
func (c *Client) Healthy(ctx context.Context) error {
	if err := c.ensureAuthenticated(ctx); err != nil {
		return fmt.Errorf("vault auth: %w", err)
	}

	secret, err := c.client.Auth().Token().LookupSelfWithContext(ctx)
	if err != nil {
		metrics.VaultErrorsTotal.WithLabelValues("health_check").Inc()
		return fmt.Errorf("vault token lookup: %w", err)
	}
	if secret == nil {
		metrics.VaultErrorsTotal.WithLabelValues("health_check").Inc()
		return fmt.Errorf("vault token lookup returned nil")
	}

	metrics.VaultRequestsTotal.WithLabelValues("health_check", "success").Inc()
	return nil
}
