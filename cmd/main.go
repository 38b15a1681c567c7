package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/MalfuncEddie/ansible-ui/internal/cache"
	"github.com/MalfuncEddie/ansible-ui/internal/config"
	"github.com/MalfuncEddie/ansible-ui/internal/devproxy"
	"github.com/MalfuncEddie/ansible-ui/internal/handler"
	"github.com/MalfuncEddie/ansible-ui/internal/hubapi"
	"github.com/MalfuncEddie/ansible-ui/internal/keycloak"
	"github.com/MalfuncEddie/ansible-ui/internal/middleware"
	"github.com/MalfuncEddie/ansible-ui/internal/roleform"
	"github.com/MalfuncEddie/ansible-ui/internal/server"
	"github.com/MalfuncEddie/ansible-ui/internal/vault"
)

// keycloakSecretField is the KV field under VAULT_SECRET_PATH holding the
// service-account client secret.
const keycloakSecretField = "client_secret"

func main() {
	// Load configuration first so LOG_LEVEL applies to every line.
	cfg, cfgErr := config.Load()

	logCfg := zap.NewProductionConfig()
	logCfg.EncoderConfig.TimeKey = "timestamp"
	logCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logCfg.EncoderConfig.StacktraceKey = "stacktrace"
	if cfg != nil {
		if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			logCfg.Level = zap.NewAtomicLevelAt(lvl)
		}
	}

	logger, err := logCfg.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	if cfgErr != nil {
		logger.Fatal("failed to load configuration", zap.Error(cfgErr))
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("app", cfg.App),
		zap.String("upstream", cfg.Upstream()),
		zap.String("public_path", cfg.PublicPath),
		zap.String("static_dir", cfg.StaticDir),
		zap.Bool("oidc", cfg.OIDCEnabled()),
		zap.Bool("keycloak", cfg.KeycloakEnabled()),
		zap.Bool("redis", cfg.RedisURL != ""),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	checks := map[string]handler.HealthChecker{}

	// Resolve the service-account secret from Vault.
	if cfg.VaultSecretPath != "" {
		vc, err := vault.NewClient(cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize vault client", zap.Error(err))
		}
		secret, err := vc.ReadSecretField(ctx, cfg.VaultSecretPath, keycloakSecretField)
		if err != nil {
			logger.Fatal("failed to read keycloak client secret from vault", zap.Error(err))
		}
		cfg.KeycloakClientSecret = secret
		checks["vault"] = vc
		logger.Info("vault client initialized")
	}

	// Dev proxy and static bundle.
	rules, err := devproxy.BuildRules(cfg.App, cfg.Upstream())
	if err != nil {
		logger.Fatal("failed to build proxy rules", zap.Error(err))
	}
	app := devproxy.Apps[cfg.App]
	bundle, err := devproxy.NewBundle(cfg.PublicPath, cfg.StaticDir, filepath.Join(cfg.AssetsDir, app.Icon), logger)
	if err != nil {
		logger.Fatal("failed to open static bundle", zap.Error(err))
	}
	site := devproxy.New(cfg.App, rules, logger).Handler(bundle)

	// Role form, served for the hub only.
	var (
		roles   *roleform.Controller
		catalog server.RoleCatalog
	)
	if cfg.App == config.AppHub {
		var opts []hubapi.Option
		if cfg.KeycloakEnabled() {
			kc, err := keycloak.NewClient(cfg, logger)
			if err != nil {
				logger.Fatal("failed to initialize keycloak client", zap.Error(err))
			}
			opts = append(opts, hubapi.WithTokenSource(kc))
			checks["keycloak"] = kc
			logger.Info("keycloak client initialized")
		}

		store, err := newStore(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("failed to initialize cache", zap.Error(err))
		}
		if r, ok := store.(*cache.Redis); ok {
			defer func() { _ = r.Close() }()
			checks["redis"] = r
		}

		hub := hubapi.NewClient(cfg.Upstream(), cfg.HubAPIPrefix, logger, opts...)
		lookup := hubapi.NewLookup(hub, store, cfg.CacheTTL, logger)
		roles = roleform.NewController(hub, lookup, roleform.Routes{Base: cfg.PublicPath}, logger)
		catalog = lookup
		checks["hub"] = hub
	}

	var verifier middleware.TokenVerifier
	if cfg.OIDCEnabled() {
		verifier = middleware.NewOIDCVerifier(cfg.OIDCIssuerURL, cfg.OIDCClientID)
	}

	h := handler.NewHandler(cfg, roles, checks, logger)
	srv := server.New(cfg, server.Deps{
		Handler:  h,
		Site:     site,
		Limiter:  middleware.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		Verifier: verifier,
	}, catalog, logger)

	// Graceful shutdown handling.
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sig := <-shutdownCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	stop()

	// Give outstanding requests up to 30 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("ansible-ui console stopped")
}

// newStore picks Redis when REDIS_URL is set and an in-process cache
// otherwise.
func newStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	if cfg.RedisURL == "" {
		logger.Info("using in-memory cache", zap.Duration("ttl", cfg.CacheTTL))
		return cache.NewMemory(2 * cfg.CacheTTL), nil
	}

	r, err := cache.NewRedis(cfg.RedisURL, "ansible-ui:")
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Ping(pingCtx); err != nil {
		_ = r.Close()
		return nil, err
	}
	logger.Info("using redis cache", zap.Duration("ttl", cfg.CacheTTL))
	return r, nil
}
