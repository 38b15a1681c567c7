package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/config"
	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

// RoleCatalog is the cached view of upstream role data kept warm in the
// background.
type RoleCatalog interface {
	RoleNames(ctx context.Context) ([]string, error)
	RoleMetadata(ctx context.Context) (*model.RoleMetadata, error)
}

// Server encapsulates the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	catalog    RoleCatalog
	logger     *zap.Logger
	cancelFunc context.CancelFunc
}

// New creates and configures a new Server. catalog may be nil.
func New(cfg *config.Config, d Deps, catalog RoleCatalog, logger *zap.Logger) *Server {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           NewRouter(cfg, d, logger),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	return &Server{
		httpServer: srv,
		cfg:        cfg,
		catalog:    catalog,
		logger:     logger,
	}
}

// Start begins listening and starts the catalog refresher.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	if s.catalog != nil {
		go s.refreshCatalog(ctx)
	}

	s.logger.Info("starting ansible-ui console server",
		zap.String("addr", s.httpServer.Addr),
		zap.String("app", s.cfg.App),
		zap.String("public_path", s.cfg.PublicPath),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	return s.httpServer.Shutdown(ctx)
}

// refreshCatalog re-reads the role catalog every cache TTL so form pages
// rarely wait on the upstream.
func (s *Server) refreshCatalog(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CacheTTL)
	defer ticker.Stop()

	s.updateCatalog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stopping role catalog refresher")
			return
		case <-ticker.C:
			s.updateCatalog(ctx)
		}
	}
}

func (s *Server) updateCatalog(ctx context.Context) {
	if _, err := s.catalog.RoleMetadata(ctx); err != nil {
		s.logger.Warn("failed to refresh role metadata", zap.Error(err))
	}

	names, err := s.catalog.RoleNames(ctx)
	if err != nil {
		s.logger.Warn("failed to refresh role names", zap.Error(err))
		return
	}
	metrics.RoleDefinitions.Set(float64(len(names)))
	s.logger.Debug("role catalog refreshed", zap.Int("role_definitions", len(names)))
}
