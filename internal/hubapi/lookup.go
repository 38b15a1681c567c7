package hubapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MalfuncEddie/ansible-ui/internal/cache"
	"github.com/MalfuncEddie/ansible-ui/internal/metrics"
	"github.com/MalfuncEddie/ansible-ui/internal/model"
)

const (
	roleNamesKey    = "role-names"
	roleMetadataKey = "role-metadata"
)

// Lookup serves the name-validation and metadata collaborators of the role
// form from a cache in front of the hub API.
type Lookup struct {
	api    *Client
	store  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewLookup creates a cached lookup.
func NewLookup(api *Client, store cache.Store, ttl time.Duration, logger *zap.Logger) *Lookup {
	return &Lookup{api: api, store: store, ttl: ttl, logger: logger.Named("lookup")}
}

// RoleNames returns the names of all existing roles.
func (l *Lookup) RoleNames(ctx context.Context) ([]string, error) {
	var names []string
	if l.cached(ctx, roleNamesKey, &names) {
		return names, nil
	}

	names, err := l.api.ListRoleNames(ctx)
	if err != nil {
		return nil, err
	}
	l.save(ctx, roleNamesKey, names)
	return names, nil
}

// RoleMetadata returns the content type to permissions mapping.
func (l *Lookup) RoleMetadata(ctx context.Context) (*model.RoleMetadata, error) {
	var meta model.RoleMetadata
	if l.cached(ctx, roleMetadataKey, &meta) {
		return &meta, nil
	}

	m, err := l.api.RoleMetadata(ctx)
	if err != nil {
		return nil, err
	}
	l.save(ctx, roleMetadataKey, m)
	return m, nil
}

// Invalidate drops the cached role list so the next lookup sees changes.
func (l *Lookup) Invalidate(ctx context.Context) {
	if err := l.store.Delete(ctx, roleNamesKey); err != nil {
		l.logger.Warn("failed to invalidate role list cache", zap.Error(err))
	}
}

// Cache failures degrade to upstream calls.
func (l *Lookup) cached(ctx context.Context, key string, dst any) bool {
	ok, err := l.store.Get(ctx, key, dst)
	if err != nil {
		l.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		ok = false
	}
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(key, result).Inc()
	return ok
}

func (l *Lookup) save(ctx context.Context, key string, value any) {
	if err := l.store.Set(ctx, key, value, l.ttl); err != nil {
		l.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
