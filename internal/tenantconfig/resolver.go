// Package tenantconfig resolves per-tenant pipeline configuration.
//
// # Layout
//
// A configuration directory holds one default document and one optional
// override per tenant:
//
//	<dir>/default.json
//	<dir>/tenants/<tenant>.json
//
// YAML (.yaml, .yml) is accepted wherever JSON is.
//
// # Merge
//
// The tenant document is merged onto the default with shallow semantics:
// each top-level key present in the tenant file replaces the default key
// wholesale, arrays included. A tenant without a file uses the default alone.
//
// # Caching
//
// Merged and validated results are cached per tenant for a fixed window
// (60s unless configured). Concurrent misses for the same tenant may each
// recompute. A result computed before an invalidation or a default reload
// is returned to its caller but never cached.
package tenantconfig

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nicofx/widu-factory/internal/core/domain"
	"github.com/nicofx/widu-factory/internal/core/ports"
)

const (
	// DefaultTenant is used when a request carries no tenant id.
	DefaultTenant = "default"
	// DefaultTTL is the cache window for merged tenant configuration.
	DefaultTTL = 60 * time.Second

	defaultCacheSize = 1024
	defaultFileBase  = "default"
	tenantsDir       = "tenants"
)

var tenantPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Resolver loads, merges, validates and caches tenant configuration.
// It is safe for concurrent use.
type Resolver struct {
	dir       string
	ttl       time.Duration
	cacheSize int
	logger    *slog.Logger

	mu          sync.RWMutex
	defaults    map[string]any
	defaultPath string
	defaultErr  error
	// generation is bumped on every purge or invalidation, under mu.
	generation uint64

	cache *expirable.LRU[string, *domain.PipelineConfig]

	// beforeCache runs between computing and caching a result. Tests only.
	beforeCache func(tenantID string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL sets the cache window. Non-positive values disable expiry.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.ttl = ttl
	}
}

// WithCacheSize bounds the number of cached tenants.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.cacheSize = n
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver rooted at dir and loads the default
// document. A malformed default document does not fail construction: it is
// reported by every Resolve call until it is fixed and reloaded.
func NewResolver(dir string, opts ...Option) (*Resolver, error) {
	if dir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}

	r := &Resolver{
		dir:       dir,
		ttl:       DefaultTTL,
		cacheSize: defaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = expirable.NewLRU[string, *domain.PipelineConfig](r.cacheSize, nil, r.ttl)

	if err := r.ReloadDefaults(); err != nil {
		r.logger.Error("default pipeline configuration invalid",
			slog.String("dir", dir),
			slog.String("error", err.Error()))
	}
	return r, nil
}

// Dir returns the configuration directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// ReloadDefaults re-reads the default document and purges the cache.
// On failure the previous default stays in effect if there was one.
func (r *Resolver) ReloadDefaults() error {
	doc, path, err := loadOptional(r.dir, defaultFileBase)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		cerr := &ConfigError{Tenant: DefaultTenant, File: path, Err: err}
		if r.defaults == nil {
			r.defaultErr = cerr
		}
		return cerr
	}

	r.defaults = doc
	r.defaultPath = path
	r.defaultErr = nil
	r.generation++
	r.cache.Purge()

	r.logger.Info("default pipeline configuration loaded",
		slog.String("path", path),
		slog.Int("keys", len(doc)))
	return nil
}

// Resolve returns the merged configuration of tenantID. An empty tenant id
// selects DefaultTenant.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*domain.PipelineConfig, error) {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	if !tenantPattern.MatchString(tenantID) {
		return nil, &ConfigError{Tenant: tenantID, Err: ErrInvalidTenant}
	}

	if cfg, ok := r.cache.Get(tenantID); ok {
		return cfg, nil
	}

	r.mu.RLock()
	defaults, defaultErr, generation := r.defaults, r.defaultErr, r.generation
	r.mu.RUnlock()
	if defaultErr != nil {
		return nil, defaultErr
	}

	override, path, err := loadOptional(filepath.Join(r.dir, tenantsDir), tenantID)
	if err != nil {
		return nil, &ConfigError{Tenant: tenantID, File: path, Err: err}
	}

	cfg, err := Decode(tenantID, Merge(defaults, override))
	if err != nil {
		if ce, ok := err.(*ConfigError); ok && ce.File == "" {
			ce.File = path
		}
		return nil, err
	}

	if r.beforeCache != nil {
		r.beforeCache(tenantID)
	}

	r.mu.RLock()
	fresh := r.generation == generation
	if fresh {
		r.cache.Add(tenantID, cfg)
	}
	r.mu.RUnlock()

	r.logger.Debug("tenant pipeline configuration resolved",
		slog.String("tenant", tenantID),
		slog.Bool("override", path != ""),
		slog.Bool("cached", fresh),
		slog.Int("phases", len(cfg.Phases)))
	return cfg, nil
}

// Invalidate drops the cached configuration of one tenant.
func (r *Resolver) Invalidate(tenantID string) {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	r.mu.Lock()
	r.generation++
	r.cache.Remove(tenantID)
	r.mu.Unlock()
}

// InvalidateAll drops every cached configuration.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.generation++
	r.cache.Purge()
	r.mu.Unlock()
}

// Cached returns the tenants currently held in the cache.
func (r *Resolver) Cached() []string {
	return r.cache.Keys()
}

// Tenants lists the tenants that have an override file, sorted.
func (r *Resolver) Tenants() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(r.dir, tenantsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || !isConfigExt(ext) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(out)
	return out, nil
}

var _ ports.ConfigResolver = (*Resolver)(nil)
