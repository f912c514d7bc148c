package cache

import (
	"context"

	"github.com/google/uuid"
	"github.com/pavelkalin/typeorm/logger"
	"golang.org/x/sync/singleflight"
)

// Cache coordinates query-result caching between the host's read path and a
// storage backend. It owns key resolution, the liveness decision and the
// error-tolerance policy; providers only store and fetch opaque entries.
//
// A disabled Cache is fully inert: construction succeeds, lifecycle and
// invalidation calls are no-ops and every read executes directly.
type Cache struct {
	cfg      Config
	provider Provider
	logger   logger.Logger
	group    *singleflight.Group
	stats    counters
	session  string
}

// New builds a Cache from cfg. Defaults are applied and the configuration
// validated before the backend is constructed; no backend traffic happens
// until Connect. Passing a nil logger falls back to a console logger.
func New(ctx context.Context, cfg Config, log logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.NewConsoleLogger()
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	session := uuid.New().String()
	log = log.With(map[string]interface{}{
		"component": "cache",
		"session":   session,
	})
	c := &Cache{cfg: cfg, logger: log, session: session}
	if !cfg.Enabled {
		log.Debug("cache disabled, reads will execute directly")
		return c, nil
	}
	provider, err := newProvider(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	c.provider = provider
	if cfg.SingleFlight {
		c.group = new(singleflight.Group)
	}
	return c, nil
}

// Enabled reports whether reads consult the backend at all.
func (c *Cache) Enabled() bool {
	return c.cfg.Enabled
}

// Connect establishes the backend session. No-op when disabled.
func (c *Cache) Connect(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if err := c.provider.Connect(ctx); err != nil {
		return err
	}
	c.logger.Debug("connected %s backend", c.cfg.Type)
	return nil
}

// Close releases backend resources. Idempotent; no-op when disabled.
func (c *Cache) Close(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if err := c.provider.Close(ctx); err != nil {
		return err
	}
	c.logger.Debug("closed %s backend", c.cfg.Type)
	return nil
}

// Remove invalidates entries by their cache identifier, as given to reads
// through Options.ID. Unknown identifiers are not an error. No-op when
// disabled.
func (c *Cache) Remove(ctx context.Context, identifiers ...string) error {
	if !c.cfg.Enabled || len(identifiers) == 0 {
		return nil
	}
	if err := c.provider.Remove(ctx, identifiers...); err != nil {
		return err
	}
	c.logger.Debug("removed %d identifiers", len(identifiers))
	return nil
}

// Clear drops every entry in the backend's namespace. No-op when disabled.
func (c *Cache) Clear(ctx context.Context) error {
	if !c.cfg.Enabled {
		return nil
	}
	if err := c.provider.Clear(ctx); err != nil {
		return err
	}
	c.logger.Info("cleared cache")
	return nil
}

// Stats returns a snapshot of read-path activity since construction.
func (c *Cache) Stats() Stats {
	return c.stats.snapshot()
}
