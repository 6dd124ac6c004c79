// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package modelcfg caches model configurations behind a TTL.
//
// The backing store (a config service or database owned by a collaborator)
// is queried through a LoadFunc. The cache is injected wherever model
// configurations are needed rather than held as ambient static state, and
// it exposes an explicit Refresh alongside the TTL so operators can force
// a reload.
package modelcfg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is used when a cache is built with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_modelcfg_cache_hits_total",
		Help: "Model-config lookups served from the cache.",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_modelcfg_cache_misses_total",
		Help: "Model-config lookups for codes absent from the cache.",
	})
	cacheRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_modelcfg_cache_refreshes_total",
		Help: "Model-config cache refreshes, forced or TTL-driven.",
	})
	cacheRefreshErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_modelcfg_cache_refresh_errors_total",
		Help: "Model-config cache refreshes that failed.",
	})
)

// ModelConfig is one invocable model configuration.
type ModelConfig struct {
	Code        string   `json:"code" yaml:"code"`
	Provider    string   `json:"provider" yaml:"provider"`
	Model       string   `json:"model" yaml:"model"`
	Temperature *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	TimeoutMs   int      `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty"`
}

// LoadFunc fetches the full configuration map from the backing store.
type LoadFunc func(ctx context.Context) (map[string]ModelConfig, error)

// Cache is a TTL-bounded snapshot of the model configurations.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. Concurrent callers that observe an
//	expired snapshot share one refresh via singleflight.
type Cache struct {
	mu          sync.RWMutex
	entries     map[string]ModelConfig
	lastRefresh time.Time

	ttl    time.Duration
	load   LoadFunc
	flight singleflight.Group
	logger *slog.Logger
}

// NewCache creates a cache around the given loader. The cache starts
// empty; the first Get triggers a load.
func NewCache(load LoadFunc, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{ttl: ttl, load: load, logger: logger}
}

// Get returns the configuration for a code, refreshing the snapshot first
// if it has expired. The bool reports whether the code exists.
func (c *Cache) Get(ctx context.Context, code string) (ModelConfig, bool, error) {
	if c.stale() {
		if err := c.Refresh(ctx); err != nil {
			c.mu.RLock()
			empty := c.entries == nil
			c.mu.RUnlock()
			if empty {
				return ModelConfig{}, false, err
			}
			// A stale snapshot beats no answer; the failure is counted
			// and logged by Refresh.
		}
	}

	c.mu.RLock()
	cfg, ok := c.entries[code]
	c.mu.RUnlock()
	if ok {
		cacheHits.Inc()
	} else {
		cacheMisses.Inc()
	}
	return cfg, ok, nil
}

// Refresh reloads the snapshot from the backing store. Concurrent calls
// collapse into a single load.
func (c *Cache) Refresh(ctx context.Context) error {
	_, err, _ := c.flight.Do("refresh", func() (any, error) {
		cacheRefreshes.Inc()
		entries, err := c.load(ctx)
		if err != nil {
			cacheRefreshErrors.Inc()
			c.logger.Error("model-config refresh failed", "error", err)
			return nil, fmt.Errorf("refresh model configs: %w", err)
		}
		c.mu.Lock()
		c.entries = entries
		c.lastRefresh = time.Now()
		c.mu.Unlock()
		c.logger.Debug("model-config cache refreshed", "configs", len(entries))
		return nil, nil
	})
	return err
}

// LastRefreshed returns when the snapshot was last loaded. Zero means
// never.
func (c *Cache) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

func (c *Cache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries == nil || time.Since(c.lastRefresh) > c.ttl
}
