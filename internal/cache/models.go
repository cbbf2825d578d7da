// Package cache memoizes the upstream model directory for a fixed time window.
package cache

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"chat-gateway-go/internal/client"
	"chat-gateway-go/internal/config"
	"chat-gateway-go/internal/metrics"
	"chat-gateway-go/internal/model"
)

// entry is one immutable cache record, replaced as a whole on refresh.
type entry struct {
	outcome   *model.Outcome
	fetchedAt time.Time
}

// ModelCache serves the upstream model directory, refetching at most once per
// TTL window. Concurrent refreshes after expiry are acceptable: both fetch the
// same idempotent resource and the last writer wins, so no locking is needed
// beyond atomic replacement of the record.
type ModelCache struct {
	client  *client.UpstreamClient
	url     string
	ttl     time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	// now is the clock; replaced in tests to drive TTL expiry.
	now func() time.Time

	current atomic.Pointer[entry]
}

// NewModelCache creates a ModelCache over the configured models endpoint.
// The metrics parameter is optional; pass nil to disable cache metrics.
func NewModelCache(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ModelCache {
	return &ModelCache{
		client:  c,
		url:     cfg.Upstream.ModelsURL,
		ttl:     time.Duration(cfg.Cache.ModelsTTLSeconds) * time.Second,
		logger:  logger.With("component", "model_cache"),
		metrics: m,
		now:     time.Now,
	}
}

// Get returns the cached directory when the entry is younger than the TTL,
// otherwise refetches it with the caller's Authorization header. A failed
// refresh propagates the error and leaves the existing entry untouched.
func (mc *ModelCache) Get(ctx context.Context, authorization string) (*model.Outcome, error) {
	if e := mc.current.Load(); e != nil && mc.now().Sub(e.fetchedAt) < mc.ttl {
		if mc.metrics != nil {
			mc.metrics.CacheHits.Inc()
		}
		return e.outcome, nil
	}

	if mc.metrics != nil {
		mc.metrics.CacheMisses.Inc()
	}

	header := make(http.Header)
	header.Set("Authorization", authorization)

	outcome, err := mc.client.FetchWithRetry(ctx, http.MethodGet, mc.url, header, nil)
	if err != nil {
		return nil, err
	}

	mc.current.Store(&entry{outcome: outcome, fetchedAt: mc.now()})
	mc.logger.Debug("model directory refreshed", "status", outcome.StatusCode, "bytes", len(outcome.Body))
	return outcome, nil
}
