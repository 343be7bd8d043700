package chatsync

import (
	"context"
	"time"
)

// CoordinatorConfig holds coordinator construction parameters. Zero values
// select the defaults (in-memory cache, 1s TTL, read-only cache condition,
// dedup for every method).
type CoordinatorConfig struct {
	Cache          Cache
	CacheTTL       time.Duration
	CacheCondition CacheCondition
	DedupCondition DedupCondition
	Metrics        *MetricsCollector
	Logger         Logger
	Debug          *DebugConfig
}

// Coordinator issues a logical request exactly once per distinct concurrent
// RequestKey and short-circuits repeated reads with a short-TTL cache. It is
// safe for concurrent use; the in-flight and cache maps are private and the
// instance's lifetime is owned by whatever composes the application.
type Coordinator struct {
	inflight       *InFlightTracker
	cache          Cache
	cacheTTL       time.Duration
	cacheCondition CacheCondition
	dedupCondition DedupCondition
	metrics        *MetricsCollector
	logger         Logger
	debug          *DebugConfig
}

// DefaultCacheTTL absorbs re-entrant calls from rendering without letting
// staleness become user-visible.
const DefaultCacheTTL = time.Second

// NewCoordinator constructs a Coordinator from cfg.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	co := &Coordinator{
		inflight:       NewInFlightTracker(),
		cache:          cfg.Cache,
		cacheTTL:       cfg.CacheTTL,
		cacheCondition: cfg.CacheCondition,
		dedupCondition: cfg.DedupCondition,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		debug:          cfg.Debug,
	}

	if co.cache == nil {
		co.cache = NewInMemoryCache()
	}
	if co.cacheTTL <= 0 {
		co.cacheTTL = DefaultCacheTTL
	}
	if co.cacheCondition == nil {
		co.cacheCondition = DefaultCacheCondition
	}
	if co.dedupCondition == nil {
		co.dedupCondition = DefaultDedupCondition
	}

	return co
}

// Execute resolves key through the cache, an already in-flight duplicate, or
// by invoking perform, in that order. All callers that share an in-flight
// entry observe the identical outcome; a failed perform propagates to every
// waiter and is never cached.
func (co *Coordinator) Execute(ctx context.Context, key RequestKey, perform PerformFunc) (*Response, error) {
	start := time.Now()
	hash := key.Hash()

	var requestID string
	if co.debug.on() && co.debug.RequestIDGen != nil {
		requestID = co.debug.RequestIDGen()
	}
	if co.debug.on() && co.debug.LogRequests && co.logger != nil {
		co.logger.Debug("Starting request", "requestID", requestID, "method", key.Method, "path", key.Path)
	}

	cacheable := co.cacheCondition(key)
	if cacheable {
		if entry, found := co.cache.Get(hash); found {
			if co.debug.on() && co.debug.LogCache && co.logger != nil {
				co.logger.Debug("Cache hit", "requestID", requestID, "method", key.Method, "path", key.Path)
			}
			co.metrics.RecordCacheHit(key.Method, key.Path)
			co.metrics.RecordRequest(key.Method, key.Path, entry.Response.StatusCode, time.Since(start))
			return copyResponse(entry.Response), nil
		}
		co.metrics.RecordCacheMiss(key.Method, key.Path)
	}

	if !co.dedupCondition(key) {
		return co.perform(ctx, key, hash, cacheable, perform, start, requestID)
	}

	entry, owner := co.inflight.GetOrCreateEntry(hash)
	if !owner {
		if co.debug.on() && co.logger != nil {
			co.logger.Debug("Joined in-flight request", "requestID", requestID, "method", key.Method, "path", key.Path)
		}
		co.metrics.RecordDedupHit(key.Method, key.Path)

		resp, err := entry.Wait(ctx)
		if err != nil && ctx.Err() != nil {
			// The waiter gave up on its own; the shared call keeps running
			// for whoever else is still waiting.
			err = &ClientError{
				Type:      ErrorTypeCanceled,
				Message:   "caller canceled while awaiting shared result",
				Cause:     err,
				Method:    key.Method,
				Path:      key.Path,
				Timestamp: time.Now(),
			}
		}
		co.metrics.RecordRequest(key.Method, key.Path, statusOf(resp), time.Since(start))
		return resp, err
	}

	resp, err := co.perform(ctx, key, hash, cacheable, perform, start, requestID)

	// Populate the cache before releasing waiters so a caller that re-issues
	// the key right after settlement sees the cached value, not a new call.
	co.inflight.Complete(hash, resp, err)
	return resp, err
}

func (co *Coordinator) perform(ctx context.Context, key RequestKey, hash string, cacheable bool, perform PerformFunc, start time.Time, requestID string) (*Response, error) {
	co.metrics.RecordRequestStart(key.Method, key.Path)
	resp, err := perform(ctx)
	co.metrics.RecordRequestEnd(key.Method, key.Path)
	co.metrics.RecordRequest(key.Method, key.Path, statusOf(resp), time.Since(start))

	if err != nil {
		co.metrics.RecordError(ErrorTypeTransport, key.Method, key.Path)
		if co.debug.on() && co.logger != nil {
			co.logger.Warn("Transport call failed", "requestID", requestID, "method", key.Method, "path", key.Path, "error", err.Error())
		}
		return nil, err
	}

	if cacheable && resp != nil && resp.StatusCode < 400 {
		co.cache.Set(hash, &CacheEntry{Response: copyResponse(resp)}, co.cacheTTL)
		if c, ok := co.cache.(*InMemoryCache); ok {
			co.metrics.RecordCacheSize("default", c.Len())
		}
		if co.debug.on() && co.debug.LogCache && co.logger != nil {
			co.logger.Debug("Response cached", "requestID", requestID, "method", key.Method, "path", key.Path, "ttl", co.cacheTTL)
		}
	}

	return resp, nil
}

// InvalidateCache drops any cached entry for key. Writers that know they
// changed a list can force the next read through to the backend.
func (co *Coordinator) InvalidateCache(key RequestKey) {
	co.cache.Delete(key.Hash())
}

func statusOf(resp *Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
