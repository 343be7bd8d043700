package chatsync

import (
	"fmt"
	"time"
)

// WithCacheTTL sets how long successful read-only responses are served from
// cache. Keep it short: long enough to absorb re-entrant calls from
// rendering, short enough that staleness is never user-visible.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = d
	}
}

// WithCustomCache sets a custom cache implementation and its TTL.
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithCacheCondition sets a custom cache condition function.
func WithCacheCondition(fn CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = fn
	}
}

// WithDedupCondition sets a custom deduplication condition function.
func WithDedupCondition(fn DedupCondition) Option {
	return func(c *Client) {
		c.dedupCondition = fn
	}
}

// WithPollInterval sets the awaiter's fixed poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithAwaitTimeout sets the maximum duration an await session keeps polling.
func WithAwaitTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.awaitTimeout = d
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithSimpleLogger enables debug logging with a simple console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error if invalid.
func (c *Client) ValidateConfiguration() error {
	var errors []string

	errors = append(errors, c.validateTransportConfig()...)
	errors = append(errors, c.validateCacheConfig()...)
	errors = append(errors, c.validatePollingConfig()...)
	errors = append(errors, c.validateDebugConfig()...)
	errors = append(errors, c.validateExtremeValues()...)

	if len(errors) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errors),
		}
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errors []string

	if c.transport == nil {
		errors = append(errors, "transport cannot be nil")
	}

	return errors
}

func (c *Client) validateCacheConfig() []string {
	var errors []string

	if c.cacheTTL <= 0 {
		errors = append(errors, "cacheTTL must be positive")
	}
	if c.cacheCondition == nil {
		errors = append(errors, "cacheCondition cannot be nil")
	}
	if c.dedupCondition == nil {
		errors = append(errors, "dedupCondition cannot be nil")
	}

	return errors
}

func (c *Client) validatePollingConfig() []string {
	var errors []string

	if c.pollInterval <= 0 {
		errors = append(errors, "pollInterval must be positive")
	}
	if c.awaitTimeout <= 0 {
		errors = append(errors, "awaitTimeout must be positive")
	}
	if c.pollInterval > 0 && c.awaitTimeout > 0 && c.awaitTimeout < c.pollInterval {
		errors = append(errors, "awaitTimeout must be greater than or equal to pollInterval")
	}

	return errors
}

func (c *Client) validateDebugConfig() []string {
	var errors []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errors = append(errors, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errors = append(errors, "logger must be set when debug is enabled")
		}
	}

	return errors
}

func (c *Client) validateExtremeValues() []string {
	var errors []string

	if c.cacheTTL > time.Minute {
		errors = append(errors, "cacheTTL > 1m defeats the short-lived cache's staleness guarantee")
	}
	if c.pollInterval > 0 && c.pollInterval < 10*time.Millisecond {
		errors = append(errors, "pollInterval < 10ms may hammer the read endpoint")
	}
	if c.awaitTimeout > 10*time.Minute {
		errors = append(errors, "awaitTimeout > 10m keeps sessions alive far beyond any reply")
	}

	return errors
}
