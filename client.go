package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client composes the request coordinator and the reply awaiter over an
// injected transport. Construct one per process with New; it is safe for
// concurrent use. The surrounding console issues every network call
// through it and pairs each message send with an await session it cancels
// on navigation away.
type Client struct {
	transport Transport

	coordinator *Coordinator
	awaiter     *Awaiter

	cache          Cache
	cacheTTL       time.Duration
	cacheCondition CacheCondition
	dedupCondition DedupCondition
	pollInterval   time.Duration
	awaitTimeout   time.Duration
	metrics        *MetricsCollector
	logger         Logger
	debug          *DebugConfig

	validationError error
}

// New constructs a Client over transport using the provided functional
// options. A best effort validation is performed; call IsValid /
// ValidationError for errors.
func New(transport Transport, options ...Option) *Client {
	client := &Client{
		transport:      transport,
		cache:          nil, // coordinator builds the default
		cacheTTL:       DefaultCacheTTL,
		cacheCondition: DefaultCacheCondition,
		dedupCondition: DefaultDedupCondition,
		pollInterval:   DefaultPollInterval,
		awaitTimeout:   DefaultAwaitTimeout,
		metrics:        nil,
		logger:         nil,
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	client.coordinator = NewCoordinator(CoordinatorConfig{
		Cache:          client.cache,
		CacheTTL:       client.cacheTTL,
		CacheCondition: client.cacheCondition,
		DedupCondition: client.dedupCondition,
		Metrics:        client.metrics,
		Logger:         client.logger,
		Debug:          client.debug,
	})
	client.awaiter = NewAwaiter(client.ListMessages, AwaiterConfig{
		Interval: client.pollInterval,
		MaxWait:  client.awaitTimeout,
		Metrics:  client.metrics,
		Logger:   client.logger,
		Debug:    client.debug,
	})

	return client
}

// Coordinator exposes the request coordination layer for callers issuing
// endpoints this facade has no helper for.
func (c *Client) Coordinator() *Coordinator { return c.coordinator }

// Awaiter exposes the polling layer, e.g. to await with a custom predicate.
func (c *Client) Awaiter() *Awaiter { return c.awaiter }

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Get issues a GET through the coordinator: deduplicated and briefly cached.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post issues a POST through the coordinator: deduplicated, never cached.
func (c *Client) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Do resolves (method, path, body) through the coordinator.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*Response, error) {
	if c.transport == nil {
		return nil, ErrNoTransport
	}

	key := NewRequestKey(method, path, body)
	return c.coordinator.Execute(ctx, key, func(ctx context.Context) (*Response, error) {
		return c.transport.Call(ctx, method, path, body)
	})
}

type messageList struct {
	Messages []Message `json:"messages"`
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func messagesPath(chatID string) string {
	return "/api/chats/" + chatID + "/messages"
}

// ListMessages returns the current ordered message list for a chat. Reads go
// through the coordinator, so a render burst shares one transport call and
// repeats within the TTL are served from cache.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	path := messagesPath(chatID)
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:       ErrorTypeTransport,
			Message:    "unexpected status listing messages",
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	var list messageList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeTransport,
			Message:   "malformed message list",
			Cause:     err,
			Method:    http.MethodGet,
			Path:      path,
			Timestamp: time.Now(),
		}
	}

	return list.Messages, nil
}

// SendMessage submits a message to a chat. The success response only
// acknowledges acceptance; the assistant reply is computed out-of-band and
// observed via AwaitReply. The cached message list for the chat is dropped
// so the next read reflects the write.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) error {
	body, err := json.Marshal(sendMessageRequest{Text: text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	path := messagesPath(chatID)
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return &ClientError{
			Type:       ErrorTypeTransport,
			Message:    "message rejected",
			Method:     http.MethodPost,
			Path:       path,
			StatusCode: resp.StatusCode,
			Timestamp:  time.Now(),
		}
	}

	c.coordinator.InvalidateCache(NewRequestKey(http.MethodGet, path, nil))
	return nil
}

// AwaitReply starts a bounded polling session for the assistant reply to
// appear in chatID's message list. baseline is the list known before the
// send. Any prior session for the chat is superseded.
func (c *Client) AwaitReply(ctx context.Context, chatID string, baseline []Message) *Session {
	return c.awaiter.Start(ctx, chatID, baseline, AssistantReply)
}

// CancelAwait cancels the active await session for chatID, if any.
func (c *Client) CancelAwait(chatID string) bool {
	return c.awaiter.Cancel(chatID)
}

// httpTransport adapts a net/http client and base URL to the Transport
// interface.
type httpTransport struct {
	base string
	hc   *http.Client
}

// NewHTTPTransport returns a Transport calling baseURL+path over hc. A nil
// hc uses a client with a 30s timeout.
func NewHTTPTransport(baseURL string, hc *http.Client) Transport {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &httpTransport{base: baseURL, hc: hc}
}

func (t *httpTransport) Call(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}, nil
}
