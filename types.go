package chatsync

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"net/http"
	"time"
)

// Transport is the injected black-box call to the chat backend. The library
// never constructs requests itself beyond (method, path, body); HTTP, RPC or
// a test stub all satisfy it.
type Transport interface {
	Call(ctx context.Context, method, path string, body []byte) (*Response, error)
}

// TransportFunc adapts a plain function to the Transport interface.
type TransportFunc func(ctx context.Context, method, path string, body []byte) (*Response, error)

func (f TransportFunc) Call(ctx context.Context, method, path string, body []byte) (*Response, error) {
	return f(ctx, method, path, body)
}

// Response is the settled result of one transport call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestKey identifies a logical request for deduplication and caching.
// Two calls are concurrent duplicates when method, path and body all match.
type RequestKey struct {
	Method string
	Path   string
	Body   []byte
}

// NewRequestKey builds a key from the parts that define request identity.
func NewRequestKey(method, path string, body []byte) RequestKey {
	return RequestKey{Method: method, Path: path, Body: body}
}

// Hash returns the map key used by the in-flight tracker and cache. Method
// and path feed an fnv64a hash directly; the body contributes a sha256
// digest so large payloads stay cheap to compare.
func (k RequestKey) Hash() string {
	h := fnv.New64a()
	h.Write([]byte(k.Method))
	h.Write([]byte{0})
	h.Write([]byte(k.Path))

	if len(k.Body) > 0 {
		digest := sha256.Sum256(k.Body)
		h.Write(digest[:])
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// ReadOnly reports whether the key denotes a GET-equivalent request.
func (k RequestKey) ReadOnly() bool {
	return k.Method == http.MethodGet || k.Method == http.MethodHead
}

// PerformFunc executes the actual transport call for a key. The coordinator
// invokes it at most once per distinct concurrent key.
type PerformFunc func(ctx context.Context) (*Response, error)

// CacheCondition decides whether a key's successful response may be cached.
type CacheCondition func(key RequestKey) bool

// DefaultCacheCondition caches read-only requests only.
func DefaultCacheCondition(key RequestKey) bool {
	return key.ReadOnly()
}

// DedupCondition decides whether a key participates in in-flight coalescing.
type DedupCondition func(key RequestKey) bool

// DefaultDedupCondition coalesces every method: the console's re-entrant
// rendering double-fires writes as readily as reads.
func DefaultDedupCondition(key RequestKey) bool {
	return true
}

// CacheEntry is a completed read-only response held until expiry.
type CacheEntry struct {
	Response  *Response
	ExpiresAt time.Time
}

// Cache stores short-lived read results keyed by RequestKey hash.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// Message is one item of a conversation's result list as served by the
// backend's read endpoint.
type Message struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	Text        string `json:"text"`
	ContentType string `json:"contentType,omitempty"`
}

// Roles the backend emits for conversation items.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessagePredicate distinguishes the awaited kind of result from other items.
type MessagePredicate func(Message) bool

// AssistantReply is the default awaited-result predicate: a machine-generated
// reply rather than a restated user item.
func AssistantReply(m Message) bool {
	return m.Role == RoleAssistant
}

// FetchFunc retrieves the current ordered message list for a conversation.
// The awaiter polls through this; Client wires it to the coordinator's read
// path so concurrent panels share one underlying call.
type FetchFunc func(ctx context.Context, conversationID string) ([]Message, error)

// Option configures a Client.
type Option func(*Client)
