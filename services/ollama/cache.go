package ollama

import (
	"log/slog"
	"sync"
	"time"
)

// ClientCache hands out the process-wide client for a given endpoint URL.
//
// # Description
//
// The daemon connection handle is effectively a process-wide resource: one
// client is kept alive and re-created only when the target endpoint URL
// changes, so two different endpoints' in-flight state is never mixed on
// one handle. The cache is injected into the dispatcher as a constructor
// dependency rather than living in a package-level singleton.
//
// # Thread Safety
//
// Safe for concurrent use; lookups take a mutex but the returned *Client
// is shared and itself concurrency-safe.
type ClientCache struct {
	mu         sync.Mutex
	defaultURL string
	timeout    time.Duration
	current    *Client
}

// NewClientCache creates a cache whose empty-URL lookups resolve to
// defaultURL. A zero timeout uses DefaultTimeout for blocking calls.
func NewClientCache(defaultURL string, timeout time.Duration) *ClientCache {
	return &ClientCache{defaultURL: defaultURL, timeout: timeout}
}

// DefaultURL returns the endpoint used when a request names none.
func (cc *ClientCache) DefaultURL() string { return cc.defaultURL }

// For returns the client for baseURL, reusing the cached handle when the
// URL is unchanged and swapping it out otherwise. An empty baseURL means
// the configured default endpoint.
func (cc *ClientCache) For(baseURL string) *Client {
	if baseURL == "" {
		baseURL = cc.defaultURL
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if cc.current != nil && cc.current.BaseURL() == trimSlash(baseURL) {
		return cc.current
	}
	if cc.current != nil {
		slog.Info("Ollama endpoint changed, recreating client",
			"old", cc.current.BaseURL(), "new", baseURL)
	}
	cc.current = NewClient(baseURL, cc.timeout)
	return cc.current
}

func trimSlash(u string) string {
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u
}
