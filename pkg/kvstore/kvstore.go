// Package kvstore provides a small TTL key-value store used for webhook
// deduplication and other short-lived coordination state.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is a key-value store with per-key expiry. Implementations must
// be safe for concurrent use.
type Store interface {
	// Set stores a value. A zero ttl means the key never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// SetNX stores the value only if the key is absent. It reports
	// whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// NewStore builds a store from a URL. Supported schemes are memory://
// and redis://.
func NewStore(storeURL string) (Store, error) {
	parsed, err := url.Parse(storeURL)
	if err != nil {
		return nil, fmt.Errorf("invalid kvstore url: %w", err)
	}

	switch parsed.Scheme {
	case "memory":
		return NewMemoryStore(), nil
	case "redis", "rediss":
		return NewRedisStore(storeURL)
	default:
		return nil, fmt.Errorf("unsupported kvstore scheme: %s", parsed.Scheme)
	}
}
