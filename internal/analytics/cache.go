package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache is the ephemeral cache §4.5 calls for — conversation-analysis
// and coaching payloads are "persisted to an ephemeral cache keyed by
// session id" so a reconnecting dashboard can read the latest result
// without replaying the call. Grounded on
// AltairaLabs-PromptKit/runtime/statestore/redis.go's TTL'd Set/Get pattern.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewResultCache wraps a redis client. ttl defaults to one hour — long
// enough to cover a session's post-call dashboard window.
func NewResultCache(client *redis.Client) *ResultCache {
	return &ResultCache{client: client, ttl: time.Hour, prefix: "voicebridge"}
}

func (c *ResultCache) key(sessionID string, kind Kind) string {
	return fmt.Sprintf("%s:analytics:%s:%s", c.prefix, sessionID, kind)
}

// Put stores a result payload for a session/kind pair.
func (c *ResultCache) Put(ctx context.Context, sessionID string, kind Kind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("analytics cache: marshal: %w", err)
	}
	if err := c.client.Set(ctx, c.key(sessionID, kind), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("analytics cache: set: %w", err)
	}
	return nil
}

// Get retrieves a cached payload, unmarshaling into out. Returns
// redis.Nil-wrapped error if absent.
func (c *ResultCache) Get(ctx context.Context, sessionID string, kind Kind, out any) error {
	data, err := c.client.Get(ctx, c.key(sessionID, kind)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("analytics cache: no entry for %s/%s: %w", sessionID, kind, err)
		}
		return fmt.Errorf("analytics cache: get: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("analytics cache: unmarshal: %w", err)
	}
	return nil
}
