package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	valkey "github.com/valkey-io/valkey-go"

	"github.com/incrustwerush/rwaf/internal/runtime/pipeline"
)

// Fingerprints share a namespace so Clear can sweep the service's keys
// without touching anything else living in the same database.
const valkeyNamespace = "rwaf:decision:v1:"

// ValkeyConfig selects the server and the per-entry TTL for the shared
// decision cache backend.
type ValkeyConfig struct {
	Address string
	TTL     time.Duration
}

type valkeyCache struct {
	client valkey.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewValkey connects to the valkey server and verifies it responds before the
// backend is handed to the pipeline. Hit/miss counters are node-local; the
// entries themselves are shared.
func NewValkey(cfg ValkeyConfig) (DecisionCache, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}
	return &valkeyCache{client: client, ttl: ttl}, nil
}

func (c *valkeyCache) Lookup(ctx context.Context, key string) (pipeline.Decision, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(valkeyNamespace+key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			c.misses.Add(1)
			return pipeline.Decision{}, false, nil
		}
		return pipeline.Decision{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return pipeline.Decision{}, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	var decision pipeline.Decision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return pipeline.Decision{}, false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	c.hits.Add(1)
	return decision, true, nil
}

func (c *valkeyCache) Store(ctx context.Context, key string, decision pipeline.Decision) error {
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	cmd := c.client.B().Set().Key(valkeyNamespace + key).Value(string(payload)).Px(c.ttl).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

// Clear sweeps the namespace with SCAN so large caches do not block the
// server the way KEYS would.
func (c *valkeyCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		resp := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(valkeyNamespace+"*").Count(256).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: valkey scan: %w", err)
		}
		if len(entry.Elements) > 0 {
			if err := c.client.Do(ctx, c.client.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return fmt.Errorf("cache: valkey del: %w", err)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	c.hits.Store(0)
	c.misses.Store(0)
	return nil
}

func (c *valkeyCache) Stats(ctx context.Context) (Stats, error) {
	size := 0
	var cursor uint64
	for {
		resp := c.client.Do(ctx, c.client.B().Scan().Cursor(cursor).Match(valkeyNamespace+"*").Count(256).Build())
		entry, err := resp.AsScanEntry()
		if err != nil {
			return Stats{}, fmt.Errorf("cache: valkey scan: %w", err)
		}
		size += len(entry.Elements)
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}, nil
}

func (c *valkeyCache) Close(context.Context) error {
	c.client.Close()
	return nil
}
