package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ResponseCache stores model responses keyed by a hash of the full prompt and
// generation parameters. It is an explicit, injectable service with TTL
// eviction, never a hidden singleton.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Put(ctx context.Context, key string, resp *Response) error
	Close() error
}

// CacheKey derives the cache key from the prompt content, the model and the
// generation parameters. Identical prompts against the same model and
// parameters map to the same key.
func CacheKey(messages []Message, model string, temperature float32, maxTokens int) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	fmt.Fprintf(h, "%s|%.4f|%d", model, temperature, maxTokens)
	return hex.EncodeToString(h.Sum(nil))
}

// BadgerCache is a ResponseCache backed by an embedded badger store. Entries
// carry a TTL and are dropped by badger's value-log garbage collection.
type BadgerCache struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
}

// BadgerCacheConfig configures a BadgerCache.
type BadgerCacheConfig struct {
	// Path is the on-disk location; empty selects an in-memory store.
	Path string
	// TTL bounds entry lifetime (default 24h).
	TTL time.Duration
}

// NewBadgerCache opens the cache store.
func NewBadgerCache(config BadgerCacheConfig, logger *slog.Logger) (*BadgerCache, error) {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(config.Path).WithLogger(nil)
	if config.Path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open response cache: %w", err)
	}

	return &BadgerCache{db: db, ttl: config.TTL, logger: logger}, nil
}

// Get implements ResponseCache. Cache errors are logged and reported as
// misses; the cache never fails a generation call.
func (c *BadgerCache) Get(ctx context.Context, key string) (*Response, bool) {
	var resp Response
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &resp)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("response cache read failed", "error", err)
		}
		return nil, false
	}
	return &resp, true
}

// Put implements ResponseCache.
func (c *BadgerCache) Put(ctx context.Context, key string, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode cached response: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), data).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
}

// Close implements ResponseCache.
func (c *BadgerCache) Close() error { return c.db.Close() }

// CachedClient decorates a Client with a ResponseCache.
type CachedClient struct {
	inner  Client
	cache  ResponseCache
	config Config
}

// NewCachedClient wraps inner so identical prompts hit the cache instead of
// the model.
func NewCachedClient(inner Client, cache ResponseCache, config Config) *CachedClient {
	return &CachedClient{inner: inner, cache: cache, config: config}
}

// Generate implements Client.
func (c *CachedClient) Generate(ctx context.Context, messages []Message) (*Response, error) {
	key := CacheKey(messages, c.inner.Model(), c.config.Temperature, c.config.MaxTokens)
	if resp, ok := c.cache.Get(ctx, key); ok {
		return resp, nil
	}

	resp, err := c.inner.Generate(ctx, messages)
	if err != nil {
		return nil, err
	}
	if putErr := c.cache.Put(ctx, key, resp); putErr != nil {
		slog.Default().Debug("response cache write failed", "error", putErr)
	}
	return resp, nil
}

// Model implements Client.
func (c *CachedClient) Model() string { return c.inner.Model() }

// Close implements Client. The cache is owned by the caller and closed
// separately.
func (c *CachedClient) Close() error { return c.inner.Close() }
