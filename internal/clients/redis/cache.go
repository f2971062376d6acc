package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/suplementia/search-backend/internal/domain"
	"github.com/suplementia/search-backend/internal/platform/envutil"
	"github.com/suplementia/search-backend/internal/platform/logger"
)

// Entry is what a cache hit yields: the indexed record plus the similarity
// it matched the cached query with.
type Entry struct {
	Record     domain.SupplementRecord `json:"record"`
	Similarity float64                 `json:"similarity"`
}

// SupplementCache is the read-through cache in front of the search engine,
// keyed by canonical (normalized) name. A nil Entry with a nil error is a
// miss.
type SupplementCache interface {
	Get(ctx context.Context, name string) (*Entry, error)
	Set(ctx context.Context, name string, entry *Entry) error
	Invalidate(ctx context.Context, names ...string) error
	Close() error
}

type supplementCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewSupplementCache(log *logger.Logger) (SupplementCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := envutil.Str("REDIS_ADDR", "")
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    envutil.Str("REDIS_PASSWORD", ""),
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &supplementCache{
		log: log.With("service", "SupplementCache"),
		rdb: rdb,
		ttl: envutil.Duration("CACHE_TTL", 7*24*time.Hour),
	}, nil
}

// Key derives the cache key from the normalized name, sha256-prefixed the
// same way the lookups and invalidations both expect.
func Key(name string) string {
	sum := sha256.Sum256([]byte(domain.NormalizeName(name)))
	return "supplement:" + hex.EncodeToString(sum[:])[:16]
}

func (c *supplementCache) Get(ctx context.Context, name string) (*Entry, error) {
	raw, err := c.rdb.Get(ctx, Key(name)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is as good as a miss; drop it.
		_ = c.rdb.Del(ctx, Key(name)).Err()
		return nil, nil
	}
	return &entry, nil
}

func (c *supplementCache) Set(ctx context.Context, name string, entry *Entry) error {
	if entry == nil {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, Key(name), raw, c.ttl).Err()
}

func (c *supplementCache) Invalidate(ctx context.Context, names ...string) error {
	keys := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		keys = append(keys, Key(name))
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *supplementCache) Close() error { return c.rdb.Close() }
