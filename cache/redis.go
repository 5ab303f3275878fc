package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-estate-auth"
	"github.com/redis/go-redis/v9"
)

const (
	propertyPrefix   = "estate:property:"
	revocationPrefix = "estate:revoked:"
)

// NewRedisClient initializes a redis client.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// PropertyCache stores properties as JSON documents with a TTL.
type PropertyCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

var _ auth.PropertyCache = (*PropertyCache)(nil)

// NewPropertyCache returns a redis backed property cache. A zero ttl keeps
// entries until they are invalidated.
func NewPropertyCache(rdb redis.UniversalClient, ttl time.Duration) *PropertyCache {
	return &PropertyCache{rdb: rdb, ttl: ttl}
}

func (c *PropertyCache) Get(ctx context.Context, id string) (*auth.Property, bool, error) {
	property := &auth.Property{}
	ok, err := getJSON(ctx, c.rdb, propertyPrefix+id, property)
	if err != nil || !ok {
		return nil, false, err
	}
	return property, true, nil
}

func (c *PropertyCache) Set(ctx context.Context, property *auth.Property) error {
	if property == nil {
		return nil
	}
	return setJSON(ctx, c.rdb, propertyPrefix+property.ID.String(), property, c.ttl)
}

func (c *PropertyCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = propertyPrefix + id
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to invalidate cached properties").
			WithMetadata(map[string]any{"ids": ids})
	}
	return nil
}

// RevocationStore keeps revoked token ids in redis until the token expires.
type RevocationStore struct {
	rdb redis.UniversalClient
	now func() time.Time
}

var _ auth.RevocationStore = (*RevocationStore)(nil)

func NewRevocationStore(rdb redis.UniversalClient) *RevocationStore {
	return &RevocationStore{rdb: rdb, now: time.Now}
}

// WithClock replaces the clock used to compute key lifetimes.
func (s *RevocationStore) WithClock(now func() time.Time) *RevocationStore {
	if now != nil {
		s.now = now
	}
	return s
}

// Revoke marks tokenID as revoked until until. Tokens already past until
// need no entry.
func (s *RevocationStore) Revoke(ctx context.Context, tokenID string, until time.Time) error {
	if tokenID == "" {
		return nil
	}
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.rdb.Set(ctx, revocationPrefix+tokenID, 1, ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to revoke token")
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := s.rdb.Exists(ctx, revocationPrefix+tokenID).Result()
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to check token revocation")
	}
	return n > 0, nil
}

func setJSON(ctx context.Context, rdb redis.UniversalClient, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode cache entry")
	}
	if err := rdb.Set(ctx, key, b, ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to write cache entry").
			WithMetadata(map[string]any{"key": key})
	}
	return nil
}

func getJSON(ctx context.Context, rdb redis.UniversalClient, key string, dest any) (bool, error) {
	res, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryExternal, "failed to read cache entry").
			WithMetadata(map[string]any{"key": key})
	}
	if err := json.Unmarshal(res, dest); err != nil {
		// a corrupt entry reads as a miss and is overwritten by the next load
		return false, nil
	}
	return true, nil
}
