// Package cache layers token lookups: an in-process LRU in front of an
// optional Redis tier in front of the backing store. Token resolution runs
// on every authenticated request, so this is the registry's hottest path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/satchel/pkg/auth"
	"github.com/platinummonkey/satchel/pkg/registry"
	"github.com/platinummonkey/satchel/pkg/storage"
)

// NewRedisClient connects to Redis per the storage config
func NewRedisClient(cfg storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB >= 0 {
		opts.DB = cfg.RedisDB
	}
	if cfg.RedisMaxRetries > 0 {
		opts.MaxRetries = cfg.RedisMaxRetries
	}
	if cfg.RedisPoolSize > 0 {
		opts.PoolSize = cfg.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// TokenStore wraps a registry.TokenStore with caching. Redis is optional;
// with a nil client only the in-process LRU is used.
type TokenStore struct {
	backing registry.TokenStore
	l1      *lru.LRU[string, *auth.Token]
	redis   *redis.Client
	ttl     time.Duration
}

// NewTokenStore creates the cache layer over backing
func NewTokenStore(backing registry.TokenStore, redisClient *redis.Client, cfg storage.Config) *TokenStore {
	size := cfg.L1CacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := cfg.CacheTTL["token"]
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &TokenStore{
		backing: backing,
		l1:      lru.NewLRU[string, *auth.Token](size, nil, ttl),
		redis:   redisClient,
		ttl:     ttl,
	}
}

func cacheKey(secret string) string {
	return "token:" + secret
}

// GetToken implements registry.TokenStore. Lookup order is L1, Redis, then
// the backing store; misses are filled on the way back. Absent tokens are
// not negatively cached, so a freshly issued secret is usable at once on
// every node.
func (s *TokenStore) GetToken(ctx context.Context, secret string) (*auth.Token, error) {
	if token, ok := s.l1.Get(secret); ok {
		return token, nil
	}

	if s.redis != nil {
		data, err := s.redis.Get(ctx, cacheKey(secret)).Result()
		if err == nil {
			var token auth.Token
			if err := json.Unmarshal([]byte(data), &token); err == nil {
				s.l1.Add(secret, &token)
				return &token, nil
			}
			// Corrupt entry: drop it and fall through
			s.redis.Del(ctx, cacheKey(secret))
		} else if !errors.Is(err, redis.Nil) {
			// Redis being down must not take token auth with it
			return s.backing.GetToken(ctx, secret)
		}
	}

	token, err := s.backing.GetToken(ctx, secret)
	if err != nil {
		return nil, err
	}

	s.l1.Add(secret, token)
	if s.redis != nil {
		if data, err := json.Marshal(token); err == nil {
			s.redis.Set(ctx, cacheKey(secret), data, s.ttl)
		}
	}

	return token, nil
}

// CreateToken implements registry.TokenStore
func (s *TokenStore) CreateToken(ctx context.Context, token *auth.Token) error {
	return s.backing.CreateToken(ctx, token)
}

// ListTokens implements registry.TokenStore. Enumeration is an
// administrative operation and always reads through.
func (s *TokenStore) ListTokens(ctx context.Context) ([]*auth.Token, error) {
	return s.backing.ListTokens(ctx)
}

// DeleteToken implements registry.TokenStore. Both cache tiers are
// invalidated so revocation takes effect within one request, not one TTL.
func (s *TokenStore) DeleteToken(ctx context.Context, secret string) error {
	if err := s.backing.DeleteToken(ctx, secret); err != nil {
		return err
	}

	s.l1.Remove(secret)
	if s.redis != nil {
		if err := s.redis.Del(ctx, cacheKey(secret)).Err(); err != nil {
			return fmt.Errorf("failed to invalidate token cache: %w", err)
		}
	}
	return nil
}
