// Package cache holds ephemeral single-use material in Redis: the nonces of
// magic-link, password-reset, email-verify and two-factor-challenge tokens.
// Every entry carries a mandatory expiry.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const noncePrefix = "nonce:"

// defaultTimeout bounds every cache call independently of the request
// deadline.
const defaultTimeout = 1 * time.Second

// NonceStore implements auth.NonceStore on Redis.
type NonceStore struct {
	client *redis.Client
}

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = defaultTimeout
	opts.WriteTimeout = defaultTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewNonceStore creates a nonce store on an existing client.
func NewNonceStore(client *redis.Client) *NonceStore {
	return &NonceStore{client: client}
}

// Put records a nonce with the token's TTL.
func (s *NonceStore) Put(ctx context.Context, nonce string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if ttl <= 0 {
		return fmt.Errorf("nonce TTL must be positive")
	}
	if err := s.client.Set(ctx, noncePrefix+nonce, "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to store nonce: %w", err)
	}
	return nil
}

// Consume atomically removes a nonce. GETDEL guarantees that for any nonce
// at most one concurrent caller sees true, which makes single-use tokens
// single-use under any interleaving.
func (s *NonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := s.client.GetDel(ctx, noncePrefix+nonce).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume nonce: %w", err)
	}
	return true, nil
}
