// Package cache remembers clamd verdicts for streamed payloads, keyed by the
// payload's SHA-256, so identical uploads are not rescanned.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

const defaultPrefix = "scancan:verdict:"

// Verdicts stores clamd replies by payload digest.
type Verdicts interface {
	Get(ctx context.Context, digest string) (reply string, ok bool, err error)
	Put(ctx context.Context, digest, reply string) error
}

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Nop is a Verdicts that never remembers anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) (string, bool, error) { return "", false, nil }

// Put discards the reply.
func (Nop) Put(context.Context, string, string) error { return nil }

// Redis implements Verdicts on a Redis server.
type Redis struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Redis cache.
type Option func(*Redis)

// WithTTL sets how long a verdict is kept. Zero keeps it until evicted.
func WithTTL(ttl time.Duration) Option {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis connects to the Redis server at address.
func NewRedis(address, password string, db int, opts ...Option) *Redis {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Redis {
	r := &Redis{
		client: client,
		prefix: defaultPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) key(digest string) string {
	return r.prefix + digest
}

// Ping checks that the server is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get returns the remembered reply for digest.
func (r *Redis) Get(ctx context.Context, digest string) (string, bool, error) {
	reply, err := r.client.Get(ctx, r.key(digest)).Result()
	if errors.Is(err, backend.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get verdict: %w", err)
	}
	return reply, true, nil
}

// Put remembers reply for digest.
func (r *Redis) Put(ctx context.Context, digest, reply string) error {
	if err := r.client.Set(ctx, r.key(digest), reply, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set verdict: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
