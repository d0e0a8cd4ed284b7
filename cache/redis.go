// Package cache stores encoded ticket codes in Redis so repeated renders of
// the same payload skip the encoder.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wakafine/ticketqr/render"
)

const keyPrefix = "ticketqr:artifact:"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Redis implements render.ArtifactCache on a Redis server.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New connects to Redis and pings it with a short timeout. It returns
// (nil, nil) when opts.Addr is empty, which callers treat as "no cache".
func New(ctx context.Context, opts Options) (*Redis, error) {
	if opts.Addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts.TTL), nil
}

// NewWithClient wraps an existing client. A zero ttl stores keys without expiry.
func NewWithClient(client redis.Cmdable, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (*render.Artifact, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var a render.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, fmt.Errorf("decode cached artifact: %w", err)
	}
	return &a, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, a *render.Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := r.client.Set(ctx, keyPrefix+key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the connection pool when the client owns one.
func (r *Redis) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
