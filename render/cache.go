package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// ArtifactCache stores encoded artifacts by key. A miss is (nil, false, nil).
type ArtifactCache interface {
	Get(ctx context.Context, key string) (*Artifact, bool, error)
	Set(ctx context.Context, key string, a *Artifact) error
}

// Formatter is implemented by encoders that produce one output format, so
// cached PNG and SVG artifacts of the same payload do not collide.
type Formatter interface {
	Format() string
}

// CachingEncoder memoises a deterministic encoder. Cache failures are logged
// and never fail the encode.
type CachingEncoder struct {
	Next  Encoder
	Cache ArtifactCache
	Log   *slog.Logger
}

func (c *CachingEncoder) Encode(ctx context.Context, payload string, opts Options) (*Artifact, error) {
	if c.Cache == nil {
		return c.Next.Encode(ctx, payload, opts)
	}

	key := CacheKey(formatOf(c.Next), payload, opts)
	if a, ok, err := c.Cache.Get(ctx, key); err != nil {
		c.logger().Warn("artifact cache get failed", "error", err)
	} else if ok {
		return a, nil
	}

	a, err := c.Next.Encode(ctx, payload, opts)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.Set(ctx, key, a); err != nil {
		c.logger().Warn("artifact cache set failed", "error", err)
	}
	return a, nil
}

// Format passes through the wrapped encoder's format.
func (c *CachingEncoder) Format() string { return formatOf(c.Next) }

func (c *CachingEncoder) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}

// CacheKey derives a stable key from everything that affects the output.
func CacheKey(format, payload string, opts Options) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%d\x00%s\x00%s\x00%s\x00",
		format, opts.Width, opts.Height, opts.Margin, opts.ErrorCorrection, opts.ColorDark, opts.ColorLight)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func formatOf(enc Encoder) string {
	if f, ok := enc.(Formatter); ok {
		return f.Format()
	}
	return ""
}
