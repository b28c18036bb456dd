package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/opencontainers/go-digest"
)

// Operation identifies what the cache was doing when it logged.
type Operation string

// Cache operations.
const (
	OpCompute Operation = "compute"
	OpEvict   Operation = "evict"
)

func logCompute(ctx context.Context, logger *slog.Logger, key digest.Digest, duration time.Duration, size int, err error) {
	fields := []any{
		slog.String("operation", string(OpCompute)),
		slog.String("key", shortKey(key)),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.Bool("success", err == nil),
	}
	if err != nil {
		fields = append(fields, slog.String("error", err.Error()))
		logger.WarnContext(ctx, "artifact computation failed", fields...)
		return
	}
	fields = append(fields, slog.Int("size", size))
	logger.DebugContext(ctx, "artifact computed", fields...)
}

func logEviction(ctx context.Context, logger *slog.Logger, key digest.Digest, size int, reason string) {
	logger.DebugContext(ctx, "cache entry evicted",
		slog.String("operation", string(OpEvict)),
		slog.String("key", shortKey(key)),
		slog.Int("size", size),
		slog.String("reason", reason))
}

func shortKey(key digest.Digest) string {
	enc := key.Encoded()
	if len(enc) > 12 {
		return enc[:12]
	}
	return enc
}
