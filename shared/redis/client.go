package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

var ErrRedisNotReady = errors.New("redis is not ready")

// Config holds Redis connection configuration
type Config struct {
	Addr          string
	Password      string
	DB            int
	RetryAttempts int
	RetryInterval time.Duration
}

// Connect opens a client and pings the server until it answers or the
// attempts run out.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*goredis.Client, error) {
	attempts := max(cfg.RetryAttempts, 1)
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			logger.Info("Connected to Redis", slog.String("addr", cfg.Addr), slog.Int("db", cfg.DB))
			return client, nil
		}
		_ = client.Close()

		logger.Error("Failed to connect to Redis",
			slog.Any("error", lastErr),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		if attempt < attempts {
			select {
			case <-ctx.Done():
				return nil, errors.Join(ErrRedisNotReady, ctx.Err())
			case <-time.After(interval):
			}
		}
	}

	return nil, errors.Join(ErrRedisNotReady, fmt.Errorf("after %d attempts: %w", attempts, lastErr))
}
