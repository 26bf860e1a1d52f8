package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions carries the connection settings from config. Zero values
// fall back to small-service defaults.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	PoolSize int
	// IOTimeout bounds each read and write; lock acquisition polls well
	// inside it.
	IOTimeout time.Duration
}

// NewRedisClient connects and pings once so a bad address fails at startup
// rather than on the first booking.
func NewRedisClient(ctx context.Context, opts ClientOptions) (*redis.Client, error) {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 2 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		ReadTimeout:  opts.IOTimeout,
		WriteTimeout: opts.IOTimeout,
		DialTimeout:  2 * opts.IOTimeout,
		PoolSize:     opts.PoolSize,
		MinIdleConns: 1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	return rdb, nil
}
