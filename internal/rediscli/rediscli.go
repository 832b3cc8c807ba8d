// Package rediscli builds the shared go-redis client sentryd uses for
// the threat-feed cache, parsing and pinging it once at startup so
// configuration errors surface immediately instead of on first use.
package rediscli

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// New parses url and returns a client; it does not contact Redis.
// Connectivity is checked separately by Ping, whose error is returned to
// the caller rather than treated as fatal: a transient Redis outage at
// startup shouldn't prevent sentryd from running.
func New(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Ping checks connectivity with a short timeout.
func Ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
