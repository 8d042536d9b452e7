package redis

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewClient builds a client from either a redis:// URL or a bare host:port.
func NewClient(addr string) (*redis.Client, error) {
	if !strings.Contains(addr, "://") {
		return redis.NewClient(&redis.Options{Addr: addr}), nil
	}

	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
