package repository

import (
	"context"
	"time"
)

// CacheRepository defines the key/value operations used on redis.
type CacheRepository interface {
	Delete(ctx context.Context, key string) error
	// SetNX sets the key only if it does not exist and reports whether it was set.
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Ping(ctx context.Context) error
}
