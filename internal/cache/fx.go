package cache

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewStore),
)

// NewStore prefers redis and falls back to an in-process store.
func NewStore(client *redis.Client) Store {
	if store := NewRedisStore(client); store != nil {
		return store
	}
	return NewMemoryStore(0)
}
