package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/pkg/database"
)

// Open 按 storage.driver 打开 KV 后端：memory | redis | sqlite | postgres | pebble
func Open(ctx context.Context, cfg *config.Config) (KVRepository, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return NewMemoryKVRepository(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr, DB: cfg.Storage.RedisDB})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Storage.RedisAddr, err)
		}
		return NewRedisKVRepository(client, cfg.Storage.Namespace), nil
	case "sqlite", "postgres":
		db, err := database.InitDB(cfg)
		if err != nil {
			return nil, err
		}
		return NewGormKVRepository(db), nil
	case "pebble":
		return OpenPebble(cfg.Storage.PebblePath, cfg.Storage.PebbleSync)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
