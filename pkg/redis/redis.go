package redis

import (
	"context"
	"fmt"
	"time"

	"incentive-controlplane/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the shared client plus the advisory Locker built on it.
var Module = fx.Module("redis",
	fx.Provide(New, NewLocker),
)

const (
	connectAttempts = 5
	connectBackoff  = 3 * time.Second
)

func New(lc fx.Lifecycle, c *config.Config) (*redis.Client, error) {
	log := zap.L().With(
		zap.String("addr", c.Redis.Addr),
		zap.Int("db", c.Redis.DB),
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	var err error
	for i := 1; i <= connectAttempts; i++ {
		if err = rdb.Ping(context.Background()).Err(); err == nil {
			break
		}
		log.Warn("[Redis] not ready, retrying", zap.Int("attempt", i), zap.Duration("backoff", connectBackoff), zap.Error(err))
		time.Sleep(connectBackoff)
	}
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable after %d attempts: %w", c.Redis.Addr, connectAttempts, err)
	}
	log.Info("[Redis] connected")

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb, nil
}
