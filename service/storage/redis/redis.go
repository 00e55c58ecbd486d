package redis

import (
	"context"
	"time"

	"PPRelay/global/config"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// NewClient 建立连接并 Ping 一次；失败时关闭客户端
func NewClient(ctx context.Context, c config.RedisConfig) (*redis.Client, error) {
	if c.Addr == "" {
		return nil, errs.New("redis addr is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return rdb, nil
}
