package storage

import (
	"context"
	"time"

	"PPRelay/global"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// presenceClient is the part of *redis.Client the presence store needs.
type presenceClient interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisPresence 在线状态：每个连接一条 key，值为网关 ID，TTL 控制有效期。
// 网关崩溃时 key 自然过期，不需要额外清理。
type RedisPresence struct {
	rdb       presenceClient
	gatewayID string
	ttl       time.Duration
}

func NewRedisPresence(rdb presenceClient, gatewayID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 75 * time.Second
	}
	return &RedisPresence{rdb: rdb, gatewayID: gatewayID, ttl: ttl}
}

func (p *RedisPresence) Online(ctx context.Context, userID, connID string) error {
	key := global.PresenceKey(userID, connID)
	if err := p.rdb.Set(ctx, key, p.gatewayID, p.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence online", "key", key)
	}
	return nil
}

// Refresh renews the TTL, recreating the key if it already expired.
func (p *RedisPresence) Refresh(ctx context.Context, userID, connID string) error {
	key := global.PresenceKey(userID, connID)
	ok, err := p.rdb.Expire(ctx, key, p.ttl).Result()
	if err != nil {
		return errs.WrapMsg(err, "presence refresh", "key", key)
	}
	if !ok {
		return p.Online(ctx, userID, connID)
	}
	return nil
}

func (p *RedisPresence) Offline(ctx context.Context, userID, connID string) error {
	key := global.PresenceKey(userID, connID)
	if err := p.rdb.Del(ctx, key).Err(); err != nil {
		return errs.WrapMsg(err, "presence offline", "key", key)
	}
	return nil
}
