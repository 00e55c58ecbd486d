package storage

import (
	"context"

	"PPRelay/global"
	"PPRelay/module/message"
	"PPRelay/tools/errs"

	"github.com/redis/go-redis/v9"
)

// —— 房间历史：Redis Streams，一个房间一个 stream ——

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

type RedisHistory struct {
	rdb    streamClient
	maxLen int64
}

// NewRedisHistory trims each room stream to roughly maxLen entries.
func NewRedisHistory(rdb streamClient, maxLen int64) *RedisHistory {
	if maxLen <= 0 {
		maxLen = 100_000
	}
	return &RedisHistory{rdb: rdb, maxLen: maxLen}
}

func (h *RedisHistory) Append(ctx context.Context, rec *message.Record) error {
	args := &redis.XAddArgs{
		Stream: global.RoomStreamKey(rec.RoomID),
		Values: streamValues(rec),
		Approx: true,
		MaxLen: h.maxLen,
	}
	if err := h.rdb.XAdd(ctx, args).Err(); err != nil {
		return errs.WrapMsg(err, "xadd", "stream", args.Stream, "id", rec.ID)
	}
	return nil
}

func streamValues(rec *message.Record) map[string]any {
	v := map[string]any{
		"id":      rec.ID,
		"gateway": rec.GatewayID,
		"conn":    rec.ConnID,
		"event":   rec.Event,
		"from":    rec.From,
		"ts":      rec.CreatedAt.UnixMilli(),
	}
	if rec.Message != nil {
		v["message"] = *rec.Message
	}
	return v
}
