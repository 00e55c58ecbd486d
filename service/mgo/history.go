package mgo

import (
	"context"

	"PPRelay/module/message"
	"PPRelay/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

var ErrNotReady = errs.New("mongo not ready")

// dbSource 就绪前返回 false
type dbSource interface {
	TryGetDB() (*mongo.Database, bool)
}

// History 房间消息写入 Mongo，一条 Record 一个文档，_id 即 Record.ID
type History struct {
	src        dbSource
	collection string
}

func NewHistory(src dbSource, collection string) *History {
	if collection == "" {
		collection = "room_messages"
	}
	return &History{src: src, collection: collection}
}

func (h *History) Append(ctx context.Context, rec *message.Record) error {
	db, ok := h.src.TryGetDB()
	if !ok {
		return errs.WrapMsg(ErrNotReady, "append", "id", rec.ID)
	}
	if _, err := db.Collection(h.collection).InsertOne(ctx, rec); err != nil {
		// 重复 _id 说明同一条记录被投递过两次
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return errs.WrapMsg(err, "insert room message", "collection", h.collection, "id", rec.ID)
	}
	return nil
}
