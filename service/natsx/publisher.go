package natsx

import (
	"context"
	"encoding/json"

	"PPRelay/global"
	"PPRelay/global/config"
	"PPRelay/module/message"
	"PPRelay/tools/errs"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	HeaderMsgID   = "Nats-Msg-Id" // JetStream 按它去重
	HeaderEvent   = "Event"
	HeaderGateway = "Gateway"
)

type corePublisher interface {
	PublishMsg(m *nats.Msg) error
}

type jsPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Publisher 每个房间一个 subject：<prefix>.<roomId>
type Publisher struct {
	nc     *nats.Conn
	core   corePublisher
	js     jsPublisher // 非 nil 时走 JetStream
	prefix string
	log    *zap.Logger
}

func NewPublisher(nc *nats.Conn, c config.NatsConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{nc: nc, core: nc, prefix: c.SubjectPrefix, log: log}
	if c.JetStream {
		js, err := nc.JetStream(nats.PublishAsyncMaxPending(4096))
		if err != nil {
			return nil, errs.WrapMsg(err, "init jetstream")
		}
		p.js = js
	}
	return p, nil
}

func (p *Publisher) Publish(ctx context.Context, rec *message.Record) error {
	msg, err := p.buildMsg(rec)
	if err != nil {
		return err
	}
	if p.js != nil {
		ack, err := p.js.PublishMsg(msg, nats.Context(ctx))
		if err != nil {
			return errs.WrapMsg(err, "jetstream publish", "subject", msg.Subject, "id", rec.ID)
		}
		p.log.Debug("record published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence),
			zap.Bool("duplicate", ack.Duplicate))
		return nil
	}
	if err := p.core.PublishMsg(msg); err != nil {
		return errs.WrapMsg(err, "nats publish", "subject", msg.Subject, "id", rec.ID)
	}
	return nil
}

func (p *Publisher) buildMsg(rec *message.Record) (*nats.Msg, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, errs.WrapMsg(err, "marshal record", "id", rec.ID)
	}
	msg := nats.NewMsg(global.RoomSubject(p.prefix, rec.RoomID))
	msg.Data = data
	msg.Header.Set(HeaderMsgID, rec.ID)
	msg.Header.Set(HeaderEvent, rec.Event)
	msg.Header.Set(HeaderGateway, rec.GatewayID)
	return msg, nil
}

// Close 发送完缓冲区后断开
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
