package kafka

import (
	"context"
	"encoding/json"

	"PPRelay/global"
	"PPRelay/global/config"
	"PPRelay/module/message"
	"PPRelay/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Publisher 把已派发的房间事件写入一个 topic，Key = room:<roomId>
type Publisher struct {
	client   sarama.Client // 可为 nil（外部注入 producer 时）
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// NewPublisher dials the brokers, optionally ensures the topic and starts a
// sync producer on the shared client.
func NewPublisher(c config.KafkaConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}

	if c.EnsureTopic {
		// admin 与 producer 共用 client；admin.Close 会关掉 client，所以不关 admin
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		spec := TopicSpec{Name: c.Topic, Partitions: c.Partitions, ReplicationFactor: c.ReplicationFactor}
		if err := EnsureTopic(admin, spec, log); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	pub := NewPublisherFromProducer(p, c.Topic, log)
	pub.client = client
	return pub, nil
}

func NewPublisherFromProducer(p sarama.SyncProducer, topic string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{producer: p, topic: topic, log: log}
}

func (p *Publisher) Publish(ctx context.Context, rec *message.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return errs.WrapMsg(err, "marshal record", "id", rec.ID)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(global.RoomTopicKey(rec.RoomID)),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(rec.Event)},
			{Key: []byte("gateway"), Value: []byte(rec.GatewayID)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", p.topic, "id", rec.ID)
	}
	p.log.Debug("record published", zap.String("topic", p.topic), zap.Int32("partition", partition),
		zap.Int64("offset", offset), zap.String("id", rec.ID))
	return nil
}

func (p *Publisher) Close() error {
	err := p.producer.Close()
	if p.client != nil {
		if cerr := p.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
