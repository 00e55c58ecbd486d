package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"PPRelay/global/config"
	"PPRelay/module/message"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"go.uber.org/zap"
)

func TestBuildBaseConfig(t *testing.T) {
	cfg, err := BuildBaseConfig(config.KafkaConfig{Version: "2.1.0", Compression: "LZ4", Retries: 0})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Version != sarama.V2_1_0_0 {
		t.Fatalf("version = %v", cfg.Version)
	}
	if cfg.Producer.Compression != sarama.CompressionLZ4 || cfg.Producer.Retry.Max != 1 {
		t.Fatalf("producer = %+v", cfg.Producer)
	}
	if cfg.Producer.RequiredAcks != sarama.WaitForAll || !cfg.Producer.Return.Successes {
		t.Fatal("sync producer needs acks and successes")
	}

	if _, err := BuildBaseConfig(config.KafkaConfig{Version: "banana"}); err == nil {
		t.Fatal("bad version should fail")
	}
	if compressionCodec("unknown") != sarama.CompressionNone {
		t.Fatal("unknown codec should fall back to none")
	}
}

func TestPublisherPublish(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	text := "hi"
	rec := message.NewRecord("gw-1", "c1", "lobby", "new_message", "alice", &text)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got message.Record
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.ID != rec.ID || got.RoomID != "lobby" || got.Text() != "hi" {
			return errors.New("unexpected record")
		}
		return nil
	})

	p := NewPublisherFromProducer(sp, "pprelay.room-events", zap.NewNop())
	if err := p.Publish(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPublisherSendFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := NewPublisherFromProducer(sp, "t", nil)

	err := p.Publish(context.Background(), message.NewRecord("gw", "c", "r", "join_room", "u", nil))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("err = %v", err)
	}
	_ = p.Close()
}

func TestPublisherCancelledContext(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	p := NewPublisherFromProducer(sp, "t", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Publish(ctx, message.NewRecord("gw", "c", "r", "join_room", "u", nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	_ = p.Close()
}

// fakeAdmin implements only what EnsureTopic calls.
type fakeAdmin struct {
	sarama.ClusterAdmin
	existing  map[string]int
	created   map[string]*sarama.TopicDetail
	expanded  map[string]int32
	createErr error
}

func (f *fakeAdmin) DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error) {
	out := make([]*sarama.TopicMetadata, 0, len(topics))
	for _, name := range topics {
		n, ok := f.existing[name]
		if !ok {
			out = append(out, &sarama.TopicMetadata{Name: name, Err: sarama.ErrUnknownTopicOrPartition})
			continue
		}
		md := &sarama.TopicMetadata{Name: name, Err: sarama.ErrNoError}
		for i := 0; i < n; i++ {
			md.Partitions = append(md.Partitions, &sarama.PartitionMetadata{ID: int32(i)})
		}
		out = append(out, md)
	}
	return out, nil
}

func (f *fakeAdmin) CreateTopic(topic string, detail *sarama.TopicDetail, _ bool) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created[topic] = detail
	return nil
}

func (f *fakeAdmin) CreatePartitions(topic string, count int32, _ [][]int32, _ bool) error {
	f.expanded[topic] = count
	return nil
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{existing: map[string]int{}, created: map[string]*sarama.TopicDetail{}, expanded: map[string]int32{}}
}

func TestEnsureTopic(t *testing.T) {
	log := zap.NewNop()

	a := newFakeAdmin()
	if err := EnsureTopic(a, TopicSpec{Name: "events", Partitions: 8, ReplicationFactor: 3}, log); err != nil {
		t.Fatal(err)
	}
	td := a.created["events"]
	if td == nil || td.NumPartitions != 8 || *td.ConfigEntries["min.insync.replicas"] != "2" {
		t.Fatalf("created = %+v", td)
	}

	a = newFakeAdmin()
	a.existing["events"] = 4
	if err := EnsureTopic(a, TopicSpec{Name: "events", Partitions: 8}, log); err != nil {
		t.Fatal(err)
	}
	if a.expanded["events"] != 8 {
		t.Fatalf("expanded = %v", a.expanded)
	}

	a = newFakeAdmin()
	a.existing["events"] = 16
	if err := EnsureTopic(a, TopicSpec{Name: "events", Partitions: 8}, log); err != nil {
		t.Fatal(err)
	}
	if len(a.expanded) != 0 || len(a.created) != 0 {
		t.Fatal("larger topic must be left alone")
	}

	a = newFakeAdmin()
	a.createErr = &sarama.TopicError{Err: sarama.ErrTopicAlreadyExists}
	if err := EnsureTopic(a, TopicSpec{Name: "events"}, log); err != nil {
		t.Fatalf("creation race should be tolerated: %v", err)
	}
}
