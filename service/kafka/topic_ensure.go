package kafka

import (
	"strconv"

	"PPRelay/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TopicSpec 期望的 topic 形态
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

// EnsureTopic creates the topic when missing and grows its partition count
// when below spec. Kafka cannot shrink partitions, so more is left alone.
func EnsureTopic(admin sarama.ClusterAdmin, spec TopicSpec, log *zap.Logger) error {
	if spec.Partitions <= 0 {
		spec.Partitions = 1
	}
	if spec.ReplicationFactor <= 0 {
		spec.ReplicationFactor = 1
	}
	descs, err := admin.DescribeTopics([]string{spec.Name})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", spec.Name)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		// rf>=3 时至少两个同步副本
		minISR := "1"
		if spec.ReplicationFactor >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(spec.Name, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("topic exists (race)", zap.String("topic", spec.Name))
				return nil
			}
			return errs.WrapMsg(err, "create topic", "topic", spec.Name)
		}
		log.Info("topic created", zap.String("topic", spec.Name),
			zap.Int32("partitions", spec.Partitions), zap.Int16("rf", spec.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if spec.Partitions > cur {
		if err := admin.CreatePartitions(spec.Name, spec.Partitions, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", spec.Name,
				"from", strconv.Itoa(int(cur)), "to", strconv.Itoa(int(spec.Partitions)))
		}
		log.Info("topic partitions expanded", zap.String("topic", spec.Name), zap.Int32("from", cur), zap.Int32("to", spec.Partitions))
		return nil
	}
	log.Debug("topic exists", zap.String("topic", spec.Name), zap.Int32("partitions", cur))
	return nil
}

func strPtr(s string) *string { return &s }
