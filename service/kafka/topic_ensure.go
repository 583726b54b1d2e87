package kafka

import (
	"PPRoom/logger"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// EnsureTopic creates topic when missing and grows its partition count when it
// is below c.Partitions. Kafka never shrinks partitions.
func EnsureTopic(admin sarama.ClusterAdmin, topic string, c Config) error {
	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return errors.Wrapf(err, "describe topic %s", topic)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError
	if c.Partitions <= 0 {
		c.Partitions = 1
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}

	if !exists {
		minISR := "1"
		if c.ReplicationFactor >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     c.Partitions,
			ReplicationFactor: c.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Log.Info("[Topic] exists (race)", zap.String("topic", topic))
				return nil
			}
			return errors.Wrapf(err, "create topic %s", topic)
		}
		logger.Log.Info("[Topic] created", zap.String("topic", topic),
			zap.Int32("partitions", c.Partitions), zap.Int16("rf", c.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if c.Partitions > cur {
		if err := admin.CreatePartitions(topic, c.Partitions, nil, false); err != nil {
			return errors.Wrapf(err, "expand partitions %s from %d to %d", topic, cur, c.Partitions)
		}
		logger.Log.Info("[Topic] partitions expanded", zap.String("topic", topic),
			zap.Int32("from", cur), zap.Int32("to", c.Partitions))
		return nil
	}
	logger.Log.Info("[Topic] exists", zap.String("topic", topic), zap.Int32("partitions", cur))
	return nil
}

func strPtr(s string) *string { return &s }
