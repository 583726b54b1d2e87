package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	if c.Version != (sarama.KafkaVersion{}) {
		cfg.Version = c.Version
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.Retries <= 0 {
		c.Retries = 1
	}
	cfg.Producer.Retry.Max = c.Retries
	// the key is the room id, so one room always lands on one partition
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// Open connects to the cluster, ensures the topic when asked to and returns a
// sync producer. Closing the producer does not close the client; callers close both.
func Open(c Config) (sarama.Client, sarama.SyncProducer, error) {
	if len(c.Brokers) == 0 {
		return nil, nil, errors.New("kafka brokers missing")
	}
	if c.Topic == "" {
		return nil, nil, errors.New("kafka topic missing")
	}
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, nil, errors.Wrap(err, "kafka client")
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, nil, errors.Wrap(err, "kafka admin")
		}
		// admin.Close would close the shared client
		if err := EnsureTopic(admin, c.Topic, c); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "kafka producer")
	}
	return client, p, nil
}
