package kafka

import "github.com/Shopify/sarama"

// Config 生产端配置
type Config struct {
	Brokers           []string
	Topic             string
	Retries           int
	Compression       string // none/snappy/lz4/zstd
	Version           sarama.KafkaVersion
	EnsureTopic       bool  // create the topic on start if missing
	Partitions        int32 // used by EnsureTopic
	ReplicationFactor int16 // used by EnsureTopic
}

func DefaultConfig() Config {
	return Config{
		Brokers:           []string{"127.0.0.1:9092"},
		Topic:             "chat.room-events",
		Retries:           5,
		Compression:       "snappy",
		Version:           sarama.V2_1_0_0,
		Partitions:        8,
		ReplicationFactor: 1,
	}
}
