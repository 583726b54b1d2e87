package kafka

import (
	"context"
	"strconv"
	"time"

	"PPRoom/service/chat"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// RoomSink writes room events to one topic keyed by room id.
type RoomSink struct {
	p     sarama.SyncProducer
	topic string
	node  string
}

func NewRoomSink(p sarama.SyncProducer, topic, node string) *RoomSink {
	return &RoomSink{p: p, topic: topic, node: node}
}

func (k *RoomSink) Name() string { return "kafka" }

func (k *RoomSink) Message(ev chat.RoomEvent) *sarama.ProducerMessage {
	hdrs := []sarama.RecordHeader{
		{Key: []byte("event-kind"), Value: []byte(ev.Kind)},
	}
	if k.node != "" {
		hdrs = append(hdrs, sarama.RecordHeader{Key: []byte("node-id"), Value: []byte(k.node)})
	}
	return &sarama.ProducerMessage{
		Topic:     k.topic,
		Key:       sarama.StringEncoder(strconv.FormatInt(int64(ev.Room), 10)),
		Value:     sarama.ByteEncoder(ev.Payload),
		Headers:   hdrs,
		Timestamp: ev.At,
	}
}

// Publish blocks until the broker acks. SyncProducer takes no context, so a
// done ctx is only checked before sending.
func (k *RoomSink) Publish(ctx context.Context, ev chat.RoomEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := k.Message(ev)
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if _, _, err := k.p.SendMessage(msg); err != nil {
		return errors.Wrapf(err, "kafka send topic=%s room=%d", k.topic, ev.Room)
	}
	return nil
}
