package natsx

import (
	"context"
	"strconv"
	"time"

	"PPRoom/service/chat"
)

// Sender is the publish half of NatsxClient.
type Sender interface {
	Send(ctx context.Context, subject string, data []byte, hdr map[string]string) error
}

// RoomSink publishes room events on <prefix>.room.<room_id>.<kind>.
type RoomSink struct {
	s       Sender
	prefix  string
	node    string
	Retries int
	Backoff time.Duration
}

func NewRoomSink(s Sender, prefix, node string) *RoomSink {
	if prefix == "" {
		prefix = "chat"
	}
	return &RoomSink{s: s, prefix: prefix, node: node, Retries: 2, Backoff: 100 * time.Millisecond}
}

func (k *RoomSink) Name() string { return "nats" }

func (k *RoomSink) Subject(ev chat.RoomEvent) string {
	return k.prefix + ".room." + strconv.FormatInt(int64(ev.Room), 10) + "." + string(ev.Kind)
}

// Publish retries with a fixed backoff until ctx ends.
func (k *RoomSink) Publish(ctx context.Context, ev chat.RoomEvent) error {
	subject := k.Subject(ev)
	hdr := map[string]string{
		"Room-Id":    strconv.FormatInt(int64(ev.Room), 10),
		"Event-Kind": string(ev.Kind),
		"Event-At":   ev.At.UTC().Format(time.RFC3339Nano),
	}
	if k.node != "" {
		hdr["Node-Id"] = k.node
	}

	var err error
	for i := 0; i <= k.Retries; i++ {
		if err = k.s.Send(ctx, subject, ev.Payload, hdr); err == nil {
			return nil
		}
		if i == k.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(k.Backoff):
		}
	}
	return err
}
