package natsx

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"PPRoom/logger"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// HeaderMsgID is the JetStream de-duplication header.
const HeaderMsgID = "Nats-Msg-Id"

func toMsg(subject string, data []byte, hdr map[string]string) *nats.Msg {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	return msg
}

// Send publishes on core NATS, or through JetStream when the client was built with it.
func (c *NatsxClient) Send(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if c.cfg.JetStream {
		return c.sendJS(ctx, subject, data, hdr)
	}
	return c.sendCore(subject, data, hdr)
}

func (c *NatsxClient) sendCore(subject string, data []byte, hdr map[string]string) error {
	if err := c.nc.PublishMsg(toMsg(subject, data, hdr)); err != nil {
		return errors.Wrap(err, "publish failed")
	}
	return nil
}

func (c *NatsxClient) sendJS(ctx context.Context, subject string, data []byte, hdr map[string]string) error {
	if hdr[HeaderMsgID] == "" {
		if hdr == nil {
			hdr = map[string]string{}
		}
		hdr[HeaderMsgID] = genMsgID()
	}
	ack, err := c.js.PublishMsg(toMsg(subject, data, hdr), nats.Context(ctx))
	if err != nil {
		return errors.Wrap(err, "jetstream publish failed")
	}
	logger.Log.Debug("[NATS] published", zap.String("stream", ack.Stream), zap.Uint64("seq", ack.Sequence))
	return nil
}

// genMsgID returns 16 random bytes, hex encoded.
func genMsgID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
