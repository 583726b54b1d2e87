package natsx

import (
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// NatsxConfig 客户端配置
type NatsxConfig struct {
	Servers         []string
	Name            string
	User            string
	Password        string
	ReconnectWait   time.Duration
	Timeout         time.Duration
	PublishAsyncMax int
	JetStream       bool // publish through JetStream and wait for the stream ack
}

// NatsxClient wraps one NATS connection and, when enabled, its JetStream context.
type NatsxClient struct {
	cfg NatsxConfig
	nc  *nats.Conn

	jsOnce sync.Once
	js     nats.JetStreamContext
	jsErr  error
}

func NewNatsxClient(cfg NatsxConfig) (*NatsxClient, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.PublishAsyncMax == 0 {
		cfg.PublishAsyncMax = 4096
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}
	c := &NatsxClient{cfg: cfg, nc: nc}
	if cfg.JetStream {
		if err := c.ensureJS(); err != nil {
			nc.Close()
			return nil, errors.Wrap(err, "init jetstream")
		}
	}
	return c, nil
}

// Close drains pending publishes before closing.
func (c *NatsxClient) Close() error {
	if c == nil || c.nc == nil {
		return nil
	}
	return c.nc.Drain()
}

func (c *NatsxClient) ensureJS() error {
	c.jsOnce.Do(func() {
		c.js, c.jsErr = c.nc.JetStream(nats.PublishAsyncMaxPending(c.cfg.PublishAsyncMax))
	})
	return c.jsErr
}
