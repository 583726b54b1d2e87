package global

import (
	"context"
	"strconv"
	"time"

	"PPRoom/global/config"
	"PPRoom/logger"
	mid "PPRoom/middleware"
	"PPRoom/service/chat"
	ka "PPRoom/service/kafka"
	"PPRoom/service/natsx"
	"PPRoom/service/storage"
	redis "PPRoom/service/storage/redis"
	"PPRoom/tools/ids"
	"PPRoom/tools/security"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// NodeName identifies this process in presence members and event headers.
func NodeName(cfg config.AppConfig) string {
	return "node-" + strconv.FormatInt(cfg.NodeID, 10)
}

func ConfigLogger(cfg config.AppConfig) {
	logger.Init(cfg.Log.Level, cfg.Log.Encoding)
}

func ConfigIds(cfg config.AppConfig) {
	ids.SetNodeID(cfg.NodeID)
}

func ConfigMiddleware(cfg config.AppConfig) {
	mid.Manager().Add(mid.Origin(cfg.HTTP.AllowedOrigins))
}

func JwtOptions(cfg config.AppConfig) security.Options {
	opts := security.DefaultOptions([]byte(cfg.Auth.Secret))
	if cfg.Auth.Alg != "" {
		opts.Alg = cfg.Auth.Alg
	}
	opts.Leeway = cfg.Auth.Leeway
	return opts
}

// ConfigStore opens the configured store. The returned func releases it.
func ConfigStore(ctx context.Context, cfg config.AppConfig) (storage.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("[Store] in-memory store: state is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	case config.StoreDriverPostgres:
		pool, err := storage.OpenPool(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		st := storage.NewPgStore(pool)
		if cfg.Store.Migrate {
			mctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			err := st.Migrate(mctx)
			cancel()
			if err != nil {
				pool.Close()
				return nil, nil, errors.Wrap(err, "migrate")
			}
			logger.Info("[Store] schema ensured")
		}
		return st, pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// ConfigPresenceIndex returns the Redis-backed index when redis.addr is set and
// nil otherwise, which selects the in-process index.
func ConfigPresenceIndex(ctx context.Context, cfg config.AppConfig) (chat.PresenceIndex, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	rdb, err := redis.Open(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, nil, err
	}
	idx := storage.NewRedisPresenceIndex(rdb, storage.OnlineConfig{
		NodeID: NodeName(cfg),
		TTL:    cfg.Redis.PresenceTTL,
	})
	logger.Log.Info("[Redis] presence index ready", zap.String("addr", cfg.Redis.Addr))
	return idx, func() { _ = rdb.Close() }, nil
}

// ConfigSinks connects every configured event bus. A bus that fails to connect
// fails startup; an unconfigured bus is skipped.
func ConfigSinks(cfg config.AppConfig) ([]chat.EventSink, func(), error) {
	var (
		sinks   []chat.EventSink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if len(cfg.Nats.Servers) > 0 {
		nc, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers:   cfg.Nats.Servers,
			Name:      cfg.Nats.Name,
			User:      cfg.Nats.User,
			Password:  cfg.Nats.Password,
			JetStream: cfg.Nats.JetStream,
		})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = nc.Close() })
		sinks = append(sinks, natsx.NewRoomSink(nc, cfg.Nats.SubjectPrefix, NodeName(cfg)))
		logger.Log.Info("[NATS] sink ready", zap.Strings("servers", cfg.Nats.Servers), zap.Bool("jetstream", cfg.Nats.JetStream))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kc := ka.DefaultConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.Topic = cfg.Kafka.Topic
		kc.Compression = cfg.Kafka.Compression
		kc.Retries = cfg.Kafka.Retries
		kc.EnsureTopic = cfg.Kafka.EnsureTopic
		kc.Partitions = cfg.Kafka.Partitions
		kc.ReplicationFactor = cfg.Kafka.ReplicationFactor
		client, producer, err := ka.Open(kc)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			_ = producer.Close()
			_ = client.Close()
		})
		sinks = append(sinks, ka.NewRoomSink(producer, kc.Topic, NodeName(cfg)))
		logger.Log.Info("[Kafka] sink ready", zap.Strings("brokers", kc.Brokers), zap.String("topic", kc.Topic))
	}
	return sinks, closeAll, nil
}
