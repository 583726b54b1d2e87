package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"` // empty = allow all
}

type AuthConfig struct {
	Secret string        `yaml:"secret"`
	Alg    string        `yaml:"alg"`
	Leeway time.Duration `yaml:"leeway"`
}

type StoreConfig struct {
	Driver   string        `yaml:"driver"`
	DSN      string        `yaml:"dsn"`
	MaxConns int32         `yaml:"max_conns"`
	Timeout  time.Duration `yaml:"timeout"` // per storage call
	Migrate  bool          `yaml:"migrate"`
}

type RedisConfig struct {
	Addr        string        `yaml:"addr"` // empty = in-process presence index
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	PresenceTTL time.Duration `yaml:"presence_ttl"`
}

type SessionConfig struct {
	SendQueue         int           `yaml:"send_queue"`
	ReadLimit         int64         `yaml:"read_limit"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongWait          time.Duration `yaml:"pong_wait"`
	WriteWait         time.Duration `yaml:"write_wait"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	SweepEvery        time.Duration `yaml:"sweep_every"`
	MaxDecodeFailures int           `yaml:"max_decode_failures"` // 0 = never close on bad frames
}

type NatsConfig struct {
	Servers       []string `yaml:"servers"` // empty = sink disabled
	Name          string   `yaml:"name"`
	User          string   `yaml:"user"`
	Password      string   `yaml:"password"`
	SubjectPrefix string   `yaml:"subject_prefix"`
	JetStream     bool     `yaml:"jetstream"`
}

type KafkaConfig struct {
	Brokers           []string `yaml:"brokers"` // empty = sink disabled
	Topic             string   `yaml:"topic"`
	Compression       string   `yaml:"compression"`
	Retries           int      `yaml:"retries"`
	EnsureTopic       bool     `yaml:"ensure_topic"`
	Partitions        int32    `yaml:"partitions"`
	ReplicationFactor int16    `yaml:"replication_factor"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

type AppConfig struct {
	NodeID  int64         `yaml:"node_id"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`
	Nats    NatsConfig    `yaml:"nats"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Log     LogConfig     `yaml:"log"`
}

// Default mirrors the values used when neither file nor environment set a field.
func Default() AppConfig {
	return AppConfig{
		NodeID: 1,
		HTTP:   HTTPConfig{Addr: ":8080"},
		Auth:   AuthConfig{Alg: "HS256"},
		Store: StoreConfig{
			Driver:   StoreDriverPostgres,
			MaxConns: 20,
			Timeout:  3 * time.Second,
		},
		Redis: RedisConfig{PoolSize: 20, PresenceTTL: 2 * time.Minute},
		Session: SessionConfig{
			SendQueue:    256,
			ReadLimit:    1 << 16,
			PingInterval: 25 * time.Second,
			PongWait:     60 * time.Second,
			WriteWait:    10 * time.Second,
			IdleTimeout:  30 * time.Minute,
			SweepEvery:   30 * time.Second,
		},
		Nats:  NatsConfig{Name: "pproom", SubjectPrefix: "chat"},
		Kafka: KafkaConfig{Topic: "chat-room-events", Compression: "snappy", Retries: 5, Partitions: 8, ReplicationFactor: 1},
		Log:   LogConfig{Level: "info", Encoding: "console"},
	}
}

// Load reads path (if non-empty), applies environment overrides and validates.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	cfg.norm()
	return cfg, cfg.Validate()
}

func (c *AppConfig) applyEnv() {
	c.HTTP.Addr = GetEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Store.DSN = GetEnv("DATABASE_URL", c.Store.DSN)
	c.Store.Driver = GetEnv("STORE_DRIVER", c.Store.Driver)
	c.Redis.Addr = GetEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = GetEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Auth.Secret = GetEnv("JWT_SECRET", c.Auth.Secret)
	c.Log.Level = GetEnv("LOG_LEVEL", c.Log.Level)
	c.NodeID = int64(GetEnvInt("NODE_ID", int(c.NodeID)))
	if v := GetEnvList("NATS_SERVERS"); len(v) > 0 {
		c.Nats.Servers = v
	}
	if v := GetEnvList("KAFKA_BROKERS"); len(v) > 0 {
		c.Kafka.Brokers = v
	}
}

// norm fills zero values a partial YAML file may have cleared.
func (c *AppConfig) norm() {
	def := Default()
	s := &c.Session
	if s.SendQueue <= 0 {
		s.SendQueue = def.Session.SendQueue
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = def.Session.ReadLimit
	}
	if s.PongWait <= 0 {
		s.PongWait = def.Session.PongWait
	}
	if s.PingInterval <= 0 || s.PingInterval >= s.PongWait {
		s.PingInterval = s.PongWait * 9 / 10
	}
	if s.WriteWait <= 0 {
		s.WriteWait = def.Session.WriteWait
	}
	if s.SweepEvery <= 0 {
		s.SweepEvery = def.Session.SweepEvery
	}
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = def.Store.Timeout
	}
	if c.Redis.PresenceTTL <= 0 {
		c.Redis.PresenceTTL = def.Redis.PresenceTTL
	}
	if c.Nats.SubjectPrefix == "" {
		c.Nats.SubjectPrefix = def.Nats.SubjectPrefix
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = def.Kafka.Topic
	}
}

func (c *AppConfig) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret (JWT_SECRET) is required")
	}
	switch c.Store.Driver {
	case StoreDriverMemory:
	case StoreDriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn (DATABASE_URL) is required for the postgres driver")
		}
	default:
		return errors.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if c.Redis.Addr != "" && c.Redis.PresenceTTL < c.Session.SweepEvery*2 {
		return errors.Errorf("redis.presence_ttl (%s) must be at least twice session.sweep_every (%s)",
			c.Redis.PresenceTTL, c.Session.SweepEvery)
	}
	return nil
}

func GetEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// GetEnvList splits a comma separated variable, dropping blanks.
func GetEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
