package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                    string   `mapstructure:"env"`
	Port                   int      `mapstructure:"port"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	CORSOrigins            []string `mapstructure:"cors_origins"`
}

func (a AppConfig) Addr() string { return fmt.Sprintf(":%d", a.Port) }

type MongoConfig struct {
	URI                   string `mapstructure:"uri"`
	DB                    string `mapstructure:"db"`
	OpTimeoutSeconds      int    `mapstructure:"op_timeout_seconds"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

type RedisConfig struct {
	Addr               string `mapstructure:"addr"`
	Password           string `mapstructure:"password"`
	DB                 int    `mapstructure:"db"`
	Prefix             string `mapstructure:"prefix"`
	PresenceTTLSeconds int    `mapstructure:"presence_ttl_seconds"`
}

type EventsConfig struct {
	Driver                 string   `mapstructure:"driver"` // kafka | nats | none
	KafkaBrokers           []string `mapstructure:"kafka_brokers"`
	KafkaTopic             string   `mapstructure:"kafka_topic"`
	NATSURL                string   `mapstructure:"nats_url"`
	NATSPrefix             string   `mapstructure:"nats_subject_prefix"`
	QueueSize              int      `mapstructure:"queue_size"`
	BreakerMaxFailures     uint32   `mapstructure:"breaker_max_failures"`
	BreakerCooldownSeconds int      `mapstructure:"breaker_cooldown_seconds"`
}

type JWTConfig struct {
	Alg           string `mapstructure:"alg"` // HS256 | RS256
	Secret        string `mapstructure:"secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type WSConfig struct {
	PingIntervalSeconds  int     `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds      int     `mapstructure:"pong_wait_seconds"`
	WriteDeadlineSeconds int     `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64   `mapstructure:"max_message_size_bytes"`
	SendBuffer           int     `mapstructure:"send_buffer"`
	EventsPerSecond      float64 `mapstructure:"events_per_second"`
	Burst                int     `mapstructure:"burst"`
}

type HTTPConfig struct {
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // mongo | memory
}

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Mongo  MongoConfig  `mapstructure:"mongo"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Events EventsConfig `mapstructure:"events"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	WS     WSConfig     `mapstructure:"ws"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	Store  StoreConfig  `mapstructure:"store"`

	// derived
	ShutdownTimeout time.Duration `mapstructure:"-"`
	OpTimeout       time.Duration `mapstructure:"-"`
	ConnectTimeout  time.Duration `mapstructure:"-"`
	PresenceTTL     time.Duration `mapstructure:"-"`
	BreakerCooldown time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
	PongWait        time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.shutdown_timeout_seconds", 15)
	v.SetDefault("app.cors_origins", []string{"*"})

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.db", "churchconnect")
	v.SetDefault("mongo.op_timeout_seconds", 5)
	v.SetDefault("mongo.connect_timeout_seconds", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "churchconnect")
	v.SetDefault("redis.presence_ttl_seconds", 3600)

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.kafka_brokers", []string{"localhost:9092"})
	v.SetDefault("events.kafka_topic", "churchconnect.events")
	v.SetDefault("events.nats_url", "nats://localhost:4222")
	v.SetDefault("events.nats_subject_prefix", "churchconnect")
	v.SetDefault("events.queue_size", 1024)
	v.SetDefault("events.breaker_max_failures", 5)
	v.SetDefault("events.breaker_cooldown_seconds", 30)

	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_path", "")

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.events_per_second", 20)
	v.SetDefault("ws.burst", 40)

	v.SetDefault("http.rate_limit_per_minute", 120)
	v.SetDefault("store.driver", "mongo")
}

// Load reads .env (if present), then the optional YAML file at path, then environment
// variables prefixed CHURCHCONNECT_ (e.g. CHURCHCONNECT_MONGO_URI).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHURCHCONNECT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	c.derive()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) derive() {
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.OpTimeout = time.Duration(c.Mongo.OpTimeoutSeconds) * time.Second
	c.ConnectTimeout = time.Duration(c.Mongo.ConnectTimeoutSeconds) * time.Second
	c.PresenceTTL = time.Duration(c.Redis.PresenceTTLSeconds) * time.Second
	c.BreakerCooldown = time.Duration(c.Events.BreakerCooldownSeconds) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
}

func (c *Config) validate() error {
	if c.App.Port <= 0 {
		return errors.New("app.port must be > 0")
	}
	switch strings.ToUpper(c.JWT.Alg) {
	case "HS256":
		if c.JWT.Secret == "" {
			return errors.New("jwt.secret is required for HS256")
		}
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path is required for RS256")
		}
	default:
		return fmt.Errorf("unsupported jwt.alg %q", c.JWT.Alg)
	}
	switch c.Store.Driver {
	case "mongo":
		if c.Mongo.URI == "" || c.Mongo.DB == "" {
			return errors.New("mongo.uri and mongo.db are required")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store.driver %q", c.Store.Driver)
	}
	switch c.Events.Driver {
	case "kafka":
		if len(c.Events.KafkaBrokers) == 0 || c.Events.KafkaTopic == "" {
			return errors.New("events.kafka_brokers and events.kafka_topic are required")
		}
	case "nats":
		if c.Events.NATSURL == "" {
			return errors.New("events.nats_url is required")
		}
	case "none", "":
	default:
		return fmt.Errorf("unsupported events.driver %q", c.Events.Driver)
	}
	if c.PingInterval >= c.PongWait {
		return errors.New("ws.ping_interval_seconds must be shorter than ws.pong_wait_seconds")
	}
	if c.WS.SendBuffer <= 0 {
		return errors.New("ws.send_buffer must be > 0")
	}
	return nil
}
