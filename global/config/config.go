package config

import (
	"strings"
	"time"

	"PPRelay/tools/errs"

	"github.com/spf13/viper"
)

const EnvPrefix = "PPRELAY"

const (
	DriverNone     = "none"
	DriverRedis    = "redis"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverKafka    = "kafka"
	DriverNats     = "nats"
)

type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	History   HistoryConfig   `mapstructure:"history"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Nats      NatsConfig      `mapstructure:"nats"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	GrpcAddr          string        `mapstructure:"grpcAddr"` // 为空则不启动 gRPC health
	ReadHeaderTimeout time.Duration `mapstructure:"readHeaderTimeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdownTimeout"`
	NodeID            int64         `mapstructure:"nodeId"` // 雪花节点 0~1023
	GatewayID         string        `mapstructure:"gatewayId"`
}

type GatewayConfig struct {
	Path              string        `mapstructure:"path"`
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
	WriteWait         time.Duration `mapstructure:"writeWait"`
	SendQueue         int           `mapstructure:"sendQueue"`
	MaxMessageSize    int64         `mapstructure:"maxMessageSize"`
	MaxPerUser        int           `mapstructure:"maxPerUser"`
	AnnounceDeparture bool          `mapstructure:"announceDeparture"`
	AllowedOrigins    []string      `mapstructure:"allowedOrigins"`
	HookWorkers       int           `mapstructure:"hookWorkers"`
	HookQueue         int           `mapstructure:"hookQueue"`
	HookTimeout       time.Duration `mapstructure:"hookTimeout"`
}

type AuthConfig struct {
	Secret  string        `mapstructure:"secret"`
	Alg     string        `mapstructure:"alg"`
	Timeout time.Duration `mapstructure:"timeout"`
	Leeway  time.Duration `mapstructure:"leeway"`
	TTL     time.Duration `mapstructure:"ttl"` // 仅 -tokengen 使用
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"poolSize"`
}

type PresenceConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type HistoryConfig struct {
	Driver string `mapstructure:"driver"`
	MaxLen int64  `mapstructure:"maxLen"` // redis stream 近似上限
}

type MongoConfig struct {
	Uri         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	Collection  string `mapstructure:"collection"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	AuthSource  string `mapstructure:"authSource"`
	MaxPoolSize int    `mapstructure:"maxPoolSize"`
	MaxRetry    int    `mapstructure:"maxRetry"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"maxConns"`
}

type PublisherConfig struct {
	Driver string `mapstructure:"driver"`
}

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Retries     int      `mapstructure:"retries"`
	Compression string   `mapstructure:"compression"` // none/snappy/lz4/zstd
	Version     string   `mapstructure:"version"`
	// EnsureTopic 启动时不存在则创建 topic，分区不足则扩容
	EnsureTopic       bool  `mapstructure:"ensureTopic"`
	Partitions        int32 `mapstructure:"partitions"`
	ReplicationFactor int16 `mapstructure:"replicationFactor"`
}

type NatsConfig struct {
	Servers       []string      `mapstructure:"servers"`
	Name          string        `mapstructure:"name"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	SubjectPrefix string        `mapstructure:"subjectPrefix"`
	JetStream     bool          `mapstructure:"jetStream"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpcAddr", ":50052")
	v.SetDefault("server.readHeaderTimeout", "5s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.nodeId", 1)
	v.SetDefault("server.gatewayId", "relay-gw-1")

	v.SetDefault("gateway.path", "/ws")
	v.SetDefault("gateway.sweepInterval", "30s")
	v.SetDefault("gateway.writeWait", "10s")
	v.SetDefault("gateway.sendQueue", 256)
	v.SetDefault("gateway.maxMessageSize", 64*1024)
	v.SetDefault("gateway.maxPerUser", 0)
	v.SetDefault("gateway.announceDeparture", true)
	v.SetDefault("gateway.allowedOrigins", []string{"*"})
	v.SetDefault("gateway.hookWorkers", 4)
	v.SetDefault("gateway.hookQueue", 1024)
	v.SetDefault("gateway.hookTimeout", "3s")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.alg", "HS256")
	v.SetDefault("auth.timeout", "3s")
	v.SetDefault("auth.leeway", "0s")
	v.SetDefault("auth.ttl", "2h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 20)

	v.SetDefault("presence.enabled", false)
	v.SetDefault("presence.ttl", "75s")

	v.SetDefault("history.driver", DriverNone)
	v.SetDefault("history.maxLen", 100_000)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "pprelay")
	v.SetDefault("mongo.collection", "room_messages")
	v.SetDefault("mongo.username", "")
	v.SetDefault("mongo.password", "")
	v.SetDefault("mongo.authSource", "")
	v.SetDefault("mongo.maxPoolSize", 20)
	v.SetDefault("mongo.maxRetry", 3)

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/pprelay")
	v.SetDefault("postgres.table", "room_messages")
	v.SetDefault("postgres.maxConns", 8)

	v.SetDefault("publisher.driver", DriverNone)

	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "pprelay.room-events")
	v.SetDefault("kafka.retries", 5)
	v.SetDefault("kafka.compression", "snappy")
	v.SetDefault("kafka.version", "2.1.0")
	v.SetDefault("kafka.ensureTopic", true)
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("kafka.replicationFactor", 1)

	v.SetDefault("nats.servers", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.name", "pprelay")
	v.SetDefault("nats.user", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.subjectPrefix", "pprelay.room")
	v.SetDefault("nats.jetStream", false)
	v.SetDefault("nats.timeout", "3s")
}

// Load reads defaults, then an optional yaml file, then PPRELAY_* env vars.
// An empty file name searches for pprelay.yaml in the working directory.
func Load(file string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("pprelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, errs.WrapMsg(err, "read config", "file", file)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Auth.Secret) == "" {
		return errs.New("auth.secret is required", "env", EnvPrefix+"_AUTH_SECRET")
	}
	if c.Gateway.SweepInterval <= 0 {
		return errs.New("gateway.sweepInterval must be positive", "value", c.Gateway.SweepInterval)
	}
	if c.Gateway.SendQueue <= 0 {
		return errs.New("gateway.sendQueue must be positive", "value", c.Gateway.SendQueue)
	}
	if c.Server.NodeID < 0 || c.Server.NodeID > 1023 {
		return errs.New("server.nodeId out of range", "value", c.Server.NodeID)
	}
	switch c.History.Driver {
	case DriverNone, DriverRedis, DriverMongo, DriverPostgres:
	default:
		return errs.New("unknown history.driver", "value", c.History.Driver)
	}
	switch c.Publisher.Driver {
	case DriverNone, DriverKafka, DriverNats:
	default:
		return errs.New("unknown publisher.driver", "value", c.Publisher.Driver)
	}
	return nil
}
