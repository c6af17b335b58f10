package config

import "time"

type Config struct {
	Service     *ServiceConfig
	Redis       *RedisConfig
	Postgres    *PostgresConfig
	Storage     *StorageConfig
	Upload      *UploadConfig
	Presence    *PresenceConfig
	Directory   *DirectoryConfig
	Feed        *FeedConfig
	NATS        *NATSConfig
	Logger      *LoggerConfig
	Tracer      *TracerConfig
	SecretToken string
	TokenTTL    time.Duration
}

type ServiceConfig struct {
	Name string
	Env  string
	Add  string

	// OpsToken guards /metrics when set.
	OpsToken string
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	AutoMigrate     bool
}

// StorageConfig points at an S3 compatible bucket.
type StorageConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PublicBaseURL   string
	KeyPrefix       string
}

type UploadConfig struct {
	MaxBytes int64
}

type PresenceConfig struct {
	Heartbeat     time.Duration
	LeaseTTL      time.Duration
	SweepInterval time.Duration
}

type DirectoryConfig struct {
	ProfileCacheSize int
	SearchLimit      int
}

// FeedConfig selects the change feed driver: "redis" or "nats".
type FeedConfig struct {
	Driver string
}

type NATSConfig struct {
	URL   string
	Token string
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracerConfig struct {
	Enabled bool
	Address string
}
