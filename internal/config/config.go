package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverBolt     = "bolt"

	BlobDriverMinio      = "minio"
	BlobDriverFilesystem = "filesystem"
)

// HTTPConfig.TrustedProxies lists the proxy CIDRs whose forwarding headers
// are believed. Empty means the socket address is the client IP.
type HTTPConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	TrustedProxies []string
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

type BoltConfig struct {
	Path    string
	Timeout time.Duration
}

type RedisConfig struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Stream    string
	Group     string
	Consumer  string
}

type StorageConfig struct {
	Driver    string
	Dir       string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type StoreConfig struct {
	Driver   string
	CacheTTL time.Duration
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

type SecurityConfig struct {
	SessionSecret string
	CookieName    string
	LoginLimit    RateLimitConfig
	APILimit      RateLimitConfig
}

type UploadConfig struct {
	MaxFiles    int
	MaxFileSize int64
}

type JobsConfig struct {
	CleanupSchedule string
}

type QueueConfig struct {
	ClaimInterval time.Duration
	Embedded      bool
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Bolt             BoltConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Store            StoreConfig
	Security         SecurityConfig
	Upload           UploadConfig
	Jobs             JobsConfig
	Queues           QueueConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}

// EmbeddedConsumer reports whether the API process consumes the task stream
// itself. The bolt file is locked by the API, so a separate worker could
// never open it and bolt always implies the embedded consumer.
func (c *AppConfig) EmbeddedConsumer() bool {
	return c.Queues.Embedded || c.Store.Driver == StoreDriverBolt
}

func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("CERTPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for the postgres store")
		}
	case StoreDriverBolt:
		if c.Bolt.Path == "" {
			return errors.New("config: bolt.path is required for the bolt store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}

	switch c.Storage.Driver {
	case BlobDriverMinio:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			return errors.New("config: storage.endpoint and storage.bucket are required for minio")
		}
	case BlobDriverFilesystem:
		if c.Storage.Dir == "" {
			return errors.New("config: storage.dir is required for the filesystem driver")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.Security.SessionSecret == "" {
		if c.IsProduction() {
			return errors.New("config: security.sessionsecret must be set in production")
		}
		c.Security.SessionSecret = "development-only-session-secret"
	}
	if c.Upload.MaxFiles <= 0 || c.Upload.MaxFileSize <= 0 {
		return errors.New("config: upload limits must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "30s")
	v.SetDefault("http.writetimeout", "60s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.trustedproxies", []string{})

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 20)
	v.SetDefault("postgres.maxidle", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.automigrate", true)

	v.SetDefault("bolt.path", "data/certportal.db")
	v.SetDefault("bolt.timeout", "1s")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyprefix", "certportal")
	v.SetDefault("redis.stream", "certportal:tasks")
	v.SetDefault("redis.group", "certportal-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("storage.driver", BlobDriverFilesystem)
	v.SetDefault("storage.dir", "data/certificates")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "certificates")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("store.driver", StoreDriverBolt)
	v.SetDefault("store.cachettl", "30s")

	v.SetDefault("security.sessionsecret", "")
	v.SetDefault("security.cookiename", "auth-session")
	v.SetDefault("security.loginlimit.limit", 5)
	v.SetDefault("security.loginlimit.window", "15m")
	v.SetDefault("security.apilimit.limit", 60)
	v.SetDefault("security.apilimit.window", "1m")

	v.SetDefault("upload.maxfiles", 10)
	v.SetDefault("upload.maxfilesize", 10<<20)

	v.SetDefault("jobs.cleanupschedule", "0 0 0 * * *")

	v.SetDefault("queues.claiminterval", "30s")
	v.SetDefault("queues.embedded", false)

	v.SetDefault("logging.level", "info")

	v.SetDefault("allowcorsorigins", []string{})
}
