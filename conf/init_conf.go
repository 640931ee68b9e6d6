package conf

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Storage configuration
	Storage StorageConfig

	// Uploader configuration
	Uploader UploaderConfig

	// Redis configuration
	Redis RedisConfig

	// Auth configuration
	Auth AuthConfig

	// Completion hooks
	Hooks HooksConfig
}

// ServerConfig http server configuration
type ServerConfig struct {
	Port            string
	SwaggerBaseUrl  string   // Swagger API base URL (e.g., "example.com:7282")
	AllowOrigins    []string // CORS origins, empty = allow all
	ShutdownTimeout time.Duration
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	Type         string // Database type: mysql, pebble
	Dsn          string // MySQL DSN
	MaxOpenConns int    // MySQL max open connections
	MaxIdleConns int    // MySQL max idle connections
	DataDir      string // PebbleDB data directory
}

// StorageConfig storage configuration
type StorageConfig struct {
	Type          string
	PublicBaseUrl string // Prefix for local asset URLs (e.g., "https://rec.example.com/media")
	Local         LocalStorageConfig
	OSS           OSSStorageConfig
	S3            S3StorageConfig
	MinIO         MinIOStorageConfig
}

// LocalStorageConfig local storage configuration
type LocalStorageConfig struct {
	BasePath string
}

// OSSStorageConfig OSS storage configuration
type OSSStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Domain    string
}

// S3StorageConfig AWS S3 storage configuration
type S3StorageConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Domain    string
	Endpoint  string // Optional custom endpoint
	PartSize  int64  // Multipart part size in bytes
}

// MinIOStorageConfig MinIO storage configuration
type MinIOStorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Domain    string
}

// RedisConfig redis configuration
type RedisConfig struct {
	Enabled  bool   // Enable Redis (rate limits, upload locks, status cache, events)
	Host     string // Redis host
	Port     int    // Redis port
	Password string // Redis password (optional)
	DB       int    // Redis database number
	CacheTTL int    // Cache TTL in seconds (default: 300)
}

// RateLimitConfig fixed window limit
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// UploaderConfig uploader configuration
type UploaderConfig struct {
	UploadsBaseDir      string // Root for staging and local media
	StagingDir          string // Temp chunk directory, default {UploadsBaseDir}/starmus_tmp
	MaxFileSize         int64  // Bytes (configured in MB)
	TempMaxAge          time.Duration
	SweepInterval       time.Duration
	LockTimeout         time.Duration // How long a request waits for a busy upload
	LockTtl             time.Duration // Redis lock expiry, renewed while held
	EnforceTotalSize    bool
	RedirectUrlTemplate string // e.g. "/recordings/{record_id}", empty = no redirect
	SubmissionLimit     RateLimitConfig
	AnnotationLimit     RateLimitConfig
}

// TokenConfig one bearer token entry
type TokenConfig struct {
	UserId       uint64   `mapstructure:"user_id"`
	SecretHash   string   `mapstructure:"secret_hash"`
	Capabilities []string `mapstructure:"capabilities"`
}

// AuthConfig bearer token authentication
type AuthConfig struct {
	Tokens []TokenConfig
}

// WebhookConfig completion webhook target
type WebhookConfig struct {
	Url     string            `mapstructure:"url"`
	Secret  string            `mapstructure:"secret"`
	Headers map[string]string `mapstructure:"headers"`
}

// HooksConfig completion event observers
type HooksConfig struct {
	Webhooks       []WebhookConfig
	WebhookTimeout time.Duration
	WebhookWorkers int
	PublishChannel string // Redis pub/sub channel, empty = disabled
}

// Cfg global configuration instance
var Cfg *Config

// InitConfig initialize configuration
func InitConfig() error {
	v := viper.New()
	v.SetConfigFile(GetYaml())
	v.SetEnvPrefix("STARMUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("Fatal error config file: %s", err)
	}

	cfg, err := Load(v)
	if err != nil {
		return err
	}
	Cfg = cfg
	return nil
}

// Load builds a Config from an already populated viper instance and applies defaults
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			SwaggerBaseUrl:  v.GetString("server.swagger_base_url"),
			AllowOrigins:    v.GetStringSlice("server.allow_origins"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},

		Database: DatabaseConfig{
			Type:         v.GetString("database.type"),
			Dsn:          v.GetString("database.dsn"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
			DataDir:      v.GetString("database.data_dir"),
		},

		Storage: StorageConfig{
			Type:          v.GetString("storage.type"),
			PublicBaseUrl: v.GetString("storage.public_base_url"),
			Local: LocalStorageConfig{
				BasePath: v.GetString("storage.local.base_path"),
			},
			OSS: OSSStorageConfig{
				Endpoint:  v.GetString("storage.oss.endpoint"),
				AccessKey: v.GetString("storage.oss.access_key"),
				SecretKey: v.GetString("storage.oss.secret_key"),
				Bucket:    v.GetString("storage.oss.bucket"),
				Domain:    v.GetString("storage.oss.domain"),
			},
			S3: S3StorageConfig{
				Region:    v.GetString("storage.s3.region"),
				AccessKey: v.GetString("storage.s3.access_key"),
				SecretKey: v.GetString("storage.s3.secret_key"),
				Bucket:    v.GetString("storage.s3.bucket"),
				Domain:    v.GetString("storage.s3.domain"),
				Endpoint:  v.GetString("storage.s3.endpoint"),
				PartSize:  v.GetInt64("storage.s3.part_size_mb") * 1024 * 1024, // MB to bytes
			},
			MinIO: MinIOStorageConfig{
				Endpoint:  v.GetString("storage.minio.endpoint"),
				AccessKey: v.GetString("storage.minio.access_key"),
				SecretKey: v.GetString("storage.minio.secret_key"),
				Bucket:    v.GetString("storage.minio.bucket"),
				UseSSL:    v.GetBool("storage.minio.use_ssl"),
				Domain:    v.GetString("storage.minio.domain"),
			},
		},

		Uploader: UploaderConfig{
			UploadsBaseDir:      v.GetString("uploader.uploads_basedir"),
			StagingDir:          v.GetString("uploader.staging_dir"),
			MaxFileSize:         v.GetInt64("uploader.max_file_size") * 1024 * 1024, // MB to bytes
			TempMaxAge:          v.GetDuration("uploader.temp_max_age"),
			SweepInterval:       v.GetDuration("uploader.sweep_interval"),
			LockTimeout:         v.GetDuration("uploader.lock_timeout"),
			LockTtl:             v.GetDuration("uploader.lock_ttl"),
			EnforceTotalSize:    v.GetBool("uploader.enforce_total_size"),
			RedirectUrlTemplate: v.GetString("uploader.redirect_url_template"),
			SubmissionLimit: RateLimitConfig{
				Limit:  v.GetInt("uploader.rate_limit.submission.limit"),
				Window: v.GetDuration("uploader.rate_limit.submission.window"),
			},
			AnnotationLimit: RateLimitConfig{
				Limit:  v.GetInt("uploader.rate_limit.annotation.limit"),
				Window: v.GetDuration("uploader.rate_limit.annotation.window"),
			},
		},

		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetInt("redis.cache_ttl"),
		},

		Hooks: HooksConfig{
			WebhookTimeout: v.GetDuration("hooks.webhook_timeout"),
			WebhookWorkers: v.GetInt("hooks.webhook_workers"),
			PublishChannel: v.GetString("hooks.publish_channel"),
		},
	}

	if v.IsSet("auth.tokens") {
		if err := v.UnmarshalKey("auth.tokens", &cfg.Auth.Tokens); err != nil {
			return nil, fmt.Errorf("failed to parse auth.tokens: %w", err)
		}
	}
	if v.IsSet("hooks.webhooks") {
		if err := v.UnmarshalKey("hooks.webhooks", &cfg.Hooks.Webhooks); err != nil {
			return nil, fmt.Errorf("failed to parse hooks.webhooks: %w", err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "7282"
	}
	if cfg.Server.SwaggerBaseUrl == "" {
		cfg.Server.SwaggerBaseUrl = "localhost:" + cfg.Server.Port
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "pebble"
	}
	if cfg.Database.DataDir == "" {
		cfg.Database.DataDir = "./data/pebble"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 100
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Uploader.UploadsBaseDir == "" {
		cfg.Uploader.UploadsBaseDir = "./data/uploads"
	}
	if cfg.Uploader.StagingDir == "" {
		cfg.Uploader.StagingDir = filepath.Join(cfg.Uploader.UploadsBaseDir, "starmus_tmp")
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.Local.BasePath == "" {
		cfg.Storage.Local.BasePath = filepath.Join(cfg.Uploader.UploadsBaseDir, "media")
	}
	if cfg.Storage.PublicBaseUrl == "" {
		cfg.Storage.PublicBaseUrl = "/media"
	}
	if cfg.Storage.S3.PartSize <= 0 {
		cfg.Storage.S3.PartSize = 8 * 1024 * 1024
	}
	if cfg.Uploader.MaxFileSize <= 0 {
		cfg.Uploader.MaxFileSize = 100 * 1024 * 1024
	}
	if cfg.Uploader.TempMaxAge <= 0 {
		cfg.Uploader.TempMaxAge = 24 * time.Hour
	}
	if cfg.Uploader.SweepInterval <= 0 {
		cfg.Uploader.SweepInterval = time.Hour
	}
	if cfg.Uploader.LockTimeout <= 0 {
		cfg.Uploader.LockTimeout = 10 * time.Second
	}
	if cfg.Uploader.LockTtl <= 0 {
		cfg.Uploader.LockTtl = time.Minute
	}
	// lock_ttl is never shorter than lock_timeout
	if cfg.Uploader.LockTtl < cfg.Uploader.LockTimeout {
		cfg.Uploader.LockTtl = cfg.Uploader.LockTimeout
	}
	if cfg.Uploader.SubmissionLimit.Limit <= 0 {
		cfg.Uploader.SubmissionLimit.Limit = 10
	}
	if cfg.Uploader.SubmissionLimit.Window <= 0 {
		cfg.Uploader.SubmissionLimit.Window = time.Minute
	}
	if cfg.Uploader.AnnotationLimit.Limit <= 0 {
		cfg.Uploader.AnnotationLimit.Limit = 1
	}
	if cfg.Uploader.AnnotationLimit.Window <= 0 {
		cfg.Uploader.AnnotationLimit.Window = 2 * time.Second
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = 300
	}
	if cfg.Hooks.WebhookTimeout <= 0 {
		cfg.Hooks.WebhookTimeout = 10 * time.Second
	}
	if cfg.Hooks.WebhookWorkers <= 0 {
		cfg.Hooks.WebhookWorkers = 2
	}
}
