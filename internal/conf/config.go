package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	MinIO       MinIOConfig
	Log         LogConfig
	Quota       QuotaConfig
	Idempotency IdempotencyConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}

type LogConfig struct {
	Level            string        `mapstructure:"level"`
	Format           string        `mapstructure:"format"`
	Output           string        `mapstructure:"output"`
	File             FileLogConfig `mapstructure:"file"`
	EnableCaller     bool          `mapstructure:"enablecaller"`
	EnableStacktrace bool          `mapstructure:"enablestacktrace"`
}

type FileLogConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`
	MaxAge     int    `mapstructure:"maxage"`
	MaxBackups int    `mapstructure:"maxbackups"`
	Compress   bool   `mapstructure:"compress"`
}

// QuotaWindowConfig 单个配额时间窗口配置
type QuotaWindowConfig struct {
	Kind  string `mapstructure:"kind"` // day, hour, minute
	Limit int64  `mapstructure:"limit"`
}

// QuotaDimensionConfig 单个配额维度配置
type QuotaDimensionConfig struct {
	Name    string              `mapstructure:"name"`
	Windows []QuotaWindowConfig `mapstructure:"windows"`
}

// QuotaConfig 配额账本配置
type QuotaConfig struct {
	Dimensions       []QuotaDimensionConfig `mapstructure:"dimensions"`
	SweepInterval    time.Duration          `mapstructure:"sweep_interval"`
	CounterRetention time.Duration          `mapstructure:"counter_retention"`
}

// IdempotencyConfig 幂等网关配置
type IdempotencyConfig struct {
	// RequiredScopes 列出必须携带幂等键的 scope
	RequiredScopes []string      `mapstructure:"required_scopes"`
	RecordTTL      time.Duration `mapstructure:"record_ttl"`
	ExecTimeout    time.Duration `mapstructure:"exec_timeout"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig Redis 滑动窗口限流配置
type RateLimitConfig struct {
	Enable        bool   `mapstructure:"enable"`
	MaxRequests   int    `mapstructure:"max_requests"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	Strategy      string `mapstructure:"strategy"` // user, endpoint, ip
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Idempotency.RecordTTL <= 0 {
		c.Idempotency.RecordTTL = 24 * time.Hour
	}
	if c.Idempotency.ExecTimeout <= 0 {
		c.Idempotency.ExecTimeout = 5 * time.Minute
	}
	if c.Idempotency.SweepInterval <= 0 {
		c.Idempotency.SweepInterval = 10 * time.Minute
	}
	if c.Quota.SweepInterval <= 0 {
		c.Quota.SweepInterval = time.Hour
	}
	if c.Quota.CounterRetention <= 0 {
		c.Quota.CounterRetention = 48 * time.Hour
	}
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
