package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Commerce   CommerceConfig   `yaml:"commerce"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Queue      QueueConfig      `yaml:"queue"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Marketing  MarketingConfig  `yaml:"marketing"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// IsDevelopment gates destructive operations such as metrics reset.
func (a AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// CommerceConfig points at the downstream commerce platform API.
type CommerceConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

func (c CommerceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateLimitConfig shapes outbound calls to the commerce API.
type RateLimitConfig struct {
	MaxRequestsPerSecond int    `yaml:"max_requests_per_second"`
	Strategy             string `yaml:"strategy"`
	ResetWindowSeconds   int    `yaml:"reset_window_seconds"`
	BucketSize           uint   `yaml:"bucket_size"`
}

func (r RateLimitConfig) ResetWindow() time.Duration {
	return time.Duration(r.ResetWindowSeconds) * time.Second
}

type QueueConfig struct {
	BatchSize              int `yaml:"batch_size"`
	MaxRetries             int `yaml:"max_retries"`
	DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds"`
	InitialBackoffSeconds  int `yaml:"initial_backoff_seconds"`
	MaxBackoffSeconds      int `yaml:"max_backoff_seconds"`
}

func (q QueueConfig) DispatchTimeout() time.Duration {
	return time.Duration(q.DispatchTimeoutSeconds) * time.Second
}

func (q QueueConfig) InitialBackoff() time.Duration {
	return time.Duration(q.InitialBackoffSeconds) * time.Second
}

func (q QueueConfig) MaxBackoff() time.Duration {
	return time.Duration(q.MaxBackoffSeconds) * time.Second
}

type MonitorConfig struct {
	WindowMinutes     int     `yaml:"window_minutes"`
	WarningThreshold  float64 `yaml:"warning_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
	ErrorThreshold    float64 `yaml:"error_threshold"`
}

func (m MonitorConfig) Window() time.Duration {
	return time.Duration(m.WindowMinutes) * time.Minute
}

type APIConfig struct {
	Port       int                `yaml:"port"`
	DrainToken string             `yaml:"drain_token"`
	RateLimit  APIRateLimitConfig `yaml:"rate_limit"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

// MarketingConfig configures the best-effort conversion sheet sink.
type MarketingConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

// TelegramConfig configures the critical-alert notifier.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; ExpandEnv below picks the variables up either way.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Commerce.BaseURL == "" {
		return errors.New("commerce base_url is required")
	}
	if c.API.DrainToken == "" {
		return errors.New("api drain_token is required")
	}
	switch c.RateLimit.Strategy {
	case "conservative", "balanced", "aggressive":
	default:
		return fmt.Errorf("unknown rate limit strategy: %s", c.RateLimit.Strategy)
	}
	if c.Monitor.WarningThreshold <= c.Monitor.CriticalThreshold {
		return errors.New("monitor warning_threshold must be above critical_threshold")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.New("telegram bot_token is required when telegram is enabled")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Environment == "" {
		c.App.Environment = "production"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Commerce.TimeoutSeconds == 0 {
		c.Commerce.TimeoutSeconds = 15
	}

	if c.RateLimit.MaxRequestsPerSecond == 0 {
		c.RateLimit.MaxRequestsPerSecond = 2
	}
	if c.RateLimit.Strategy == "" {
		c.RateLimit.Strategy = "balanced"
	}
	if c.RateLimit.ResetWindowSeconds == 0 {
		c.RateLimit.ResetWindowSeconds = 60
	}
	if c.RateLimit.BucketSize == 0 {
		c.RateLimit.BucketSize = 40
	}

	if c.Queue.BatchSize == 0 {
		c.Queue.BatchSize = 5
	}
	if c.Queue.MaxRetries == 0 {
		c.Queue.MaxRetries = 2
	}
	if c.Queue.DispatchTimeoutSeconds == 0 {
		c.Queue.DispatchTimeoutSeconds = 30
	}
	if c.Queue.InitialBackoffSeconds == 0 {
		c.Queue.InitialBackoffSeconds = 2
	}
	if c.Queue.MaxBackoffSeconds == 0 {
		c.Queue.MaxBackoffSeconds = 60
	}

	if c.Monitor.WindowMinutes == 0 {
		c.Monitor.WindowMinutes = 60
	}
	if c.Monitor.WarningThreshold == 0 {
		c.Monitor.WarningThreshold = 0.95
	}
	if c.Monitor.CriticalThreshold == 0 {
		c.Monitor.CriticalThreshold = 0.80
	}
	if c.Monitor.ErrorThreshold == 0 {
		c.Monitor.ErrorThreshold = 0.20
	}

	if c.Marketing.SheetName == "" {
		c.Marketing.SheetName = "Conversions"
	}
}
