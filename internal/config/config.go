package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"fieldbook/internal/dates"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Admin         AdminConfig         `yaml:"admin"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Files         FilesConfig         `yaml:"files"`
	Exports       ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
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

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// AdminConfig holds the shared admin passphrase. It is a convenience gate, not authentication.
type AdminConfig struct {
	Passcode string `yaml:"passcode"`
	Header   string `yaml:"header"`
}

type CalendarConfig struct {
	Timezone         string        `yaml:"timezone"`
	SwipeThreshold   float64       `yaml:"swipe_threshold"`
	RefreshDebounce  time.Duration `yaml:"refresh_debounce"`
	WeekLoadTimeout  time.Duration `yaml:"week_load_timeout"`
	CancelConfirmTTL time.Duration `yaml:"cancel_confirm_ttl"`
	SelectionTTL     time.Duration `yaml:"selection_ttl"`
}

// Location resolves Timezone, falling back to the process zone.
func (c CalendarConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

type NotificationsConfig struct {
	Enabled      bool           `yaml:"enabled"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	BatchSize    int            `yaml:"batch_size"`
	Retry        RetryConfig    `yaml:"retry"`
	Webhook      WebhookConfig  `yaml:"webhook"`
	Telegram     TelegramConfig `yaml:"telegram"`
	Kafka        KafkaConfig    `yaml:"kafka"`
	AMQP         AMQPConfig     `yaml:"amqp"`
	Sheets       SheetsConfig   `yaml:"sheets"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

type AMQPConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
	BookingsSheet   string `yaml:"bookings_sheet"`
}

type FilesConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	Region      string `yaml:"region"`
	UseSSL      bool   `yaml:"use_ssl"`
	PublicURL   string `yaml:"public_url"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

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
	if c.API.Enabled && (c.Admin.Passcode == "" || c.Admin.Passcode == "CHANGE_ME") {
		return errors.New("admin passcode is required when the api is enabled")
	}
	if _, err := c.Calendar.Location(); err != nil {
		return fmt.Errorf("invalid calendar timezone %q: %w", c.Calendar.Timezone, err)
	}
	if c.API.RateLimit.RPS < 0 || c.API.RateLimit.Burst < 0 {
		return errors.New("rate limit values must not be negative")
	}
	return c.Notifications.Validate()
}

func (n *NotificationsConfig) Validate() error {
	if n.Webhook.Enabled && n.Webhook.URL == "" {
		return errors.New("notifications.webhook.url is required")
	}
	if n.Telegram.Enabled && (n.Telegram.BotToken == "" || len(n.Telegram.ChatIDs) == 0) {
		return errors.New("notifications.telegram needs bot_token and chat_ids")
	}
	if n.Kafka.Enabled && (len(n.Kafka.Brokers) == 0 || n.Kafka.Topic == "") {
		return errors.New("notifications.kafka needs brokers and topic")
	}
	if n.AMQP.Enabled && (n.AMQP.URL == "" || n.AMQP.Queue == "") {
		return errors.New("notifications.amqp needs url and queue")
	}
	if n.Sheets.Enabled && n.Sheets.SpreadsheetID == "" {
		return errors.New("notifications.sheets.spreadsheet_id is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fieldbook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Admin.Header == "" {
		c.Admin.Header = "X-Admin-Passcode"
	}

	if c.Calendar.SwipeThreshold == 0 {
		c.Calendar.SwipeThreshold = dates.DefaultSwipeThreshold
	}
	if c.Calendar.RefreshDebounce == 0 {
		c.Calendar.RefreshDebounce = 500 * time.Millisecond
	}
	if c.Calendar.WeekLoadTimeout == 0 {
		c.Calendar.WeekLoadTimeout = 10 * time.Second
	}
	if c.Calendar.CancelConfirmTTL == 0 {
		c.Calendar.CancelConfirmTTL = time.Minute
	}
	if c.Calendar.SelectionTTL == 0 {
		c.Calendar.SelectionTTL = 12 * time.Hour
	}

	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = 5 * time.Second
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 20
	}
	if c.Notifications.Retry.MaxRetries == 0 {
		c.Notifications.Retry.MaxRetries = 5
	}
	if c.Notifications.Retry.BaseDelay == 0 {
		c.Notifications.Retry.BaseDelay = 2 * time.Second
	}
	if c.Notifications.Retry.MaxDelay == 0 {
		c.Notifications.Retry.MaxDelay = time.Minute
	}
	if c.Notifications.Webhook.Timeout == 0 {
		c.Notifications.Webhook.Timeout = 10 * time.Second
	}
	if c.Notifications.Kafka.ClientID == "" {
		c.Notifications.Kafka.ClientID = c.App.Name
	}
	if c.Notifications.Sheets.SheetName == "" {
		c.Notifications.Sheets.SheetName = "Events"
	}
	if c.Notifications.Sheets.BookingsSheet == "" {
		c.Notifications.Sheets.BookingsSheet = "Bookings"
	}

	if c.Files.MaxUploadMB == 0 {
		c.Files.MaxUploadMB = 20
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
