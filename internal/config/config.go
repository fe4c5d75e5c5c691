package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Printer   PrinterConfig   `yaml:"printer"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HotFolder HotFolderConfig `yaml:"hotfolder"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	AuthEnabled  bool          `yaml:"auth_enabled"`
	SecureCookie bool          `yaml:"secure_cookie"`
	MaxImageSize int64         `yaml:"max_image_size"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	ArchivePath string `yaml:"archive_path"`
	ArchiveDays int    `yaml:"archive_days"`
}

// PrinterConfig describes the single thermal printer the daemon drives.
type PrinterConfig struct {
	DeviceID       string        `yaml:"device_id"`
	Transport      string        `yaml:"transport"`
	HCIDevice      int           `yaml:"hci_device"`
	ServiceUUID    string        `yaml:"service_uuid"`
	WriteUUID      string        `yaml:"write_uuid"`
	NotifyUUID     string        `yaml:"notify_uuid"`
	DotWidth       int           `yaml:"dot_width"`
	Dither         string        `yaml:"dither"`
	MaxQueuedJobs  int           `yaml:"max_queued_jobs"`
	PacingInterval time.Duration `yaml:"pacing_interval"`
	RescanInterval time.Duration `yaml:"rescan_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Energy         uint16        `yaml:"energy"`
	FeedLines      uint16        `yaml:"feed_lines"`
}

type WebhooksConfig struct {
	Endpoints   []WebhookEndpoint `yaml:"endpoints"`
	RetryCount  int               `yaml:"retry_count"`
	RetryDelay  time.Duration     `yaml:"retry_delay"`
	Timeout     time.Duration     `yaml:"timeout"`
	WorkerCount int               `yaml:"worker_count"`
	QueueSize   int               `yaml:"queue_size"`
}

type WebhookEndpoint struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type HotFolderConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	TransportBlueZ = "bluez"
	TransportHCI   = "hci"

	DitherAtkinson       = "atkinson"
	DitherFloydSteinberg = "floyd-steinberg"
)

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			MaxImageSize: 16 << 20,
		},
		Database: DatabaseConfig{
			Path:        "./data/catspool.db",
			ArchivePath: "./data/archives",
			ArchiveDays: 30,
		},
		Printer: PrinterConfig{
			Transport:      TransportBlueZ,
			ServiceUUID:    "0000af30-0000-1000-8000-00805f9b34fb",
			WriteUUID:      "0000ae01-0000-1000-8000-00805f9b34fb",
			NotifyUUID:     "0000ae02-0000-1000-8000-00805f9b34fb",
			DotWidth:       384,
			Dither:         DitherAtkinson,
			MaxQueuedJobs:  10,
			PacingInterval: 100 * time.Millisecond,
			RescanInterval: 5 * time.Second,
			ConnectTimeout: 30 * time.Second,
			Energy:         12000,
			FeedLines:      50,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		MQTT: MQTTConfig{
			ClientID:    "catspool",
			TopicPrefix: "catspool",
		},
		HotFolder: HotFolderConfig{
			Path: "./data/inbox",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays CATSPOOL_* environment variables onto cfg.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("CATSPOOL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("CATSPOOL_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("CATSPOOL_ARCHIVE_PATH"); v != "" {
		c.Database.ArchivePath = v
	}

	if v := os.Getenv("CATSPOOL_DEVICE_ID"); v != "" {
		c.Printer.DeviceID = v
	}

	if v := os.Getenv("CATSPOOL_TRANSPORT"); v != "" {
		c.Printer.Transport = v
	}

	if v := os.Getenv("CATSPOOL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.MaxImageSize <= 0 {
		return fmt.Errorf("max image size must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.ArchiveDays < 0 {
		return fmt.Errorf("archive days must be non-negative")
	}

	if err := c.Printer.Validate(); err != nil {
		return err
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.RetryDelay < 0 || c.Webhooks.Timeout < 0 {
		return fmt.Errorf("webhook delays must be non-negative")
	}

	for i, ep := range c.Webhooks.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("webhook endpoint %d: url is required", i)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}

	if c.HotFolder.Enabled && c.HotFolder.Path == "" {
		return fmt.Errorf("hotfolder path is required when hotfolder is enabled")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	return nil
}

func (p *PrinterConfig) Validate() error {
	switch p.Transport {
	case TransportBlueZ, TransportHCI:
	default:
		return fmt.Errorf("invalid transport: %s (valid: bluez, hci)", p.Transport)
	}

	switch p.Dither {
	case DitherAtkinson, DitherFloydSteinberg:
	default:
		return fmt.Errorf("invalid dither algorithm: %s (valid: atkinson, floyd-steinberg)", p.Dither)
	}

	if p.ServiceUUID == "" || p.WriteUUID == "" || p.NotifyUUID == "" {
		return fmt.Errorf("printer uuids must not be empty")
	}

	if p.DotWidth <= 0 || p.DotWidth%8 != 0 {
		return fmt.Errorf("dot width must be a positive multiple of 8, got %d", p.DotWidth)
	}

	if p.MaxQueuedJobs < 1 {
		return fmt.Errorf("max queued jobs must be at least 1")
	}

	if p.PacingInterval <= 0 {
		return fmt.Errorf("pacing interval must be positive")
	}

	if p.RescanInterval < 0 || p.ConnectTimeout < 0 {
		return fmt.Errorf("printer intervals must be non-negative")
	}

	return nil
}
