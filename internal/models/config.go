package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr  string       `yaml:"server_addr"`
	DatabaseURL string       `yaml:"database_url"`
	Log         LogConfig    `yaml:"log"`
	S3          S3Config     `yaml:"s3"`
	Kafka       KafkaConfig  `yaml:"kafka"`
	Labels      LabelsConfig `yaml:"labels"`
	Queue       QueueConfig  `yaml:"queue"`
	Stream      StreamConfig `yaml:"stream"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PublicBaseURL   string `yaml:"public_base_url"`
	UploadTTLSec    int    `yaml:"upload_ttl_sec"`
}

func (c S3Config) UploadTTL() time.Duration {
	if c.UploadTTLSec <= 0 {
		return time.Hour
	}
	return time.Duration(c.UploadTTLSec) * time.Second
}

// KafkaConfig mirrors progress events to a topic for external consumers.
// Leaving the broker empty disables the mirror.
type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

type LabelsConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type QueueConfig struct {
	ThumbnailWorkers int `yaml:"thumbnail_workers"`
	LabelWorkers     int `yaml:"label_workers"`
	MaxAttempts      int `yaml:"max_attempts"`
	BaseBackoffSec   int `yaml:"base_backoff_sec"`
	PollIntervalMS   int `yaml:"poll_interval_ms"`
}

type StreamConfig struct {
	PingIntervalSec int `yaml:"ping_interval_sec"`
}

func (c StreamConfig) PingInterval() time.Duration {
	if c.PingIntervalSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.PingIntervalSec) * time.Second
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %v", path, err)
	}
	cfg.applyEnv()
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
	}
	return &cfg, nil
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.S3.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.S3.SecretAccessKey = v
	}
	if v := os.Getenv("LABELS_API_KEY"); v != "" {
		c.Labels.APIKey = v
	}
}
