// Package config loads application configuration from the environment,
// with an optional YAML file as a base layer. Environment variables always
// win over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server Server `yaml:"server"`
	Mongo  Mongo  `yaml:"mongo"`
	Redis  Redis  `yaml:"redis"`
	Kafka  Kafka  `yaml:"kafka"`
	Auth   Auth   `yaml:"auth"`
	S3     S3     `yaml:"s3"`
	Log    Log    `yaml:"log"`
}

// Server holds HTTP server configuration
type Server struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Mongo holds document store configuration
type Mongo struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Redis holds nonce cache configuration
type Redis struct {
	URL string `yaml:"url"`
}

// Kafka holds event producer configuration
type Kafka struct {
	Brokers []string `yaml:"brokers"`
}

// Auth holds token signing and at-rest encryption secrets
type Auth struct {
	// TokenSecret signs bearer tokens; at least 32 bytes.
	TokenSecret string `yaml:"token_secret"`
	// EncryptionKey is the hex-encoded 32-byte key sealing vault payloads
	// and TOTP seeds.
	EncryptionKey string `yaml:"encryption_key"`
}

// S3 holds object storage configuration
type S3 struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// Log holds logging configuration
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the optional YAML file named by XDEPLOY_CONFIG_FILE, then
// applies environment overrides and validates.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("XDEPLOY_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: Server{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Mongo: Mongo{
			URI:      "mongodb://localhost:27017",
			Database: "xdeploy",
		},
		Redis: Redis{URL: "redis://localhost:6379"},
		Kafka: Kafka{Brokers: []string{"localhost:9092"}},
		S3: S3{
			Bucket: "xdeploy-objects",
			Region: "us-east-1",
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("XDEPLOY_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("XDEPLOY_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("XDEPLOY_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("XDEPLOY_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("XDEPLOY_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("XDEPLOY_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Mongo.URI = getEnv("XDEPLOY_MONGO_URI", cfg.Mongo.URI)
	cfg.Mongo.Database = getEnv("XDEPLOY_MONGO_DATABASE", cfg.Mongo.Database)
	cfg.Redis.URL = getEnv("XDEPLOY_REDIS_URL", cfg.Redis.URL)

	if brokers := getEnv("XDEPLOY_KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	cfg.Auth.TokenSecret = getEnv("XDEPLOY_TOKEN_SECRET", cfg.Auth.TokenSecret)
	cfg.Auth.EncryptionKey = getEnv("XDEPLOY_ENCRYPTION_KEY", cfg.Auth.EncryptionKey)

	cfg.S3.Bucket = getEnv("XDEPLOY_S3_BUCKET", cfg.S3.Bucket)
	cfg.S3.Region = getEnv("XDEPLOY_S3_REGION", cfg.S3.Region)
	cfg.S3.Endpoint = getEnv("XDEPLOY_S3_ENDPOINT", cfg.S3.Endpoint)
	cfg.S3.AccessKey = getEnv("XDEPLOY_S3_ACCESS_KEY", cfg.S3.AccessKey)
	cfg.S3.SecretKey = getEnv("XDEPLOY_S3_SECRET_KEY", cfg.S3.SecretKey)
	cfg.S3.UsePathStyle = getEnvBool("XDEPLOY_S3_USE_PATH_STYLE", cfg.S3.UsePathStyle)

	cfg.Log.Level = getEnv("XDEPLOY_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("XDEPLOY_LOG_FORMAT", cfg.Log.Format)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Mongo.URI == "" {
		return fmt.Errorf("mongo URI is required")
	}
	if c.Mongo.Database == "" {
		return fmt.Errorf("mongo database is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if len(c.Auth.TokenSecret) < 32 {
		return fmt.Errorf("token secret must be at least 32 bytes")
	}
	if c.Auth.EncryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
