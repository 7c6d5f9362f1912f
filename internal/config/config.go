package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Storage   StorageConfig   `yaml:"storage"`
	AWS       AWSConfig       `yaml:"aws"`
	JWT       JWTConfig       `yaml:"jwt"`
	Redis     RedisConfig     `yaml:"redis"`
	APNs      APNsConfig      `yaml:"apns"`
	Proximity ProximityConfig `yaml:"proximity"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	CORS      CORSConfig      `yaml:"cors"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration. URL wins over the discrete
// fields when both are set.
type DatabaseConfig struct {
	URL          string        `yaml:"url"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	DBName       string        `yaml:"dbname"`
	SSLMode      string        `yaml:"sslmode"`
	MaxConns     int32         `yaml:"max_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// StorageConfig selects the cache and user store
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// AWSConfig holds S3 blob storage configuration. An empty bucket keeps
// blobs in memory.
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Endpoint  string `yaml:"endpoint"` // S3 compatible providers
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// RedisConfig holds the token blacklist connection. An empty address keeps
// revocations in process.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// APNsConfig holds push notification credentials. An empty key path
// disables push.
type APNsConfig struct {
	KeyPath    string `yaml:"key_path"`
	KeyID      string `yaml:"key_id"`
	TeamID     string `yaml:"team_id"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// Enabled reports whether push notifications are configured
func (c APNsConfig) Enabled() bool {
	return c.KeyPath != ""
}

// ProximityConfig selects the nearby search strategy
type ProximityConfig struct {
	Strategy string `yaml:"strategy"`
}

// UploadsConfig holds upload settings
type UploadsConfig struct {
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

// CORSConfig holds allowed origins
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Port:         5432,
			SSLMode:      "disable",
			MaxConns:     10,
			QueryTimeout: 5 * time.Second,
		},
		Storage:   StorageConfig{Driver: StoragePostgres},
		AWS:       AWSConfig{Region: "us-east-1"},
		JWT:       JWTConfig{TTL: 24 * time.Hour},
		Proximity: ProximityConfig{Strategy: "bounded"},
		Uploads:   UploadsConfig{PresignTTL: 0},
		CORS:      CORSConfig{AllowedOrigins: []string{"*"}},
		Log:       LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads .env, the YAML file at path and environment overrides, in
// that order. A missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	overrides := map[string]*string{
		"GEOCACHE_DATABASE_URL":   &c.Database.URL,
		"GEOCACHE_STORAGE_DRIVER": &c.Storage.Driver,
		"GEOCACHE_JWT_SECRET":     &c.JWT.Secret,
		"GEOCACHE_REDIS_ADDR":     &c.Redis.Addr,
		"GEOCACHE_REDIS_PASSWORD": &c.Redis.Password,
		"GEOCACHE_S3_BUCKET":      &c.AWS.S3Bucket,
		"GEOCACHE_S3_ENDPOINT":    &c.AWS.Endpoint,
		"GEOCACHE_AWS_ACCESS_KEY": &c.AWS.AccessKey,
		"GEOCACHE_AWS_SECRET_KEY": &c.AWS.SecretKey,
		"GEOCACHE_LOG_LEVEL":      &c.Log.Level,
	}
	for key, dst := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.JWT.TTL <= 0 {
		errs = append(errs, errors.New("jwt.ttl must be positive"))
	}

	switch c.Storage.Driver {
	case StoragePostgres:
		if c.Database.DSN() == "" {
			errs = append(errs, errors.New("database.url or database.host is required for the postgres driver"))
		}
	case StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	switch c.Proximity.Strategy {
	case "", "scan", "bounded":
	default:
		errs = append(errs, fmt.Errorf("unknown proximity.strategy %q", c.Proximity.Strategy))
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if c.APNs.Enabled() && (c.APNs.KeyID == "" || c.APNs.TeamID == "" || c.APNs.Topic == "") {
		errs = append(errs, errors.New("apns.key_id, apns.team_id and apns.topic are required with apns.key_path"))
	}
	if c.Uploads.PresignTTL < 0 {
		errs = append(errs, errors.New("uploads.presign_ttl must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
