package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Worker   WorkerConfig   `yaml:"worker"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	// mysql or sqlite
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
	// sqlite file path, ":memory:" allowed
	Path string `yaml:"path"`
}

type PipelineConfig struct {
	// 0 disables the client timeout
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type WorkerConfig struct {
	PoolSize int `yaml:"pool_size"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// LoadConfig reads the YAML file at path, then applies environment overrides
// (a .env file next to the process is loaded first when present).
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// environment-only configuration
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	_ = godotenv.Load()
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Driver:  DriverSQLite,
			Host:    "localhost",
			Port:    3306,
			DBName:  "evallab",
			Charset: "utf8mb4",
			Path:    "evallab.db",
		},
		Pipeline: PipelineConfig{TimeoutSeconds: 100},
		Worker:   WorkerConfig{PoolSize: 4},
		Log:      LogConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case DriverMySQL, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Pipeline.TimeoutSeconds < 0 {
		return fmt.Errorf("invalid pipeline timeout %d", c.Pipeline.TimeoutSeconds)
	}
	if c.Worker.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1, got %d", c.Worker.PoolSize)
	}
	return nil
}

func applyEnv(cfg *Config) {
	setInt(&cfg.Server.Port, "EVALLAB_PORT")

	setString(&cfg.Database.Driver, "EVALLAB_DB_DRIVER")
	setString(&cfg.Database.Host, "EVALLAB_DB_HOST")
	setInt(&cfg.Database.Port, "EVALLAB_DB_PORT")
	setString(&cfg.Database.User, "EVALLAB_DB_USER")
	setString(&cfg.Database.Password, "EVALLAB_DB_PASSWORD")
	setString(&cfg.Database.DBName, "EVALLAB_DB_NAME")
	setString(&cfg.Database.Path, "EVALLAB_DB_PATH")

	setInt(&cfg.Pipeline.TimeoutSeconds, "EVALLAB_PIPELINE_TIMEOUT_SECONDS")
	setInt(&cfg.Worker.PoolSize, "EVALLAB_WORKER_POOL_SIZE")
	setString(&cfg.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}
