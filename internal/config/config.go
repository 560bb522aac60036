package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	History   HistoryConfig   `mapstructure:"history"`
	Schedules SchedulesConfig `mapstructure:"schedules"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	SQLitePath     string `mapstructure:"sqlite_path"`
}

// DispatchConfig controls the direct device call path.
type DispatchConfig struct {
	Timeout              time.Duration `mapstructure:"timeout"`
	Workers              int           `mapstructure:"workers"`
	StepsPerPortion      int           `mapstructure:"steps_per_portion"`
	DefaultSpeed         int           `mapstructure:"default_speed"`
	DefaultMicrostepping string        `mapstructure:"default_microstepping"`
	DefaultDirection     string        `mapstructure:"default_direction"`
	DefaultDeviceID      string        `mapstructure:"default_device_id"`
}

type HistoryConfig struct {
	DisplayLimit int `mapstructure:"display_limit"`
}

type SchedulesConfig struct {
	File string `mapstructure:"file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Load reads the YAML config at path. A missing file is not an error:
// defaults and FEEDER_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	v.SetEnvPrefix("FEEDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "feeder")
	v.SetDefault("database.user", "feeder")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.sqlite_path", "data/feeder.db")

	v.SetDefault("dispatch.timeout", "5s")
	v.SetDefault("dispatch.workers", 2)
	v.SetDefault("dispatch.steps_per_portion", 200)
	v.SetDefault("dispatch.default_speed", 1000)
	v.SetDefault("dispatch.default_microstepping", "16")
	v.SetDefault("dispatch.default_direction", "clockwise")
	v.SetDefault("dispatch.default_device_id", "")

	v.SetDefault("history.display_limit", 20)
	v.SetDefault("schedules.file", "")
	v.SetDefault("log.level", "info")
}

// Validate rejects settings the dispatcher cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("dispatch.timeout must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be positive")
	}
	if c.Dispatch.StepsPerPortion <= 0 {
		return fmt.Errorf("dispatch.steps_per_portion must be positive")
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}
