// Package config loads relay server configuration and client options.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Config is the relay server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Room     RoomConfig     `mapstructure:"room"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Storage  StorageConfig  `mapstructure:"storage"`
	History  HistoryConfig  `mapstructure:"history"`
	Timeline TimelineConfig `mapstructure:"timeline"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	GRPC            GRPCConfig    `mapstructure:"grpc"`
	HTTP            HTTPConfig    `mapstructure:"http"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GRPCConfig configures the gRPC room service listener.
type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

// HTTPConfig configures the websocket, room inspection and metrics listener.
type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

// LoggingConfig selects level and encoding of the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Room backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// RoomConfig selects the room store backend.
type RoomConfig struct {
	Backend string `mapstructure:"backend"`
}

// RedisConfig configures the redis room store.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// DatabaseConfig configures the postgres room store and card catalog.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// SyncConfig tunes the room channel.
type SyncConfig struct {
	EchoWindow     time.Duration `mapstructure:"echo_window"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// StorageConfig configures local session persistence.
type StorageConfig struct {
	SQLitePath string        `mapstructure:"sqlite_path"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

// HistoryConfig bounds the undo stack.
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// TimelineConfig configures autosaves.
type TimelineConfig struct {
	AutoSaveCapacity int  `mapstructure:"autosave_capacity"`
	AutoSaveOnTurn   bool `mapstructure:"autosave_on_turn"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc.address", ":9090")
	v.SetDefault("server.grpc.max_concurrent_streams", 1000)
	v.SetDefault("server.http.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("room.backend", BackendMemory)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "dojo:room:")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("sync.echo_window", 50*time.Millisecond)
	v.SetDefault("sync.publish_timeout", 5*time.Second)

	v.SetDefault("storage.sqlite_path", "dojo.db")
	v.SetDefault("storage.debounce", 500*time.Millisecond)

	v.SetDefault("history.capacity", 250)

	v.SetDefault("timeline.autosave_capacity", 5)
	v.SetDefault("timeline.autosave_on_turn", false)
}

// Load reads the YAML file at path when it exists, then applies DOJO_
// environment overrides such as DOJO_SERVER_GRPC_ADDRESS.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DOJO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// isMissingFile reports whether an explicitly set config file is absent.
// viper only returns ConfigFileNotFoundError when searching config paths.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate checks values that would make the server unusable.
func (c *Config) Validate() error {
	switch c.Room.Backend {
	case BackendMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres room backend")
		}
	default:
		return fmt.Errorf("unknown room backend %q", c.Room.Backend)
	}
	if c.Server.GRPC.Address == "" && c.Server.HTTP.Address == "" {
		return errors.New("at least one of server.grpc.address and server.http.address is required")
	}
	if c.Sync.EchoWindow < 0 {
		return errors.New("sync.echo_window must not be negative")
	}
	if c.History.Capacity <= 0 {
		return errors.New("history.capacity must be positive")
	}
	if c.Timeline.AutoSaveCapacity <= 0 {
		return errors.New("timeline.autosave_capacity must be positive")
	}
	return nil
}

// ClientOptions are the environment defaults for the dojo client.
type ClientOptions struct {
	Server         string        `env:"DOJO_SERVER"`
	Room           string        `env:"DOJO_ROOM"`
	Seat           int           `env:"DOJO_SEAT" envDefault:"1"`
	SQLitePath     string        `env:"DOJO_SQLITE_PATH" envDefault:"dojo.db"`
	Catalog        string        `env:"DOJO_CATALOG"`
	EchoWindow     time.Duration `env:"DOJO_ECHO_WINDOW" envDefault:"50ms"`
	AutoSaveOnTurn bool          `env:"DOJO_AUTOSAVE_ON_TURN" envDefault:"false"`
}

// ParseClientEnv reads ClientOptions from the environment.
func ParseClientEnv() (ClientOptions, error) {
	var opts ClientOptions
	if err := env.Parse(&opts); err != nil {
		return ClientOptions{}, fmt.Errorf("parse client env: %w", err)
	}
	if opts.Seat != 1 && opts.Seat != 2 {
		opts.Seat = 1
	}
	return opts, nil
}
