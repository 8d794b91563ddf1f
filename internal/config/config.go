package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. MEDIAFLO_STREAM_MAX_LEN.
const EnvPrefix = "MEDIAFLO"

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds listener addresses and ingest limits. An empty address
// disables that listener.
type ServerConfig struct {
	HTTPAddr     string  `mapstructure:"http_addr"`
	GRPCAddr     string  `mapstructure:"grpc_addr"`
	RESPAddr     string  `mapstructure:"resp_addr"`
	// RESPPassword, when set, is required by AUTH on the RESP gateway.
	RESPPassword string  `mapstructure:"resp_password"`
	IngestRate   float64 `mapstructure:"ingest_rate"`
	IngestBurst  int     `mapstructure:"ingest_burst"`
}

// StorageConfig selects the durable log backend.
type StorageConfig struct {
	// Backend is "pebble" or "redis".
	Backend       string        `mapstructure:"backend"`
	DataDir       string        `mapstructure:"data_dir"`
	Fsync         string        `mapstructure:"fsync"`
	FsyncInterval time.Duration `mapstructure:"fsync_interval"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RedisConfig configures the redigo pool used by the redis backend.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxActive   int           `mapstructure:"max_active"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// StreamConfig holds producer-side log shaping.
type StreamConfig struct {
	KeyPrefix      string        `mapstructure:"key_prefix"`
	QueueKey       string        `mapstructure:"queue_key"`
	MaxLen         int           `mapstructure:"max_len"`
	Retention      time.Duration `mapstructure:"retention"`
	NoStreamsDelay time.Duration `mapstructure:"no_streams_delay"`
	Compression    string        `mapstructure:"compression"`
}

// RelayConfig holds consumer-side tailing parameters.
type RelayConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	HandleBuffer  int           `mapstructure:"handle_buffer"`
	MaxReadErrors int           `mapstructure:"max_read_errors"`
}

// BroadcastConfig sizes the in-process distributor.
type BroadcastConfig struct {
	IntakeDepth    int  `mapstructure:"intake_depth"`
	SinkQueueDepth int  `mapstructure:"sink_queue_depth"`
	LagLimit       int  `mapstructure:"lag_limit"`
	PreferLive     bool `mapstructure:"prefer_live"`
}

// AuthConfig maps bearer tokens to caller identities.
type AuthConfig struct {
	Tokens         map[string]string `mapstructure:"tokens"`
	AllowAnonymous bool              `mapstructure:"allow_anonymous"`
}

// LogConfig mirrors pkg/log.Config.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":50051",
			RESPAddr:    "",
			IngestRate:  200,
			IngestBurst: 400,
		},
		Storage: StorageConfig{
			Backend:       "pebble",
			Fsync:         "interval",
			FsyncInterval: 5 * time.Millisecond,
			SweepInterval: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			MaxIdle:     8,
			MaxActive:   64,
			IdleTimeout: 4 * time.Minute,
			DialTimeout: 5 * time.Second,
		},
		Stream: StreamConfig{
			KeyPrefix:      "audio-record:",
			QueueKey:       "queue",
			MaxLen:         1000,
			Retention:      time.Minute,
			NoStreamsDelay: 5 * time.Second,
			Compression:    "none",
		},
		Relay: RelayConfig{
			BatchSize:     10,
			PollInterval:  100 * time.Millisecond,
			HandleBuffer:  100,
			MaxReadErrors: 3,
		},
		Broadcast: BroadcastConfig{
			IntakeDepth:    16,
			SinkQueueDepth: 16,
			LagLimit:       1024,
			PreferLive:     true,
		},
		Auth: AuthConfig{AllowAnonymous: true},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration from a JSON, YAML or TOML file (by extension) and
// overlays MEDIAFLO_* environment variables. If path is empty, only defaults
// and environment apply.
func Load(path string) (Config, error) {
	v := newViper(Default())
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "pebble", "redis":
	default:
		return fmt.Errorf("config: storage.backend must be pebble or redis, got %q", c.Storage.Backend)
	}
	switch c.Storage.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("config: storage.fsync must be always, interval or never, got %q", c.Storage.Fsync)
	}
	switch c.Stream.Compression {
	case "none", "zstd", "snappy", "lz4":
	default:
		return fmt.Errorf("config: stream.compression %q not supported", c.Stream.Compression)
	}
	if c.Stream.MaxLen <= 0 {
		return errors.New("config: stream.max_len must be positive")
	}
	if c.Relay.BatchSize <= 0 {
		return errors.New("config: relay.batch_size must be positive")
	}
	if c.Relay.PollInterval <= 0 {
		return errors.New("config: relay.poll_interval must be positive")
	}
	if c.Broadcast.IntakeDepth <= 0 || c.Broadcast.SinkQueueDepth <= 0 || c.Broadcast.LagLimit <= 0 {
		return errors.New("config: broadcast depths must be positive")
	}
	if strings.ContainsRune(c.Stream.KeyPrefix, '/') {
		return errors.New("config: stream.key_prefix must not contain '/'")
	}
	return nil
}

func newViper(def Config) *viper.Viper {
	v := viper.New()
	for key, val := range defaultsMap(def) {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// defaultsMap registers every key with viper so AutomaticEnv can resolve
// overrides for keys absent from the config file.
func defaultsMap(c Config) map[string]any {
	return map[string]any{
		"server.http_addr":           c.Server.HTTPAddr,
		"server.grpc_addr":           c.Server.GRPCAddr,
		"server.resp_addr":           c.Server.RESPAddr,
		"server.resp_password":       c.Server.RESPPassword,
		"server.ingest_rate":         c.Server.IngestRate,
		"server.ingest_burst":        c.Server.IngestBurst,
		"storage.backend":            c.Storage.Backend,
		"storage.data_dir":           c.Storage.DataDir,
		"storage.fsync":              c.Storage.Fsync,
		"storage.fsync_interval":     c.Storage.FsyncInterval,
		"storage.sweep_interval":     c.Storage.SweepInterval,
		"redis.addr":                 c.Redis.Addr,
		"redis.password":             c.Redis.Password,
		"redis.db":                   c.Redis.DB,
		"redis.max_idle":             c.Redis.MaxIdle,
		"redis.max_active":           c.Redis.MaxActive,
		"redis.idle_timeout":         c.Redis.IdleTimeout,
		"redis.dial_timeout":         c.Redis.DialTimeout,
		"stream.key_prefix":          c.Stream.KeyPrefix,
		"stream.queue_key":           c.Stream.QueueKey,
		"stream.max_len":             c.Stream.MaxLen,
		"stream.retention":           c.Stream.Retention,
		"stream.no_streams_delay":    c.Stream.NoStreamsDelay,
		"stream.compression":         c.Stream.Compression,
		"relay.batch_size":           c.Relay.BatchSize,
		"relay.poll_interval":        c.Relay.PollInterval,
		"relay.handle_buffer":        c.Relay.HandleBuffer,
		"relay.max_read_errors":      c.Relay.MaxReadErrors,
		"broadcast.intake_depth":     c.Broadcast.IntakeDepth,
		"broadcast.sink_queue_depth": c.Broadcast.SinkQueueDepth,
		"broadcast.lag_limit":        c.Broadcast.LagLimit,
		"broadcast.prefer_live":      c.Broadcast.PreferLive,
		"auth.tokens":                c.Auth.Tokens,
		"auth.allow_anonymous":       c.Auth.AllowAnonymous,
		"log.level":                  c.Log.Level,
		"log.format":                 c.Log.Format,
		"log.output":                 c.Log.Output,
	}
}
