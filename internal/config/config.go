package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gtzirun/cloud/internal/logger"
	"github.com/gtzirun/cloud/internal/process"
	"github.com/gtzirun/cloud/internal/relay"
	tlsconf "github.com/gtzirun/cloud/internal/tls"
)

// EnvPrefix scopes environment overrides, e.g. RELAYD_RELAY_FFMPEG_PATH.
const EnvPrefix = "RELAYD"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	Relay   RelayConfig   `toml:"relay" mapstructure:"relay"`
	Log     logger.Config `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen   string         `toml:"listen" mapstructure:"listen"`
	BasePath string         `toml:"base_path" mapstructure:"base_path"`
	TLS      tlsconf.Config `toml:"tls" mapstructure:"tls"`
}

type RelayConfig struct {
	FFmpegPath       string        `toml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	RelayServer      string        `toml:"relay_server" mapstructure:"relay_server"`
	ThirdPartyBase   string        `toml:"third_party_base" mapstructure:"third_party_base"`
	ThirdPartySecret string        `toml:"third_party_secret" mapstructure:"third_party_secret"`
	GracePeriod      time.Duration `toml:"grace_period" mapstructure:"grace_period"`
}

// MetricsConfig enables Prometheus. With an empty Listen, /metrics is
// served by the API server.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// HistoryConfig lists sink DSNs lifecycle events are exported to.
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "0.0.0.0:5000")
	v.SetDefault("server.base_path", "/")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.hosts", []string{})
	v.SetDefault("server.tls.min_version", "1.3")

	v.SetDefault("relay.ffmpeg_path", process.DefaultBinary)
	v.SetDefault("relay.relay_server", "rtmp://srs:1935/live")
	v.SetDefault("relay.third_party_base", "rtmp://push-rtmp-l6.douyincdn.com/third/")
	v.SetDefault("relay.third_party_secret", "c3625be1c7f8a552")
	v.SetDefault("relay.grace_period", relay.DefaultGracePeriod)

	def := logger.DefaultConfig()
	v.SetDefault("log.level", string(def.Slog.Level))
	v.SetDefault("log.format", string(def.Slog.Format))
	v.SetDefault("log.color", def.Slog.Color)
	v.SetDefault("log.timestamps", def.Slog.TimeStamps)
	v.SetDefault("log.source", def.Slog.Source)
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("history.sinks", []string{})
}

// Load reads path (optional; "" uses defaults only) and applies
// RELAYD_* environment overrides.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (c *FileConfig) Validate() error {
	if strings.TrimSpace(c.Relay.FFmpegPath) == "" {
		return errors.New("relay.ffmpeg_path is required")
	}
	if strings.TrimSpace(c.Relay.RelayServer) == "" {
		return errors.New("relay.relay_server is required")
	}
	if c.Relay.GracePeriod <= 0 {
		return fmt.Errorf("relay.grace_period must be positive, got %s", c.Relay.GracePeriod)
	}
	if strings.TrimSpace(c.Server.Listen) == "" {
		return errors.New("server.listen is required")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

// SupervisorConfig maps the relay section onto the supervisor.
func (c *FileConfig) SupervisorConfig() relay.Config {
	return relay.Config{
		RelayServer:      c.Relay.RelayServer,
		ThirdPartyBase:   c.Relay.ThirdPartyBase,
		ThirdPartySecret: c.Relay.ThirdPartySecret,
		GracePeriod:      c.Relay.GracePeriod,
	}
}
