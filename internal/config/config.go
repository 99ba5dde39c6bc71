// Package config loads roomsync settings from defaults, an optional YAML
// file, ROOMSYNC_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "ROOMSYNC"

type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	CORSOrigin string `mapstructure:"cors_origin"`
	DBPath     string `mapstructure:"db_path"`

	Log     LogConfig     `mapstructure:"log"`
	Auth    AuthConfig    `mapstructure:"auth"`
	API     APIConfig     `mapstructure:"api"`
	Channel ChannelConfig `mapstructure:"channel"`
	Media   MediaConfig   `mapstructure:"media"`
	Polls   PollsConfig   `mapstructure:"polls"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

// AuthConfig locates the bearer token. Token wins over TokenFile.
type AuthConfig struct {
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"token_file"`
}

// APIConfig is the HTTP base for token issuance and polls, usually behind a
// reverse-proxy prefix such as /api/video.
type APIConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	RateLimit float64 `mapstructure:"rate_limit"`
}

type ChannelConfig struct {
	URL            string        `mapstructure:"url"`
	WorkspaceID    int64         `mapstructure:"workspace_id"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	Multiplier     float64       `mapstructure:"multiplier"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	Jitter         bool          `mapstructure:"jitter"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
}

type MediaConfig struct {
	ServerURL   string        `mapstructure:"server_url"`
	SignalPath  string        `mapstructure:"signal_path"`
	Session     string        `mapstructure:"session"`
	Identity    string        `mapstructure:"identity"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

type PollsConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Every key needs a default, otherwise AutomaticEnv cannot reach it through
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":7940")
	v.SetDefault("cors_origin", "")
	v.SetDefault("db_path", "./data/roomsync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.token_file", "")
	v.SetDefault("api.base_url", "http://localhost:8080/api/video")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("channel.url", "ws://localhost:8080/ws/notifications")
	v.SetDefault("channel.workspace_id", 0)
	v.SetDefault("channel.reconnect_delay", "3s")
	v.SetDefault("channel.multiplier", 1.0)
	v.SetDefault("channel.max_delay", "30s")
	v.SetDefault("channel.jitter", false)
	v.SetDefault("channel.ping_interval", "10s")
	v.SetDefault("media.server_url", "ws://localhost:7880")
	v.SetDefault("media.signal_path", "/rtc/offer")
	v.SetDefault("media.session", "")
	v.SetDefault("media.identity", "")
	v.SetDefault("media.settle_delay", "100ms")
	v.SetDefault("polls.interval", "5s")
}

// Flags returns the command-line flags understood by Load.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("listen-addr", "", "address of the local view server")
	fs.String("db-path", "", "SQLite database path")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("api-base-url", "", "base URL of the token and poll API")
	fs.String("channel-url", "", "ws(s) URL of the notification channel")
	fs.Int64("workspace", 0, "workspace whose notifications are dispatched")
	fs.String("media-url", "", "media server URL")
	fs.String("session", "", "meeting room to join and sync polls for")
	fs.String("identity", "", "participant name in the meeting")
	return fs
}

var flagKeys = map[string]string{
	"listen-addr":  "listen_addr",
	"db-path":      "db_path",
	"log-level":    "log.level",
	"api-base-url": "api.base_url",
	"channel-url":  "channel.url",
	"workspace":    "channel.workspace_id",
	"media-url":    "media.server_url",
	"session":      "media.session",
	"identity":     "media.identity",
}

// Load parses args with Flags and resolves the full configuration.
func Load(name string, args []string) (*Config, error) {
	fs := Flags(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return FromFlags(fs)
}

// FromFlags resolves configuration from an already parsed flag set. Only
// flags that were set on the command line override other sources.
func FromFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for flagName, key := range flagKeys {
		if f := fs.Lookup(flagName); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", flagName, err)
			}
		}
	}

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Polls.Interval <= 0 {
		return errors.New("polls.interval must be positive")
	}
	if c.Channel.ReconnectDelay <= 0 {
		return errors.New("channel.reconnect_delay must be positive")
	}
	if c.API.RateLimit <= 0 {
		return errors.New("api.rate_limit must be positive")
	}
	return nil
}
