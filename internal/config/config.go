// Package config loads refsyncd/refsyncctl configuration via viper, with
// the precedence chain and fsnotify hot-reload pattern of teranos-QNTX's
// am.Load/initViper, trimmed to a constructor-injected *viper.Viper
// instead of that package's process-global instance, and to YAML instead
// of TOML since no YAML-producing teacher dependency needed displacing.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Server holds refsyncd settings.
type Server struct {
	ListenAddr     string        `mapstructure:"listen_addr"`
	DataDir        string        `mapstructure:"data_dir"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	ClockSkew      time.Duration `mapstructure:"clock_skew"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Client holds refsyncctl/referee-client settings.
type Client struct {
	ServerURL   string        `mapstructure:"server_url"`
	KeyFile     string        `mapstructure:"key_file"`
	StorePath   string        `mapstructure:"store_path"`
	ReconnectAt time.Duration `mapstructure:"reconnect_interval"`
}

// Config is the top-level configuration document.
type Config struct {
	Server Server `mapstructure:"server"`
	Client Client `mapstructure:"client"`
}

// SetDefaults installs the fallback values used when no config file or
// environment variable supplies one.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8088")
	v.SetDefault("server.data_dir", "./data")
	v.SetDefault("server.idle_timeout", 24*time.Hour)
	v.SetDefault("server.clock_skew", 5*time.Minute)
	v.SetDefault("server.rate_limit_rps", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("client.server_url", "http://localhost:8088")
	v.SetDefault("client.key_file", "~/.refsync/identity.pem")
	v.SetDefault("client.store_path", "~/.refsync/store.db")
	v.SetDefault("client.reconnect_interval", 5*time.Second)
}

// searchPaths returns the precedence chain (lowest to highest): XDG config
// dir, home dir, project-local file. Viper itself then layers environment
// variables on top of whichever file is loaded last.
func searchPaths(explicit string) []string {
	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, "refsync", "config.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".refsync", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, "refsync.yaml"))
	}
	if explicit != "" {
		paths = append(paths, explicit)
	}
	return paths
}

// Load builds a Config by merging, in increasing precedence, defaults, the
// XDG config dir, the home dir, a project-local refsync.yaml, an explicit
// path (if given), and REFSYNC_-prefixed environment variables.
func Load(explicitPath string) (*Config, *viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	SetDefaults(v)

	v.SetEnvPrefix("REFSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, path := range searchPaths(explicitPath) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, errors.Wrap(err, "config: unmarshal")
	}
	return &cfg, v, nil
}

// WatchReload re-unmarshals into target whenever the active config file
// changes on disk, invoking onChange after each successful reload.
func WatchReload(v *viper.Viper, target *Config, onChange func()) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		var fresh Config
		if err := v.Unmarshal(&fresh); err != nil {
			return
		}
		*target = fresh
		if onChange != nil {
			onChange()
		}
	})
	v.WatchConfig()
}
