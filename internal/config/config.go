// Package config loads the settings the nix-store-client command needs to
// open a daemon.Client: the daemon socket path and the operation timeouts
// layered around it. The core pkg/daemon library takes none of this as a
// dependency; it stays free of viper, xdg, and everything else here.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NIX_STORE_CLIENT_*, plus the NIX_REMOTE
//     convention real Nix tooling already uses for the socket path)
//  2. Configuration file (YAML, found via XDG base directories)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
)

// defaultSocket is the path the Nix daemon listens on in a standard
// multi-user installation.
const defaultSocket = "/nix/var/nix/daemon-socket/socket"

const envPrefix = "NIX_STORE_CLIENT"

// Config holds everything nix-store-client needs to dial and drive a
// daemon.Client.
type Config struct {
	// SocketPath is the path to the daemon's Unix domain socket.
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`

	// DialTimeout bounds how long the socket dial may take. The handshake
	// that follows the dial is not covered by it.
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`

	// OpTimeout bounds how long a single daemon operation may run. Zero
	// means no per-operation deadline beyond the caller's context.
	OpTimeout time.Duration `mapstructure:"op_timeout" yaml:"op_timeout"`

	// StoreDir is the store's root directory. Store-path arguments given
	// to the commands are checked against it before they are sent.
	StoreDir string `mapstructure:"store_dir" yaml:"store_dir"`
}

// Default returns the configuration nix-store-client falls back to when no
// file or environment override is present.
func Default() *Config {
	return &Config{
		SocketPath:  defaultSocket,
		DialTimeout: 10 * time.Second,
		OpTimeout:   0,
		StoreDir:    "/nix/store",
	}
}

// Option customizes a Config after it has been loaded.
type Option func(*Config)

// WithSocketPath overrides the daemon socket path, taking precedence over
// whatever the file or environment selected.
func WithSocketPath(path string) Option {
	return func(c *Config) {
		if path != "" {
			c.SocketPath = path
		}
	}
}

// WithDialTimeout overrides the socket dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.DialTimeout = d
		}
	}
}

// Load builds a Config from, in increasing precedence: built-in defaults,
// an optional YAML config file resolved via XDG base directories (or
// configPath, if non-empty), NIX_STORE_CLIENT_* environment variables, the
// NIX_REMOTE convention, and finally opts.
func Load(configPath string, opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	setupEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir, err := xdg.ConfigFile("nix-store-client/config.yaml")
		if err != nil {
			return nil, fmt.Errorf("config: resolve xdg config path: %w", err)
		}

		v.SetConfigFile(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// NIX_REMOTE is the convention upstream Nix tooling already uses to
	// point at a non-default daemon socket; honor it above our own env
	// var so nix-store-client behaves like the rest of the toolchain.
	if remote := v.GetString("nix_remote"); remote != "" {
		cfg.SocketPath = remote
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("socket_path", d.SocketPath)
	v.SetDefault("dial_timeout", d.DialTimeout)
	v.SetDefault("op_timeout", d.OpTimeout)
	v.SetDefault("store_dir", d.StoreDir)
}

func setupEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("nix_remote", "NIX_REMOTE")
}
