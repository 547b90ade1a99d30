package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.styletree/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8089
// log:
//   level: info
// tree:
//   timeout: 10s
//   queue_size: 256
//   watch: true
//   include_hidden: false
// handlers: [style, bundle, vector, raster, table]
// local:
//   roots: [/home/me/styles]
// store:
//   path: /home/me/.styletree/connections.db
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed or is invalid, Load returns an error.
// - STYLETREE_PORT overrides server.port.
type AppConfig struct {
	Server   ServerConfig `yaml:"server"`
	Log      LogConfig    `yaml:"log"`
	Tree     TreeConfig   `yaml:"tree"`
	Handlers []string     `yaml:"handlers,omitempty"`
	Local    LocalConfig  `yaml:"local"`
	Store    StoreConfig  `yaml:"store"`
}

type ServerConfig struct {
	Host *string `yaml:"host"`
	Port *int    `yaml:"port"`
}

type LogConfig struct {
	Level *string `yaml:"level"`
}

type TreeConfig struct {
	Timeout       *string `yaml:"timeout"`
	QueueSize     *int    `yaml:"queue_size"`
	Watch         *bool   `yaml:"watch"`
	IncludeHidden *bool   `yaml:"include_hidden"`
}

type LocalConfig struct {
	Roots []string `yaml:"roots,omitempty"`
}

type StoreConfig struct {
	Path *string `yaml:"path"`
}

const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8089
	DefaultLogLevel  = "info"
	DefaultTimeout   = 10 * time.Second
	DefaultQueueSize = 256

	PortEnv = "STYLETREE_PORT"
)

var DefaultHandlers = []string{"style", "bundle", "vector", "raster", "table"}

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".styletree")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.styletree/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadFile(configFile)
	if err != nil {
		return nil, "", err
	}
	return cfg, configFile, nil
}

// LoadFile reads and validates a config file at an explicit path.
func LoadFile(configFile string) (*AppConfig, error) {
	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w in %s", err, configFile)
	}
	return cfg, nil
}

// Validate checks the explicitly set values.
func (c *AppConfig) Validate() error {
	if c.Server.Host != nil && strings.TrimSpace(*c.Server.Host) == "" {
		return fmt.Errorf("invalid server.host (empty)")
	}
	if c.Server.Port != nil && (*c.Server.Port < 1 || *c.Server.Port > 65535) {
		return fmt.Errorf("invalid server.port %d", *c.Server.Port)
	}
	if c.Tree.Timeout != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*c.Tree.Timeout))
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid tree.timeout %q", *c.Tree.Timeout)
		}
	}
	if c.Tree.QueueSize != nil && *c.Tree.QueueSize < 1 {
		return fmt.Errorf("invalid tree.queue_size %d", *c.Tree.QueueSize)
	}
	if c.Log.Level != nil {
		switch strings.ToLower(strings.TrimSpace(*c.Log.Level)) {
		case "debug", "info", "warn", "warning", "error":
		default:
			return fmt.Errorf("invalid log.level %q", *c.Log.Level)
		}
	}
	return nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Log:      LogConfig{Level: ptr(DefaultLogLevel)},
		Tree:     TreeConfig{Timeout: ptr(DefaultTimeout.String()), QueueSize: ptr(DefaultQueueSize), Watch: ptr(true), IncludeHidden: ptr(false)},
		Handlers: DefaultHandlers,
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	// Write with restrictive permissions.
	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if v := strings.TrimSpace(os.Getenv(PortEnv)); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			return p
		}
	}
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

func (c *AppConfig) LogLevel() string {
	if c == nil || c.Log.Level == nil || strings.TrimSpace(*c.Log.Level) == "" {
		return DefaultLogLevel
	}
	return strings.ToLower(strings.TrimSpace(*c.Log.Level))
}

func (c *AppConfig) Timeout() time.Duration {
	if c == nil || c.Tree.Timeout == nil {
		return DefaultTimeout
	}
	d, err := time.ParseDuration(strings.TrimSpace(*c.Tree.Timeout))
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

func (c *AppConfig) QueueSize() int {
	if c == nil || c.Tree.QueueSize == nil || *c.Tree.QueueSize < 1 {
		return DefaultQueueSize
	}
	return *c.Tree.QueueSize
}

func (c *AppConfig) Watch() bool {
	if c == nil || c.Tree.Watch == nil {
		return true
	}
	return *c.Tree.Watch
}

func (c *AppConfig) IncludeHidden() bool {
	if c == nil || c.Tree.IncludeHidden == nil {
		return false
	}
	return *c.Tree.IncludeHidden
}

// HandlerNames returns the built-in handlers to activate, in registration order.
func (c *AppConfig) HandlerNames() []string {
	if c == nil || len(c.Handlers) == 0 {
		return DefaultHandlers
	}
	return c.Handlers
}

// LocalRoots returns the local folders shown as roots; the user's home by default.
func (c *AppConfig) LocalRoots() []string {
	if c != nil && len(c.Local.Roots) > 0 {
		out := make([]string, 0, len(c.Local.Roots))
		for _, r := range c.Local.Roots {
			out = append(out, expandHome(r))
		}
		return out
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{home}
}

// StorePath returns the saved-connections database path.
func (c *AppConfig) StorePath() string {
	if c != nil && c.Store.Path != nil && strings.TrimSpace(*c.Store.Path) != "" {
		return expandHome(strings.TrimSpace(*c.Store.Path))
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return "connections.db"
	}
	return filepath.Join(configDir, "connections.db")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func ptr[T any](v T) *T { return &v }
