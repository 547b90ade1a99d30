package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Connection is a saved backend connection shown as a top-level root of the tree.
type Connection struct {
	ID          string                 `json:"id" gorm:"primaryKey;size:36"`
	Name        string                 `json:"name" gorm:"uniqueIndex;not null"`
	Kind        BackendKind            `json:"kind" gorm:"size:20;not null"`
	Description string                 `json:"description"`
	Config      map[string]interface{} `json:"config" gorm:"serializer:json"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func (Connection) TableName() string {
	return "connections"
}

// LocalConnectorName names the built-in local folders connector.
const LocalConnectorName = "local"

// IsReservedConnectionName reports whether name belongs to a built-in
// connector and so cannot be used by a saved connection.
func IsReservedConnectionName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), LocalConnectorName)
}

// RepositoryConfig style repository (GeoServer REST) connection config
type RepositoryConfig struct {
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Timeout  int    `json:"timeout,omitempty"` // seconds
}

// DatabaseConfig database connection config
//
// Driver: "mysql", "postgres" or "sqlite". For sqlite, Database is the file path.
type DatabaseConfig struct {
	Driver   string `json:"driver"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database"`
	Schema   string `json:"schema,omitempty"` // postgres only, default "public"
	SSL      bool   `json:"ssl"`
	Timeout  int    `json:"timeout,omitempty"`
}

// SFTPConfig remote folder over SFTP
type SFTPConfig struct {
	Host                 string `json:"host"`
	Port                 int    `json:"port,omitempty"`
	Username             string `json:"username"`
	Password             string `json:"password,omitempty"`
	PrivateKeyPath       string `json:"private_key_path,omitempty"`
	PrivateKeyPassphrase string `json:"private_key_passphrase,omitempty"`
	PrivateKey           string `json:"private_key,omitempty"`
	Path                 string `json:"path,omitempty"` // base directory, default "/"
	Timeout              int    `json:"timeout,omitempty"`
}

// RedisConfig key-value style cache
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"` // key prefix, default "styles:"
}

// CreateConnectionRequest create connection request
type CreateConnectionRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Kind        BackendKind            `json:"kind" binding:"required"`
	Description string                 `json:"description"`
	Config      map[string]interface{} `json:"config" binding:"required"`
}

// UpdateConnectionRequest update connection request
type UpdateConnectionRequest struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Config      map[string]interface{} `json:"config"`
}

// ValidateConfig validate config based on kind
func (c *Connection) ValidateConfig() error {
	switch c.Kind {
	case BackendRepository:
		return c.validateRepositoryConfig()
	case BackendDatabase:
		return c.validateDatabaseConfig()
	case BackendSFTP:
		return c.validateSFTPConfig()
	case BackendRedis:
		return c.validateRedisConfig()
	case BackendLocal:
		return fmt.Errorf("local folders are configured in config.yaml, not as connections")
	}
	return fmt.Errorf("unknown connection kind: %s", c.Kind)
}

func (c *Connection) validateRepositoryConfig() error {
	var cfg RepositoryConfig
	if err := c.GetTypedConfig(&cfg); err != nil {
		return fmt.Errorf("invalid repository config format: %w", err)
	}
	if cfg.URL == "" {
		return fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

func (c *Connection) validateDatabaseConfig() error {
	var cfg DatabaseConfig
	if err := c.GetTypedConfig(&cfg); err != nil {
		return fmt.Errorf("invalid database config format: %w", err)
	}
	switch cfg.Driver {
	case "mysql", "postgres":
		if cfg.Host == "" {
			return fmt.Errorf("host is required for %s", cfg.Driver)
		}
		if cfg.Username == "" {
			return fmt.Errorf("username is required for %s", cfg.Driver)
		}
	case "sqlite":
	default:
		return fmt.Errorf("driver must be one of: mysql, postgres, sqlite")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative")
	}
	return nil
}

func (c *Connection) validateSFTPConfig() error {
	var cfg SFTPConfig
	if err := c.GetTypedConfig(&cfg); err != nil {
		return fmt.Errorf("invalid SFTP config format: %w", err)
	}
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Username == "" {
		return fmt.Errorf("username is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if cfg.Path != "" && !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("path must be absolute")
	}
	return nil
}

func (c *Connection) validateRedisConfig() error {
	var cfg RedisConfig
	if err := c.GetTypedConfig(&cfg); err != nil {
		return fmt.Errorf("invalid redis config format: %w", err)
	}
	if cfg.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if cfg.DB < 0 {
		return fmt.Errorf("db must be non-negative")
	}
	return nil
}

// GetTypedConfig decode generic map config into target struct
func (c *Connection) GetTypedConfig(target interface{}) error {
	configBytes, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	return json.Unmarshal(configBytes, target)
}
