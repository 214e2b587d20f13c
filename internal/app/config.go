package app

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the role service.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":4000"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// Keto read and write APIs listen on separate ports.
	KetoReadURL  string        `envconfig:"KETO_READ_URL" default:"http://127.0.0.1:4466"`
	KetoWriteURL string        `envconfig:"KETO_WRITE_URL" default:"http://127.0.0.1:4467"`
	KetoTimeout  time.Duration `envconfig:"KETO_TIMEOUT" default:"5s"`

	// File persistence. Empty ROLES_DATA_FILE keeps the catalog in-memory only.
	RolesDataFile       string        `envconfig:"ROLES_DATA_FILE" default:""`
	RolesBackupDir      string        `envconfig:"ROLES_BACKUP_DIR" default:""`
	RolesMaxBackups     int           `envconfig:"ROLES_MAX_BACKUPS" default:"5"`
	AutosaveInterval    time.Duration `envconfig:"ROLES_AUTOSAVE_INTERVAL" default:"0"`
	DefaultNamespace    string        `envconfig:"ROLES_DEFAULT_NAMESPACE" default:"roles"`
	MaxInheritanceDepth int           `envconfig:"ROLES_MAX_INHERITANCE_DEPTH" default:"10"`

	// Optional collaborators.
	RedisAddr        string        `envconfig:"REDIS_ADDR" default:""`
	ReadbackCacheTTL time.Duration `envconfig:"READBACK_CACHE_TTL" default:"30s"`
	PGDSN            string        `envconfig:"PG_DSN" default:""`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.RolesDataFile != "" && cfg.RolesBackupDir == "" {
		return nil, errors.New("ROLES_BACKUP_DIR must be set when ROLES_DATA_FILE is set")
	}
	if cfg.RolesMaxBackups < 1 {
		return nil, errors.New("ROLES_MAX_BACKUPS must be at least 1")
	}
	return &cfg, nil
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
