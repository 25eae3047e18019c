package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/vincentbai/browsetrace/internal/logger"
)

const (
	defaultAddress        = "127.0.0.1:8123"
	defaultReadTimeout    = 5 * time.Second
	defaultWriteTimeout   = 5 * time.Second
	defaultShutdownWait   = 30 * time.Second
	defaultMaxBeaconBytes = 64 << 10
	defaultDatabaseFile   = "events.db"
)

// Collector is the configuration of the browsetrace-agent collector process.
type Collector struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  logger.Config  `yaml:"logging"`
}

type ServerConfig struct {
	Address         string        `env:"BROWSETRACE_ADDRESS"  yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBeaconBytes  int64         `yaml:"max_beacon_bytes"`
}

type DatabaseConfig struct {
	Path string `env:"BROWSETRACE_DB_PATH" yaml:"path"`
}

// LoadCollector reads the collector config; the file is optional.
func LoadCollector(path string) (*Collector, error) {
	return Load[Collector](path, true, setCollectorDefaults)
}

func setCollectorDefaults(cfg *Collector) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownWait
	}
	if cfg.Server.MaxBeaconBytes == 0 {
		cfg.Server.MaxBeaconBytes = defaultMaxBeaconBytes
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(ApplicationDirectory(), defaultDatabaseFile)
	}
	cfg.Logging.SetDefaults()
}

// ApplicationDirectory returns the platform-specific app data directory.
func ApplicationDirectory() string {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		homeDirectory = os.TempDir()
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDirectory, "Library", "Application Support", "BrowserTrace")
	case "windows":
		return filepath.Join(homeDirectory, "AppData", "Roaming", "BrowserTrace")
	default: // linux and others
		return filepath.Join(homeDirectory, ".local", "share", "BrowserTrace")
	}
}

// Validate validates the collector configuration.
func (c *Collector) Validate() error {
	if err := validateRequired("server.address", c.Server.Address); err != nil {
		return err
	}
	if err := validateRequired("database.path", c.Database.Path); err != nil {
		return err
	}
	if c.Server.MaxBeaconBytes <= 0 {
		return &ValidationError{Field: "server.max_beacon_bytes", Message: "must be positive"}
	}
	return validateLogLevel("logging.level", c.Logging.Level)
}
