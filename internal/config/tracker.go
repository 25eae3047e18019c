package config

import (
	"path/filepath"
	"time"

	"github.com/vincentbai/browsetrace/internal/logger"
)

// Pending store drivers.
const (
	PendingSQLite = "sqlite"
	PendingRedis  = "redis"
	PendingMemory = "memory"
)

const (
	defaultCollectorURL        = "http://127.0.0.1:8123"
	defaultCollectorTimeout    = 5 * time.Second
	defaultBeaconTimeout       = 10 * time.Second
	defaultDedupWindow         = time.Second
	defaultHeartbeatInterval   = 30 * time.Second
	defaultHeartbeatMinElapsed = 5 * time.Second
	defaultFrameInterval       = 16 * time.Millisecond
	defaultQueueSize           = 256
	defaultMaxAttempts         = 3
	defaultRetryPause          = 200 * time.Millisecond
	defaultRecoveryTimeout     = 3 * time.Second
	defaultPendingFile         = "pending.db"
	defaultRedisKey            = "browsetrace:pending_exit"
	defaultCheckTimeout        = 500 * time.Millisecond
)

// Tracker is the configuration of an embedded tracker.
type Tracker struct {
	Collector CollectorEndpoint `yaml:"collector"`
	Lifecycle LifecycleConfig   `yaml:"lifecycle"`
	Queue     QueueConfig       `yaml:"queue"`
	Pending   PendingConfig     `yaml:"pending"`
	Consent   ConsentConfig     `yaml:"consent"`
	Logging   logger.Config     `yaml:"logging"`
}

type CollectorEndpoint struct {
	URL           string        `env:"BROWSETRACE_COLLECTOR_URL" yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	BeaconTimeout time.Duration `yaml:"beacon_timeout"`
}

type LifecycleConfig struct {
	DedupWindow         time.Duration `yaml:"dedup_window"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	HeartbeatMinElapsed time.Duration `yaml:"heartbeat_min_elapsed"`
	FrameInterval       time.Duration `yaml:"frame_interval"`
}

type QueueConfig struct {
	Size            int           `yaml:"size"`
	MaxAttempts     int           `yaml:"max_attempts"`
	RetryPause      time.Duration `yaml:"retry_pause"`
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

type PendingConfig struct {
	Driver       string `env:"BROWSETRACE_PENDING_DRIVER" yaml:"driver"`
	Path         string `env:"BROWSETRACE_PENDING_PATH"   yaml:"path"`
	RedisAddress string `env:"REDIS_ADDRESS"              yaml:"redis_address"`
	RedisKey     string `yaml:"redis_key"`
}

type ConsentConfig struct {
	Enabled         *bool         `yaml:"enabled"`
	DisabledRoutes  []string      `yaml:"disabled_routes"`
	DisabledRoles   []string      `yaml:"disabled_roles"`
	PrivilegedRoles []string      `yaml:"privileged_roles"`
	TokenSecret     string        `env:"BROWSETRACE_TOKEN_SECRET" yaml:"token_secret"`
	CheckTimeout    time.Duration `yaml:"check_timeout"`
}

// TrackingEnabled reports the static on/off switch; unset means on.
func (c ConsentConfig) TrackingEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// LoadTracker reads the tracker config; the file is optional.
func LoadTracker(path string) (*Tracker, error) {
	return Load[Tracker](path, true, SetTrackerDefaults)
}

// SetTrackerDefaults fills every unset tracker setting.
func SetTrackerDefaults(cfg *Tracker) {
	setDuration(&cfg.Collector.Timeout, defaultCollectorTimeout)
	setDuration(&cfg.Collector.BeaconTimeout, defaultBeaconTimeout)
	if cfg.Collector.URL == "" {
		cfg.Collector.URL = defaultCollectorURL
	}

	setDuration(&cfg.Lifecycle.DedupWindow, defaultDedupWindow)
	setDuration(&cfg.Lifecycle.HeartbeatInterval, defaultHeartbeatInterval)
	setDuration(&cfg.Lifecycle.HeartbeatMinElapsed, defaultHeartbeatMinElapsed)
	setDuration(&cfg.Lifecycle.FrameInterval, defaultFrameInterval)

	if cfg.Queue.Size == 0 {
		cfg.Queue.Size = defaultQueueSize
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = defaultMaxAttempts
	}
	setDuration(&cfg.Queue.RetryPause, defaultRetryPause)
	setDuration(&cfg.Queue.RecoveryTimeout, defaultRecoveryTimeout)

	if cfg.Pending.Driver == "" {
		cfg.Pending.Driver = PendingSQLite
	}
	if cfg.Pending.Path == "" {
		cfg.Pending.Path = filepath.Join(ApplicationDirectory(), defaultPendingFile)
	}
	if cfg.Pending.RedisKey == "" {
		cfg.Pending.RedisKey = defaultRedisKey
	}

	setDuration(&cfg.Consent.CheckTimeout, defaultCheckTimeout)
	cfg.Logging.SetDefaults()
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate validates the tracker configuration.
func (c *Tracker) Validate() error {
	if err := validateHTTPURL("collector.url", c.Collector.URL); err != nil {
		return err
	}
	if err := validatePositive("queue.size", c.Queue.Size); err != nil {
		return err
	}
	if err := validatePositive("queue.max_attempts", c.Queue.MaxAttempts); err != nil {
		return err
	}
	switch c.Pending.Driver {
	case PendingSQLite:
		if err := validateRequired("pending.path", c.Pending.Path); err != nil {
			return err
		}
	case PendingRedis:
		if err := validateRequired("pending.redis_address", c.Pending.RedisAddress); err != nil {
			return err
		}
	case PendingMemory:
	default:
		return &ValidationError{Field: "pending.driver", Message: "must be one of: sqlite, redis, memory"}
	}
	if c.Lifecycle.HeartbeatMinElapsed > c.Lifecycle.HeartbeatInterval {
		return &ValidationError{Field: "lifecycle.heartbeat_min_elapsed", Message: "must not exceed heartbeat_interval"}
	}
	return validateLogLevel("logging.level", c.Logging.Level)
}
