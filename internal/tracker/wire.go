package tracker

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/vincentbai/browsetrace/internal/builder"
	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/consent"
	"github.com/vincentbai/browsetrace/internal/delivery"
	"github.com/vincentbai/browsetrace/internal/logger"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/pending"
	"github.com/vincentbai/browsetrace/internal/scroll"
	"github.com/vincentbai/browsetrace/internal/transport"
)

// redisPingTimeout bounds the connection check of the Redis pending store.
const redisPingTimeout = 5 * time.Second

// Host is what the embedding application supplies.
type Host struct {
	Environment builder.Environment
	Identity    builder.Identity
	Consent     consent.Provider
	// Context supplies the route and role matched by the static rules.
	Context consent.Context
	// Token yields the visitor's bearer token for the privileged-user check.
	// The check is skipped when Token is nil or no secret is configured.
	Token    consent.TokenSource
	Viewport scroll.Viewport
	Frames   scroll.FrameScheduler
	// Clock replaces the wall clock, for replays.
	Clock func() time.Time
}

// FromConfig builds a tracker that talks to the configured collector and
// keeps its pending exit in the configured store.
func FromConfig(cfg *config.Tracker, host Host, log logger.Logger, reg prometheus.Registerer) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker config: %w", err)
	}

	gateOptions := []consent.Option{
		consent.WithLogger(log),
		consent.WithCheckTimeout(cfg.Consent.CheckTimeout),
	}
	if host.Context != nil {
		gateOptions = append(gateOptions, consent.WithContext(host.Context))
	}
	if host.Token != nil && cfg.Consent.TokenSecret != "" {
		checker := consent.NewJWTPrivilegeChecker(host.Token, cfg.Consent.TokenSecret, cfg.Consent.PrivilegedRoles)
		gateOptions = append(gateOptions, consent.WithPrivilegeChecker(checker))
	}
	gate, err := consent.NewGate(host.Consent, consent.Rules{
		Enabled:        cfg.Consent.TrackingEnabled(),
		DisabledRoutes: cfg.Consent.DisabledRoutes,
		DisabledRoles:  cfg.Consent.DisabledRoles,
	}, gateOptions...)
	if err != nil {
		return nil, err
	}

	store, closer, err := OpenPendingStore(cfg.Pending)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	if closer != nil {
		closers = append(closers, closer)
	}

	client := transport.NewClient(cfg.Collector.URL,
		transport.WithTimeout(cfg.Collector.Timeout),
		transport.WithBeaconTimeout(cfg.Collector.BeaconTimeout),
	)

	t, err := New(Options{
		Lifecycle: cfg.Lifecycle,
		Queue: delivery.QueueConfig{
			Size:        cfg.Queue.Size,
			MaxAttempts: cfg.Queue.MaxAttempts,
			RetryPause:  cfg.Queue.RetryPause,
		},
		Environment:     host.Environment,
		Identity:        host.Identity,
		Gate:            gate,
		Sink:            client,
		Beaconer:        client,
		Store:           store,
		Viewport:        host.Viewport,
		Frames:          host.Frames,
		RecoveryTimeout: cfg.Queue.RecoveryTimeout,
		Logger:          log,
		Metrics:         metrics.NewTracker(reg),
		Clock:           host.Clock,
		Closers:         closers,
	})
	if err != nil {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	return t, nil
}

// OpenPendingStore opens the pending exit store named by cfg.Driver. The
// closer is nil for stores that hold no resources.
func OpenPendingStore(cfg config.PendingConfig) (pending.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.PendingMemory:
		return pending.NewMemoryStore(), nil, nil
	case config.PendingRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})

		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return pending.NewRedisStore(client, cfg.RedisKey), client, nil
	case config.PendingSQLite, "":
		store, err := pending.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown pending driver %q", cfg.Driver)
	}
}
