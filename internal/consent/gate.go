// Package consent decides, per tracking call, whether an event may be recorded.
package consent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/vincentbai/browsetrace/internal/logger"
)

// Provider exposes the visitor's "may we collect data" answer.
type Provider interface {
	Granted() bool
}

// StaticProvider is a fixed consent answer.
type StaticProvider bool

func (p StaticProvider) Granted() bool { return bool(p) }

// FuncProvider adapts a host callback.
type FuncProvider func() bool

func (f FuncProvider) Granted() bool { return f() }

// PrivilegeChecker reports whether the current visitor is privileged (staff,
// admins) and must not be tracked. It may be slow or fail.
type PrivilegeChecker interface {
	IsPrivileged(ctx context.Context) (bool, error)
}

// Context supplies the route and role the static rules are matched against.
type Context interface {
	Route() string
	Role() string
}

// Rules are the static exclusions.
type Rules struct {
	Enabled        bool
	DisabledRoutes []string
	DisabledRoles  []string
}

// Gate evaluates consent, static rules and the privileged-user check in that
// order. It has no side effects and caches nothing.
type Gate struct {
	provider     Provider
	checker      PrivilegeChecker
	context      Context
	enabled      bool
	routes       []glob.Glob
	roles        map[string]struct{}
	checkTimeout time.Duration
	log          logger.Logger
}

// Option configures a Gate.
type Option func(*Gate)

func WithPrivilegeChecker(c PrivilegeChecker) Option {
	return func(g *Gate) { g.checker = c }
}

func WithContext(c Context) Option {
	return func(g *Gate) { g.context = c }
}

func WithCheckTimeout(d time.Duration) Option {
	return func(g *Gate) { g.checkTimeout = d }
}

func WithLogger(log logger.Logger) Option {
	return func(g *Gate) { g.log = log }
}

// NewGate compiles the route globs; an invalid pattern is a configuration error.
func NewGate(provider Provider, rules Rules, opts ...Option) (*Gate, error) {
	g := &Gate{
		provider:     provider,
		enabled:      rules.Enabled,
		roles:        make(map[string]struct{}, len(rules.DisabledRoles)),
		checkTimeout: 500 * time.Millisecond,
		log:          logger.NewNop(),
	}
	for _, pattern := range rules.DisabledRoutes {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile disabled route %q: %w", pattern, err)
		}
		g.routes = append(g.routes, compiled)
	}
	for _, role := range rules.DisabledRoles {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			g.roles[role] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Eligible runs the synchronous checks only: consent and static rules.
func (g *Gate) Eligible() bool {
	if g.provider == nil || !g.provider.Granted() {
		return false
	}
	if !g.enabled {
		return false
	}
	if g.context == nil {
		return true
	}
	route := g.context.Route()
	for _, pattern := range g.routes {
		if pattern.Match(route) {
			return false
		}
	}
	_, disabled := g.roles[strings.ToLower(g.context.Role())]
	return !disabled
}

// ShouldTrack runs every check. A failing privileged-user check fails open:
// the error is logged and tracking is allowed.
func (g *Gate) ShouldTrack(ctx context.Context) bool {
	if !g.Eligible() {
		return false
	}
	return !g.Privileged(ctx)
}

// Privileged runs only the async check, bounded by the configured timeout.
func (g *Gate) Privileged(ctx context.Context) bool {
	if g.checker == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.checkTimeout)
	defer cancel()

	privileged, err := g.check(ctx)
	if err != nil {
		g.log.Warn("Privileged user check failed, tracking anyway", logger.Error(err))
		return false
	}
	return privileged
}

type checkResult struct {
	privileged bool
	err        error
}

// check runs the checker in its own goroutine so a checker that ignores ctx
// cannot hold the caller past the deadline.
func (g *Gate) check(ctx context.Context) (bool, error) {
	results := make(chan checkResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- checkResult{err: fmt.Errorf("privileged check panicked: %v", r)}
			}
		}()
		privileged, err := g.checker.IsPrivileged(ctx)
		results <- checkResult{privileged: privileged, err: err}
	}()

	select {
	case result := <-results:
		return result.privileged, result.err
	case <-ctx.Done():
		return false, fmt.Errorf("privileged check: %w", ctx.Err())
	}
}
