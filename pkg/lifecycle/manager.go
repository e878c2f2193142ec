// Package lifecycle moves cache versions through install, waiting,
// activation and active, mirroring the deploy flow of the frontend it
// serves: a new version seeds its bootstrap namespace off to the side,
// waits for in-flight requests unless told not to, garbage-collects
// namespaces of older versions and then takes over routing.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ristomat/offline-edge/pkg/cache"
	"github.com/ristomat/offline-edge/pkg/strategy"
)

// Phase is the lifecycle state of the manager.
type Phase int

const (
	// PhaseIdle means no version has been deployed yet.
	PhaseIdle Phase = iota

	// PhaseInstalling means a candidate version is seeding its bootstrap
	// namespace.
	PhaseInstalling

	// PhaseWaiting means the candidate is installed and waiting for
	// in-flight requests to drain.
	PhaseWaiting

	// PhaseActivating means stale namespaces are being collected.
	PhaseActivating

	// PhaseActive means a version is serving.
	PhaseActive
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInstalling:
		return "installing"
	case PhaseWaiting:
		return "waiting"
	case PhaseActivating:
		return "activating"
	case PhaseActive:
		return "active"
	default:
		return "unknown"
	}
}

// Config assembles a Manager.
type Config struct {
	// Store is the namespace store shared with the engines.
	Store cache.Store

	// Seeder fills bootstrap namespaces during install. Required only
	// when deploys carry a manifest.
	Seeder *Seeder

	// SkipWaiting activates new versions without draining in-flight
	// requests first.
	SkipWaiting bool

	// Claim routes to the new version the moment it activates. With
	// Claim false the swap waits for the next idle moment instead.
	Claim bool

	// DrainPollInterval is how often drain waits re-check the in-flight
	// counter. Defaults to 25ms.
	DrainPollInterval time.Duration

	// Logger receives phase transitions and garbage collection events.
	Logger zerolog.Logger
}

// Manager owns the routing swap between cache versions. The gateway reads
// the current engine per request and reports request starts and ends, which
// is what the drain waits observe.
type Manager struct {
	store     cache.Store
	seeder    *Seeder
	skip      bool
	claim     bool
	drainPoll time.Duration
	logger    zerolog.Logger

	engine   atomic.Pointer[strategy.Engine]
	inflight atomic.Int64
	skipNow  atomic.Bool

	deployMu sync.Mutex

	phaseMu sync.Mutex
	phase   Phase
}

// NewManager validates cfg and builds a Manager in PhaseIdle.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	drainPoll := cfg.DrainPollInterval
	if drainPoll <= 0 {
		drainPoll = 25 * time.Millisecond
	}

	return &Manager{
		store:     cfg.Store,
		seeder:    cfg.Seeder,
		skip:      cfg.SkipWaiting,
		claim:     cfg.Claim,
		drainPoll: drainPoll,
		logger:    cfg.Logger,
		phase:     PhaseIdle,
	}, nil
}

// Engine returns the engine currently routing requests, or nil before the
// first successful deploy.
func (m *Manager) Engine() *strategy.Engine {
	return m.engine.Load()
}

// Version returns the active cache version, or "" before the first deploy.
func (m *Manager) Version() string {
	if engine := m.engine.Load(); engine != nil {
		return engine.Version()
	}
	return ""
}

// Phase returns the current lifecycle phase.
func (m *Manager) Phase() Phase {
	m.phaseMu.Lock()
	defer m.phaseMu.Unlock()
	return m.phase
}

func (m *Manager) setPhase(p Phase) {
	m.phaseMu.Lock()
	old := m.phase
	m.phase = p
	m.phaseMu.Unlock()
	if old != p {
		m.logger.Info().Str("from", old.String()).Str("to", p.String()).Msg("lifecycle phase changed")
	}
}

// BeginRequest marks a request in flight. The gateway calls it for every
// request it routes through an engine.
func (m *Manager) BeginRequest() {
	m.inflight.Add(1)
}

// EndRequest marks a request finished.
func (m *Manager) EndRequest() {
	m.inflight.Add(-1)
}

// Inflight returns the number of requests currently in flight.
func (m *Manager) Inflight() int64 {
	return m.inflight.Load()
}

// SkipWaiting marks the deploy in progress as exempt from the waiting
// phase. A deploy blocked in PhaseWaiting activates immediately; one still
// installing will not wait when it gets there. Each Deploy starts with the
// mark cleared, so the request applies to at most one version.
func (m *Manager) SkipWaiting() {
	m.skipNow.Store(true)
}

// Deploy installs a candidate engine's version and activates it. The
// install seeds the candidate's bootstrap namespace from manifest; any seed
// failure drops the half-filled namespace and leaves the current version
// serving, untouched. Deploys are serialized.
func (m *Manager) Deploy(ctx context.Context, engine *strategy.Engine, manifest []string) error {
	if engine == nil {
		return fmt.Errorf("engine cannot be nil")
	}

	m.deployMu.Lock()
	defer m.deployMu.Unlock()
	m.skipNow.Store(false)

	current := m.engine.Load()
	restore := func() {
		if current != nil {
			m.setPhase(PhaseActive)
		} else {
			m.setPhase(PhaseIdle)
		}
	}

	m.setPhase(PhaseInstalling)
	m.logger.Info().
		Str("version", engine.Version()).
		Int("manifest_entries", len(manifest)).
		Msg("installing cache version")

	if len(manifest) > 0 {
		if m.seeder == nil {
			restore()
			return fmt.Errorf("deploy carries a manifest but no seeder is configured")
		}
		bootstrap := engine.Namespace("bootstrap")
		if err := m.seeder.Seed(ctx, bootstrap, manifest); err != nil {
			installsTotal.WithLabelValues("failure").Inc()
			if derr := m.store.Drop(ctx, bootstrap); derr != nil {
				m.logger.Error().Err(derr).Str("namespace", bootstrap).Msg("failed to drop partial bootstrap namespace")
			}
			restore()
			return fmt.Errorf("install %s: %w", engine.Version(), err)
		}
	}
	installsTotal.WithLabelValues("success").Inc()

	if current != nil && !m.skip {
		m.setPhase(PhaseWaiting)
		if err := m.waitIdle(ctx, true); err != nil {
			restore()
			return fmt.Errorf("waiting for drain: %w", err)
		}
	}

	m.setPhase(PhaseActivating)
	if err := m.collectGarbage(ctx, engine); err != nil {
		// Stale namespaces cost space, not correctness; the next
		// activation retries them.
		m.logger.Warn().Err(err).Msg("namespace garbage collection incomplete")
	}

	if current != nil && !m.claim {
		if err := m.waitIdle(ctx, false); err != nil {
			restore()
			return fmt.Errorf("waiting to claim: %w", err)
		}
	}

	m.engine.Store(engine)
	m.setPhase(PhaseActive)
	m.logger.Info().Str("version", engine.Version()).Msg("cache version active")
	return nil
}

// waitIdle blocks until no requests are in flight. With allowSkip set, a
// SkipWaiting call releases the wait early.
func (m *Manager) waitIdle(ctx context.Context, allowSkip bool) error {
	ticker := time.NewTicker(m.drainPoll)
	defer ticker.Stop()

	for {
		if m.inflight.Load() == 0 {
			return nil
		}
		if allowSkip && m.skipNow.Load() {
			m.logger.Info().Msg("skip waiting requested, activating now")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// collectGarbage drops every namespace not belonging to the engine taking
// over. Bootstrap data of older versions goes with them; each version seeds
// its own.
func (m *Manager) collectGarbage(ctx context.Context, engine *strategy.Engine) error {
	keep := make(map[string]bool)
	for _, ns := range engine.Namespaces() {
		keep[ns] = true
	}

	names, err := m.store.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("list namespaces: %w", err)
	}

	for _, name := range names {
		if keep[name] {
			continue
		}
		if err := m.store.Drop(ctx, name); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
		namespacesDropped.Inc()
		m.logger.Info().Str("namespace", name).Msg("dropped stale namespace")
	}
	return nil
}
