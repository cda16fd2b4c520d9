package credentials

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/italolelis/media_downloader/internal/logctx"
)

const stateFileName = "cookie_state.json"

// Generator produces a fresh credential artifact and returns its path.
// Implementations must respect ctx cancellation.
type Generator interface {
	Generate(ctx context.Context) (string, error)
}

// StatusSink receives credential phase transitions. The manager never calls
// it while holding its own lock.
type StatusSink func(phase Phase, message string)

// Manager owns the credential lifecycle: generate once, cache, expire,
// regenerate. At most one generation cycle is in flight system-wide; the
// caller that flips the generating flag does the work on a dedicated
// goroutine, everyone else returns immediately.
type Manager struct {
	dir               string
	statePath         string
	generator         Generator
	ttl               time.Duration
	cooldown          time.Duration
	generationTimeout time.Duration
	sink              StatusSink
	now               func() time.Time

	mu    sync.Mutex
	state State
	wg    sync.WaitGroup
}

type ManagerOpts struct {
	Dir               string
	TTL               time.Duration
	ErrorCooldown     time.Duration
	GenerationTimeout time.Duration
	Sink              StatusSink
}

func NewManager(gen Generator, opts ManagerOpts) *Manager {
	sink := opts.Sink
	if sink == nil {
		sink = func(Phase, string) {}
	}

	return &Manager{
		dir:               opts.Dir,
		statePath:         filepath.Join(opts.Dir, stateFileName),
		generator:         gen,
		ttl:               opts.TTL,
		cooldown:          opts.ErrorCooldown,
		generationTimeout: opts.GenerationTimeout,
		sink:              sink,
		now:               time.Now,
	}
}

// Load restores the persisted state record so a restart reuses a still-valid
// artifact. A stale or missing artifact file invalidates the state.
func (m *Manager) Load(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return &StorageError{Operation: "create_dir", Err: err}
	}

	state, err := loadState(m.statePath)
	if err != nil {
		logger.Warn("failed to load credential state, starting empty", "err", err)

		state = State{}
	}

	if state.Valid {
		if err := ValidateNetscapeFile(state.Path); err != nil {
			logger.Warn("cached cookie artifact failed validation", "path", state.Path, "err", err)

			state.Valid = false
			state.LastError = "cookie artifact validation failed"
		}
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	logger.Info("credential state loaded",
		"phase", string(state.Phase()),
		"expires_at", state.ExpiresAt,
	)

	return nil
}

// IsReady reports whether a valid, unexpired artifact is available.
func (m *Manager) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.Valid && !m.state.IsExpired(m.now())
}

// IsGenerating reports whether a generation cycle is in flight.
func (m *Manager) IsGenerating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.Generating
}

// ArtifactPath returns the usable artifact location, or ErrNotReady.
func (m *Manager) ArtifactPath() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.Valid || m.state.IsExpired(m.now()) {
		return "", ErrNotReady
	}

	return m.state.Path, nil
}

// State returns a copy of the current state record.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// EnsureFresh idempotently triggers generation when state is empty, errored
// past its cooldown, or expired. It never blocks on the generation itself:
// the winner spawns a dedicated goroutine and everyone else returns at once.
func (m *Manager) EnsureFresh(ctx context.Context) {
	m.mu.Lock()

	now := m.now()

	if m.state.Generating || !m.state.ShouldRegenerate(now) {
		m.mu.Unlock()

		return
	}

	if m.state.LastError != "" && !m.state.LastErrorAt.IsZero() && now.Sub(m.state.LastErrorAt) < m.cooldown {
		m.mu.Unlock()

		return
	}

	m.state.Generating = true
	m.state.Valid = false
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.sink(PhaseGenerating, "generating fresh cookies")

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		m.generate(ctx)
	}()
}

// Invalidate discards the current artifact and triggers regeneration. Called
// by adapters that detect dead cookies mid-download.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()

	if m.state.Generating {
		m.mu.Unlock()

		return
	}

	m.removeArtifactsLocked(ctx)
	m.state.Valid = false
	m.state.LastError = "invalidated after rejection by the platform"
	m.state.LastErrorAt = time.Time{} // skip the error cooldown, regenerate now
	m.persistLocked(ctx)
	m.mu.Unlock()

	m.EnsureFresh(ctx)
}

// Run drives the background refresh cycle until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.EnsureFresh(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("credential manager shutting down")
			m.wg.Wait()

			return
		case <-ticker.C:
			m.EnsureFresh(ctx)
		}
	}
}

func (m *Manager) generate(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.generationTimeout)
	defer cancel()

	path, err := m.generator.Generate(genCtx)

	now := m.now()

	m.mu.Lock()

	m.state.Generating = false

	if err != nil {
		m.state.Valid = false
		m.state.LastError = err.Error()
		m.state.LastErrorAt = now
		m.persistLocked(ctx)
		m.mu.Unlock()

		logger.Error("cookie generation failed", "err", err)
		m.sink(PhaseError, err.Error())

		return
	}

	m.state = State{
		GeneratedAt: now,
		ExpiresAt:   now.Add(m.ttl),
		Valid:       true,
		Path:        path,
	}
	m.persistLocked(ctx)
	m.mu.Unlock()

	logger.Info("cookie generation succeeded", "path", path, "expires_at", now.Add(m.ttl))
	m.sink(PhaseValid, "cookies refreshed")
}

func (m *Manager) persistLocked(ctx context.Context) {
	if err := saveState(m.statePath, m.state); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to persist credential state", "err", err)
	}
}

func (m *Manager) removeArtifactsLocked(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	if m.state.Path == "" {
		return
	}

	if err := os.Remove(m.state.Path); err != nil && !os.IsNotExist(err) {
		logger.Warn("failed to remove stale cookie artifact", "path", m.state.Path, "err", err)
	}

	m.state.Path = ""
}
