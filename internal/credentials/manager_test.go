package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	mu      sync.Mutex
	calls   int32
	block   chan struct{}
	err     error
	dir     string
	started chan struct{}
}

func newFakeGenerator(dir string) *fakeGenerator {
	return &fakeGenerator{
		dir:     dir,
		started: make(chan struct{}, 16),
	}
}

func (g *fakeGenerator) Generate(ctx context.Context) (string, error) {
	atomic.AddInt32(&g.calls, 1)
	g.started <- struct{}{}

	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	err := g.err
	g.mu.Unlock()

	if err != nil {
		return "", err
	}

	path := filepath.Join(g.dir, "cookies.txt")
	cookies := []Cookie{{Name: "YSC", Value: "x", Domain: ".youtube.com", Path: "/"}}

	if err := WriteNetscapeFile(path, cookies); err != nil {
		return "", err
	}

	return path, nil
}

func (g *fakeGenerator) callCount() int {
	return int(atomic.LoadInt32(&g.calls))
}

func newTestManager(t *testing.T, gen Generator) *Manager {
	t.Helper()

	dir := t.TempDir()

	m := NewManager(gen, ManagerOpts{
		Dir:               dir,
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Minute,
		GenerationTimeout: 5 * time.Second,
	})
	require.NoError(t, m.Load(context.Background()))

	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("condition not met in time")
}

func TestEnsureFresh_SingleFlight(t *testing.T) {
	gen := newFakeGenerator(t.TempDir())
	gen.block = make(chan struct{})

	m := newTestManager(t, gen)

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			m.EnsureFresh(ctx)
		}()
	}

	wg.Wait()

	// All callers returned immediately; exactly one generation started.
	<-gen.started
	assert.True(t, m.IsGenerating())
	assert.False(t, m.IsReady())
	assert.Equal(t, 1, gen.callCount())

	close(gen.block)

	waitFor(t, m.IsReady)
	assert.Equal(t, 1, gen.callCount())
	assert.False(t, m.IsGenerating())
}

func TestEnsureFresh_ValidStateIsNoop(t *testing.T) {
	gen := newFakeGenerator(t.TempDir())
	m := newTestManager(t, gen)

	ctx := context.Background()

	m.EnsureFresh(ctx)
	waitFor(t, m.IsReady)

	m.EnsureFresh(ctx)
	m.EnsureFresh(ctx)

	assert.Equal(t, 1, gen.callCount())
}

func TestEnsureFresh_RegeneratesAfterExpiry(t *testing.T) {
	gen := newFakeGenerator(t.TempDir())
	m := newTestManager(t, gen)

	ctx := context.Background()

	m.EnsureFresh(ctx)
	waitFor(t, m.IsReady)

	// Jump the clock past the TTL.
	m.now = func() time.Time { return time.Now().Add(9 * time.Hour) }

	assert.False(t, m.IsReady())

	_, err := m.ArtifactPath()
	assert.ErrorIs(t, err, ErrNotReady)

	m.EnsureFresh(ctx)

	waitFor(t, func() bool { return gen.callCount() == 2 })
}

func TestEnsureFresh_ErrorCooldown(t *testing.T) {
	gen := newFakeGenerator(t.TempDir())
	gen.err = errors.New("network down")

	m := newTestManager(t, gen)

	ctx := context.Background()

	m.EnsureFresh(ctx)
	waitFor(t, func() bool { return !m.IsGenerating() && gen.callCount() == 1 })

	state := m.State()
	assert.Equal(t, PhaseError, state.Phase())
	assert.Contains(t, state.LastError, "network down")

	// Within the cooldown window nothing new starts.
	m.EnsureFresh(ctx)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, gen.callCount())

	// Past the cooldown a new cycle is allowed.
	m.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	gen.mu.Lock()
	gen.err = nil
	gen.mu.Unlock()

	m.EnsureFresh(ctx)
	waitFor(t, m.IsReady)
	assert.Equal(t, 2, gen.callCount())
}

func TestManager_StatePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	gen := newFakeGenerator(dir)

	m := NewManager(gen, ManagerOpts{
		Dir:               dir,
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Minute,
		GenerationTimeout: 5 * time.Second,
	})

	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	m.EnsureFresh(ctx)
	waitFor(t, m.IsReady)

	// A fresh manager over the same dir picks up the valid artifact.
	m2 := NewManager(gen, ManagerOpts{
		Dir:               dir,
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Minute,
		GenerationTimeout: 5 * time.Second,
	})
	require.NoError(t, m2.Load(ctx))

	assert.True(t, m2.IsReady())

	path, err := m2.ArtifactPath()
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestManager_LoadInvalidatesMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	gen := newFakeGenerator(dir)

	m := NewManager(gen, ManagerOpts{
		Dir:               dir,
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Minute,
		GenerationTimeout: 5 * time.Second,
	})

	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	m.EnsureFresh(ctx)
	waitFor(t, m.IsReady)

	path, err := m.ArtifactPath()
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	m2 := NewManager(gen, ManagerOpts{
		Dir:               dir,
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Minute,
		GenerationTimeout: 5 * time.Second,
	})
	require.NoError(t, m2.Load(ctx))

	assert.False(t, m2.IsReady())
}

func TestManager_SinkReceivesTransitions(t *testing.T) {
	gen := newFakeGenerator(t.TempDir())

	dir := t.TempDir()

	var (
		mu     sync.Mutex
		phases []Phase
	)

	m := NewManager(gen, ManagerOpts{
		Dir:               dir,
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Minute,
		GenerationTimeout: 5 * time.Second,
		Sink: func(phase Phase, _ string) {
			mu.Lock()
			phases = append(phases, phase)
			mu.Unlock()
		},
	})

	ctx := context.Background()
	require.NoError(t, m.Load(ctx))

	m.EnsureFresh(ctx)
	waitFor(t, m.IsReady)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, phases, 2)
	assert.Equal(t, PhaseGenerating, phases[0])
	assert.Equal(t, PhaseValid, phases[1])
}

func TestState_ValidAndGeneratingNeverBothTrue(t *testing.T) {
	gen := newFakeGenerator(t.TempDir())
	gen.block = make(chan struct{})

	m := newTestManager(t, gen)

	ctx := context.Background()

	m.EnsureFresh(ctx)
	<-gen.started

	state := m.State()
	assert.True(t, state.Generating)
	assert.False(t, state.Valid)

	close(gen.block)
	waitFor(t, m.IsReady)

	state = m.State()
	assert.True(t, state.Valid)
	assert.False(t, state.Generating)
}
