package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	NoopSink

	mu          sync.Mutex
	progress    []float64
	terminals   []registry.Status
	credentials []credentials.Phase
	busyChanges []bool
}

func (s *recordingSink) OnProgress(_ string, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, percent)
}

func (s *recordingSink) OnTerminal(_ string, status registry.Status, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminals = append(s.terminals, status)
}

func (s *recordingSink) OnCredentialStatus(phase credentials.Phase, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = append(s.credentials, phase)
}

func (s *recordingSink) OnGloballyBusyChanged(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busyChanges = append(s.busyChanges, busy)
}

func (s *recordingSink) snapshot() (progress []float64, terminals []registry.Status, creds []credentials.Phase, busy []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]float64(nil), s.progress...),
		append([]registry.Status(nil), s.terminals...),
		append([]credentials.Phase(nil), s.credentials...),
		append([]bool(nil), s.busyChanges...)
}

func startCoordinator(t *testing.T, reg *registry.Registry, sink Sink) (*Coordinator, func()) {
	t.Helper()

	c := NewCoordinator(reg, sink)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	return c, func() {
		cancel()
		<-done
	}
}

func settle() { time.Sleep(50 * time.Millisecond) }

func TestCoordinator_ProgressInEmissionOrder(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c, stop := startCoordinator(t, reg, sink)
	defer stop()

	c.PublishProgress("a", 10)
	c.PublishProgress("a", 20)
	c.PublishProgress("a", 30)

	settle()

	progress, _, _, _ := sink.snapshot()
	assert.Equal(t, []float64{10, 20, 30}, progress)
}

func TestCoordinator_AtMostOneTerminalPerDownload(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c, stop := startCoordinator(t, reg, sink)
	defer stop()

	d, err := reg.Enqueue("https://example.com/a", "direct", "a", registry.Options{})
	require.NoError(t, err)

	_, ok := reg.ClaimNextPending()
	require.True(t, ok)
	require.NoError(t, reg.MarkCompleted(d.ID, ""))

	c.PublishTerminal(d.ID, registry.StatusCompleted, "done")
	c.PublishTerminal(d.ID, registry.StatusFailed, "late duplicate")
	c.PublishProgress(d.ID, 50) // stale progress after terminal

	settle()

	progress, terminals, _, _ := sink.snapshot()
	require.Len(t, terminals, 1)
	assert.Equal(t, registry.StatusCompleted, terminals[0])
	assert.Empty(t, progress)
}

func TestCoordinator_CollapsesRepeatedCredentialPhases(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c, stop := startCoordinator(t, reg, sink)
	defer stop()

	c.PublishCredential(credentials.PhaseGenerating, "still working")
	c.PublishCredential(credentials.PhaseGenerating, "still working")
	c.PublishCredential(credentials.PhaseGenerating, "still working")
	c.PublishCredential(credentials.PhaseValid, "refreshed")

	settle()

	_, _, creds, _ := sink.snapshot()
	assert.Equal(t, []credentials.Phase{credentials.PhaseGenerating, credentials.PhaseValid}, creds)
}

func TestCoordinator_GloballyBusyTracksRegistry(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c, stop := startCoordinator(t, reg, sink)
	defer stop()

	d, err := reg.Enqueue("https://example.com/a", "direct", "a", registry.Options{})
	require.NoError(t, err)

	_, ok := reg.ClaimNextPending()
	require.True(t, ok)

	c.PublishProgress(d.ID, 10)
	settle()

	require.NoError(t, reg.MarkCompleted(d.ID, ""))
	c.PublishTerminal(d.ID, registry.StatusCompleted, "done")
	settle()

	_, _, _, busy := sink.snapshot()
	assert.Equal(t, []bool{true, false}, busy)
}

// completeDownload walks a fresh registry entry to its completed state and
// returns it.
func completeDownload(t *testing.T, reg *registry.Registry, url, name string) registry.Download {
	t.Helper()

	d, err := reg.Enqueue(url, "direct", name, registry.Options{})
	require.NoError(t, err)

	_, ok := reg.ClaimNextPending()
	require.True(t, ok)
	require.NoError(t, reg.MarkCompleted(d.ID, ""))

	return d
}

func TestCoordinator_PrunesTerminalStateAfterEviction(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c, stop := startCoordinator(t, reg, sink)

	a := completeDownload(t, reg, "https://example.com/a", "a")
	c.PublishTerminal(a.ID, registry.StatusCompleted, "done")
	settle()

	reg.EvictCompleted()

	// The next terminal dispatch sweeps ids the registry dropped.
	b := completeDownload(t, reg, "https://example.com/b", "b")
	c.PublishTerminal(b.ID, registry.StatusCompleted, "done")
	settle()

	stop()

	_, seen := c.terminalSeen[a.ID]
	assert.False(t, seen, "evicted download should be pruned from dedup state")

	_, seen = c.terminalSeen[b.ID]
	assert.True(t, seen, "tracked download should keep its dedup entry")
}

func TestCoordinator_DeliversTerminalsPublishedAfterSignal(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c := NewCoordinator(reg, sink)

	// The coordinator runs on its own lifetime, detached from the signal
	// context, so workers finishing after SIGTERM still get heard.
	coordCtx, stopCoord := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		c.Run(coordCtx)
	}()

	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCancel()
	<-signalCtx.Done()

	d := completeDownload(t, reg, "https://example.com/a", "a")
	c.PublishTerminal(d.ID, registry.StatusCompleted, "finished after signal")
	settle()

	stopCoord()
	<-done

	_, terminals, _, _ := sink.snapshot()
	require.Len(t, terminals, 1)
	assert.Equal(t, registry.StatusCompleted, terminals[0])
}

func TestCoordinator_DrainsOnShutdown(t *testing.T) {
	reg := registry.NewRegistry()
	sink := &recordingSink{}

	c := NewCoordinator(reg, sink)

	// Queue events before the consumer ever runs.
	c.PublishProgress("a", 10)
	c.PublishTerminal("a", registry.StatusCompleted, "done")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c.Run(ctx)

	progress, terminals, _, _ := sink.snapshot()
	assert.Equal(t, []float64{10}, progress)
	require.Len(t, terminals, 1)
}
