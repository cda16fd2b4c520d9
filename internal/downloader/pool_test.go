package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/events"
	"github.com/italolelis/media_downloader/internal/platform"
	"github.com/italolelis/media_downloader/internal/registry"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

type terminalEvent struct {
	downloadID string
	status     registry.Status
	message    string
}

type poolSink struct {
	events.NoopSink

	mu        sync.Mutex
	progress  []float64
	terminals chan terminalEvent
}

func newPoolSink() *poolSink {
	return &poolSink{terminals: make(chan terminalEvent, 8)}
}

func (s *poolSink) OnProgress(downloadID string, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.progress = append(s.progress, percent)
}

func (s *poolSink) OnTerminal(downloadID string, status registry.Status, message string) {
	s.terminals <- terminalEvent{downloadID: downloadID, status: status, message: message}
}

// fakeAdapter scripts per-call outcomes so tests can drive the retry loop.
type fakeAdapter struct {
	name       string
	needsCreds bool
	execute    func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error)

	calls atomic.Int32
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) NeedsCredentials() bool { return f.needsCreds }

func (f *fakeAdapter) Execute(_ context.Context, _ string, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
	call := int(f.calls.Add(1))

	return f.execute(call, opts, cb)
}

type poolHarness struct {
	reg  *registry.Registry
	pool *Pool
	sink *poolSink
}

func newPoolHarness(t *testing.T, adapter platform.Adapter, creds *credentials.Manager) *poolHarness {
	t.Helper()

	reg := registry.NewRegistry()
	sink := newPoolSink()
	coord := events.NewCoordinator(reg, sink)

	tel, err := telemetry.New(context.Background(), telemetry.Config{Enabled: false})
	require.NoError(t, err)

	pool := NewPool(reg, platform.NewResolver(adapter), creds, coord, nil, tel, 1, 5*time.Millisecond, RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go coord.Run(ctx)

	go func() { _ = pool.Run(ctx) }()

	return &poolHarness{reg: reg, pool: pool, sink: sink}
}

func (h *poolHarness) enqueueAndWait(t *testing.T, url, platformTag string, opts registry.Options) terminalEvent {
	t.Helper()

	d, err := h.reg.Enqueue(url, platformTag, "", opts)
	require.NoError(t, err)

	h.pool.Wake()

	select {
	case ev := <-h.sink.terminals:
		require.Equal(t, d.ID, ev.downloadID)

		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminal event")

		return terminalEvent{}
	}
}

func TestPool_SuccessfulDownload(t *testing.T) {
	adapter := &fakeAdapter{
		name: "direct",
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			cb(50)
			cb(100)

			return &platform.Result{Path: "/tmp/out.mp4"}, nil
		},
	}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/a.mp4", "direct", registry.Options{})
	assert.Equal(t, registry.StatusCompleted, ev.status)

	d, ok := h.reg.Get(ev.downloadID)
	require.True(t, ok)
	assert.Equal(t, registry.StatusCompleted, d.Status)
	assert.Equal(t, "/tmp/out.mp4", d.OutputPath)
	assert.Equal(t, float64(100), d.Progress)
	assert.Equal(t, 1, d.Attempt)

	assert.Equal(t, int32(1), adapter.calls.Load())
}

func TestPool_FatalErrorIsNotRetried(t *testing.T) {
	adapter := &fakeAdapter{
		name: "direct",
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			return nil, &platform.NotFoundError{URL: "https://example.com/gone.mp4"}
		},
	}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/gone.mp4", "direct", registry.Options{})
	assert.Equal(t, registry.StatusFailed, ev.status)
	assert.Contains(t, ev.message, "not found")

	assert.Equal(t, int32(1), adapter.calls.Load())
}

func TestPool_NetworkErrorsExhaustRetries(t *testing.T) {
	adapter := &fakeAdapter{
		name: "direct",
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			return nil, &platform.NetworkError{Operation: "fetch_media", StatusCode: 503}
		},
	}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/flaky.mp4", "direct", registry.Options{})
	assert.Equal(t, registry.StatusFailed, ev.status)
	assert.Contains(t, ev.message, "failed after 3 attempts")

	assert.Equal(t, int32(3), adapter.calls.Load())

	d, ok := h.reg.Get(ev.downloadID)
	require.True(t, ok)
	assert.Equal(t, 3, d.Attempt)
}

func TestPool_RecoversAfterTransientFailures(t *testing.T) {
	adapter := &fakeAdapter{
		name: "direct",
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			if call < 3 {
				return nil, &platform.RateLimitError{Operation: "fetch_media"}
			}

			return &platform.Result{Path: "/tmp/out.mp4"}, nil
		},
	}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/busy.mp4", "direct", registry.Options{})
	assert.Equal(t, registry.StatusCompleted, ev.status)
	assert.Equal(t, int32(3), adapter.calls.Load())
}

func TestPool_FormatErrorRetriesRelaxedOnce(t *testing.T) {
	var seenQualities []string

	var mu sync.Mutex

	adapter := &fakeAdapter{
		name: "youtube-test",
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			mu.Lock()
			seenQualities = append(seenQualities, opts.Quality)
			mu.Unlock()

			if call == 1 {
				return nil, &platform.FormatError{Requested: opts.Quality}
			}

			return &platform.Result{Path: "/tmp/out.mp4"}, nil
		},
	}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/video", "youtube-test", registry.Options{Quality: "4320p"})
	assert.Equal(t, registry.StatusCompleted, ev.status)

	mu.Lock()
	defer mu.Unlock()

	// The second attempt drops the quality preference.
	require.Equal(t, []string{"4320p", ""}, seenQualities)
}

func TestPool_SecondFormatErrorIsFatal(t *testing.T) {
	adapter := &fakeAdapter{
		name: "youtube-test",
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			return nil, &platform.FormatError{Requested: opts.Quality}
		},
	}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/video", "youtube-test", registry.Options{Quality: "4320p"})
	assert.Equal(t, registry.StatusFailed, ev.status)

	assert.Equal(t, int32(2), adapter.calls.Load())
}

func TestPool_UnknownPlatformFails(t *testing.T) {
	adapter := &fakeAdapter{name: "direct"}

	h := newPoolHarness(t, adapter, nil)

	ev := h.enqueueAndWait(t, "https://example.com/a.mp4", "torrent", registry.Options{})
	assert.Equal(t, registry.StatusFailed, ev.status)
	assert.Contains(t, ev.message, "unsupported")
}

type failingGenerator struct{}

func (failingGenerator) Generate(context.Context) (string, error) {
	return "", errors.New("browser automation unavailable")
}

func TestPool_MissingCredentialsDeferInsteadOfExecuting(t *testing.T) {
	adapter := &fakeAdapter{
		name:       "youtube-test",
		needsCreds: true,
		execute: func(call int, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
			return &platform.Result{Path: "/tmp/out.mp4"}, nil
		},
	}

	creds := credentials.NewManager(failingGenerator{}, credentials.ManagerOpts{
		Dir:               t.TempDir(),
		TTL:               8 * time.Hour,
		ErrorCooldown:     time.Hour,
		GenerationTimeout: time.Second,
	})
	require.NoError(t, creds.Load(context.Background()))

	h := newPoolHarness(t, adapter, creds)

	ev := h.enqueueAndWait(t, "https://example.com/video", "youtube-test", registry.Options{})
	assert.Equal(t, registry.StatusFailed, ev.status)
	assert.Contains(t, ev.message, "credentials")

	// The adapter never runs without a usable artifact.
	assert.Equal(t, int32(0), adapter.calls.Load())
}
