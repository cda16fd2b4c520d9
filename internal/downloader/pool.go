package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/events"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/platform"
	"github.com/italolelis/media_downloader/internal/registry"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Pool runs a fixed number of workers over the registry's pending downloads.
// Workers claim, execute through the retry policy and report outcomes; they
// never block waiting for credential generation.
type Pool struct {
	reg      *registry.Registry
	resolver *platform.Resolver
	creds    *credentials.Manager
	coord    *events.Coordinator
	history  storage.DownloadWriteRepository
	tel      *telemetry.Telemetry
	workers  int
	poll     time.Duration
	policy   RetryPolicy

	wake chan struct{}
}

func NewPool(
	reg *registry.Registry,
	resolver *platform.Resolver,
	creds *credentials.Manager,
	coord *events.Coordinator,
	history storage.DownloadWriteRepository,
	tel *telemetry.Telemetry,
	workers int,
	poll time.Duration,
	policy RetryPolicy,
) *Pool {
	if workers < 1 {
		workers = 1
	}

	return &Pool{
		reg:      reg,
		resolver: resolver,
		creds:    creds,
		coord:    coord,
		history:  history,
		tel:      tel,
		workers:  workers,
		poll:     poll,
		policy:   policy,
		wake:     make(chan struct{}, 1),
	}
}

// Wake nudges an idle worker after an enqueue. Never blocks.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is cancelled and every in-flight execution has
// finished. New claims stop immediately on cancellation.
func (p *Pool) Run(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("worker pool starting", "workers", p.workers)

	wg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		workerID := i

		wg.Go(func() error {
			p.worker(ctx, workerID)

			return nil
		})
	}

	return wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	logger := logctx.LoggerFromContext(ctx).With("worker", id)

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			logger.Debug("worker shutting down")

			return
		}

		d, ok := p.reg.ClaimNextPending()
		if ok {
			p.execute(ctx, d)

			continue
		}

		select {
		case <-ctx.Done():
			logger.Debug("worker shutting down")

			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// execute drives one download through its full retry lifecycle and emits
// exactly one terminal event, unless the process is shutting down mid-flight.
func (p *Pool) execute(ctx context.Context, d registry.Download) {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.ID, "platform", d.Platform)

	logger.Info("download claimed", "url", d.URL, "name", d.Name)

	start := time.Now()

	p.tel.IncrementActiveDownloads()
	defer p.tel.DecrementActiveDownloads()

	p.tel.RecordQueueDepth(p.reg.Count())

	p.coord.PublishProgress(d.ID, 0)

	adapter, err := p.resolver.Resolve(d.Platform)
	if err != nil {
		p.finishFailed(ctx, d, err, start)

		return
	}

	// RetryContext: scoped to this one execution, reset for the next.
	attempt := 0
	opts := d.Options
	relaxed := false

	bo := p.policy.backOff()

	operation := func() (*platform.Result, error) {
		attempt++

		if attempt > 1 {
			if err := p.reg.MarkDownloading(d.ID); err != nil {
				return nil, backoff.Permanent(err)
			}

			p.tel.RecordRetry(d.Platform)
			logger.Info("retrying download", "attempt", attempt)
		}

		if adapter.NeedsCredentials() && !p.creds.IsReady() {
			// Non-blocking: trigger generation and let backoff defer us.
			p.creds.EnsureFresh(ctx)

			return nil, fmt.Errorf("credentials for %s: %w", d.Platform, credentials.ErrNotReady)
		}

		res, err := adapter.Execute(ctx, d.URL, opts, func(percent float64) {
			if p.reg.MarkProgress(d.ID, percent) {
				p.coord.PublishProgress(d.ID, percent)
			}
		})
		if err == nil {
			return res, nil
		}

		switch Classify(err) {
		case ClassFatal:
			return nil, backoff.Permanent(err)
		case ClassTransientFormat:
			if relaxed {
				// The fallback format failed too; one relaxed retry only.
				return nil, backoff.Permanent(err)
			}

			relaxed = true
			opts.Quality = "" // retry with the adapter's fallback format

			logger.Warn("requested format unavailable, retrying relaxed", "err", err)

			return nil, err
		default:
			logger.Warn("retryable download failure", "attempt", attempt, "class", string(Classify(err)), "err", err)

			return nil, err
		}
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.policy.MaxAttempts)),
	)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Shutdown interrupted the execution; no terminal event for an
			// execution that never finished.
			logger.Info("download interrupted by shutdown")

			return
		}

		if attempt > 1 {
			err = fmt.Errorf("failed after %d attempts: %w", attempt, err)
		}

		p.finishFailed(ctx, d, err, start)

		return
	}

	p.finishCompleted(ctx, d, res.Path, start)
}

func (p *Pool) finishCompleted(ctx context.Context, d registry.Download, path string, start time.Time) {
	logger := logctx.LoggerFromContext(ctx)

	if err := p.reg.MarkCompleted(d.ID, path); err != nil {
		logger.Error("failed to mark download completed", "download_id", d.ID, "err", err)
	}

	p.recordHistory(ctx, d, string(registry.StatusCompleted), path)
	p.tel.RecordDownload("completed", time.Since(start))
	p.coord.PublishTerminal(d.ID, registry.StatusCompleted, "downloaded "+d.Name)

	logger.Info("download completed", "download_id", d.ID, "target", path, "duration", time.Since(start).String())
}

func (p *Pool) finishFailed(ctx context.Context, d registry.Download, cause error, start time.Time) {
	logger := logctx.LoggerFromContext(ctx)

	if err := p.reg.MarkFailed(d.ID, cause); err != nil {
		logger.Error("failed to mark download failed", "download_id", d.ID, "err", err)
	}

	p.recordHistory(ctx, d, string(registry.StatusFailed), "")
	p.tel.RecordDownload("failed", time.Since(start))
	p.coord.PublishTerminal(d.ID, registry.StatusFailed, cause.Error())

	logger.Error("download failed", "download_id", d.ID, "err", cause)
}

func (p *Pool) recordHistory(ctx context.Context, d registry.Download, status, path string) {
	if p.history == nil {
		return
	}

	if err := p.history.RecordOutcome(d.ID, d.URL, d.Platform, d.Name, status, path); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to record download history", "download_id", d.ID, "err", err)
	}
}
