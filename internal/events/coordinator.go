package events

import (
	"context"

	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/registry"
)

const defaultBuffer = 256

// Coordinator funnels events from many producers into a single consumer.
// The consumer side is the only component allowed to call the Sink, which
// keeps UI-owned state off the worker goroutines entirely.
type Coordinator struct {
	reg  *registry.Registry
	sink Sink
	ch   chan Event

	// consumer-side state, touched only inside Run
	terminalSeen  map[string]struct{}
	lastCredPhase credentials.Phase
	busy          bool
}

func NewCoordinator(reg *registry.Registry, sink Sink) *Coordinator {
	if sink == nil {
		sink = NoopSink{}
	}

	return &Coordinator{
		reg:          reg,
		sink:         sink,
		ch:           make(chan Event, defaultBuffer),
		terminalSeen: make(map[string]struct{}),
	}
}

// PublishProgress reports progress for a download. Safe from any goroutine.
func (c *Coordinator) PublishProgress(downloadID string, percent float64) {
	c.ch <- Event{SubjectID: downloadID, Kind: KindProgress, Percent: percent}
}

// PublishTerminal reports the terminal outcome of a download execution.
func (c *Coordinator) PublishTerminal(downloadID string, status registry.Status, message string) {
	c.ch <- Event{SubjectID: downloadID, Kind: KindTerminal, Status: status, Message: message}
}

// PublishCredential reports a credential manager phase transition.
func (c *Coordinator) PublishCredential(phase credentials.Phase, message string) {
	c.ch <- Event{Kind: KindCredential, Phase: phase, Message: message}
}

// CredentialSink adapts the funnel for the credential manager.
func (c *Coordinator) CredentialSink() credentials.StatusSink {
	return func(phase credentials.Phase, message string) {
		c.PublishCredential(phase, message)
	}
}

// Run drains the funnel until ctx is cancelled, then flushes whatever is
// still queued before returning.
func (c *Coordinator) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	for {
		select {
		case ev := <-c.ch:
			c.dispatch(ev)
		case <-ctx.Done():
			logger.Info("event coordinator draining")

			for {
				select {
				case ev := <-c.ch:
					c.dispatch(ev)
				default:
					logger.Info("event coordinator shut down")

					return
				}
			}
		}
	}
}

func (c *Coordinator) dispatch(ev Event) {
	switch ev.Kind {
	case KindProgress:
		// Defense in depth: the registry already refuses terminal-state
		// progress, this guards against stale events emitted before the
		// terminal one was consumed.
		if _, done := c.terminalSeen[ev.SubjectID]; done {
			return
		}

		c.sink.OnProgress(ev.SubjectID, ev.Percent)
	case KindTerminal:
		if _, done := c.terminalSeen[ev.SubjectID]; done {
			return
		}

		c.terminalSeen[ev.SubjectID] = struct{}{}
		c.sink.OnTerminal(ev.SubjectID, ev.Status, ev.Message)
		c.sweepEvicted()
	case KindCredential:
		// Collapse rapid repeats of the same phase into one displayed state.
		if ev.Phase == c.lastCredPhase {
			return
		}

		c.lastCredPhase = ev.Phase
		c.sink.OnCredentialStatus(ev.Phase, ev.Message)
	}

	c.rederiveBusy()
}

// sweepEvicted drops dedup entries for downloads the registry no longer
// tracks. Download ids are never reused, so a pruned entry cannot let a
// duplicate terminal through.
func (c *Coordinator) sweepEvicted() {
	for id := range c.terminalSeen {
		if _, ok := c.reg.Get(id); !ok {
			delete(c.terminalSeen, id)
		}
	}
}

func (c *Coordinator) rederiveBusy() {
	busy := c.reg.AnyDownloading()
	if busy != c.busy {
		c.busy = busy
		c.sink.OnGloballyBusyChanged(busy)
	}
}
