package events

import (
	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/registry"
)

// Kind discriminates the payload of an Event.
type Kind string

const (
	KindProgress   Kind = "progress"
	KindTerminal   Kind = "terminal"
	KindCredential Kind = "credential"
)

// Event is one notification flowing through the single-consumer funnel.
type Event struct {
	SubjectID string
	Kind      Kind
	Percent   float64
	Status    registry.Status
	Phase     credentials.Phase
	Message   string
}

// Sink is the UI-facing notification interface. Only the Coordinator's
// consumer goroutine ever calls it, so implementations need no locking for
// their own ordering.
type Sink interface {
	OnProgress(downloadID string, percent float64)
	OnTerminal(downloadID string, status registry.Status, message string)
	OnCredentialStatus(phase credentials.Phase, message string)
	OnGloballyBusyChanged(busy bool)
}

// NoopSink is an explicit no-op base. Consumers that only care about a
// subset of notifications embed it instead of being probed for optional
// callbacks.
type NoopSink struct{}

func (NoopSink) OnProgress(string, float64)                   {}
func (NoopSink) OnTerminal(string, registry.Status, string)   {}
func (NoopSink) OnCredentialStatus(credentials.Phase, string) {}
func (NoopSink) OnGloballyBusyChanged(bool)                   {}
