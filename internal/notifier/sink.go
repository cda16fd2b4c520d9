package notifier

import (
	"fmt"
	"log/slog"

	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/events"
	"github.com/italolelis/media_downloader/internal/registry"
)

// LogSink logs every notification. It is the default consumer when no
// external surface is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) OnProgress(downloadID string, percent float64) {
	s.logger.Debug("download progress", "download_id", downloadID, "percent", percent)
}

func (s *LogSink) OnTerminal(downloadID string, status registry.Status, message string) {
	if status == registry.StatusFailed {
		s.logger.Error("download finished", "download_id", downloadID, "status", status, "reason", message)

		return
	}

	s.logger.Info("download finished", "download_id", downloadID, "status", status)
}

func (s *LogSink) OnCredentialStatus(phase credentials.Phase, message string) {
	if phase == credentials.PhaseError {
		s.logger.Error("credential status changed", "phase", phase, "reason", message)

		return
	}

	s.logger.Info("credential status changed", "phase", phase)
}

func (s *LogSink) OnGloballyBusyChanged(busy bool) {
	s.logger.Info("download activity changed", "busy", busy)
}

// WebhookSink forwards terminal outcomes and credential failures to a
// webhook. Progress is deliberately not forwarded.
type WebhookSink struct {
	events.NoopSink

	notifier Notifier
	logger   *slog.Logger
}

func NewWebhookSink(notifier Notifier, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{notifier: notifier, logger: logger}
}

func (s *WebhookSink) OnTerminal(downloadID string, status registry.Status, message string) {
	content := fmt.Sprintf("download %s finished with status %s", downloadID, status)
	if status == registry.StatusFailed {
		content = fmt.Sprintf("download %s failed: %s", downloadID, message)
	}

	if err := s.notifier.Notify(content); err != nil {
		s.logger.Warn("failed to deliver webhook notification", "err", err)
	}
}

func (s *WebhookSink) OnCredentialStatus(phase credentials.Phase, message string) {
	if phase != credentials.PhaseError {
		return
	}

	if err := s.notifier.Notify("credential generation failed: " + message); err != nil {
		s.logger.Warn("failed to deliver webhook notification", "err", err)
	}
}

// MultiSink fans one notification stream out to several sinks in order.
type MultiSink []events.Sink

func (m MultiSink) OnProgress(downloadID string, percent float64) {
	for _, s := range m {
		s.OnProgress(downloadID, percent)
	}
}

func (m MultiSink) OnTerminal(downloadID string, status registry.Status, message string) {
	for _, s := range m {
		s.OnTerminal(downloadID, status, message)
	}
}

func (m MultiSink) OnCredentialStatus(phase credentials.Phase, message string) {
	for _, s := range m {
		s.OnCredentialStatus(phase, message)
	}
}

func (m MultiSink) OnGloballyBusyChanged(busy bool) {
	for _, s := range m {
		s.OnGloballyBusyChanged(busy)
	}
}
