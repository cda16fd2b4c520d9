package registry

import (
	"time"
)

// Status is the lifecycle state of a download.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether no further status or progress writes are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Options carries per-download execution options passed through to the adapter.
type Options struct {
	Quality   string
	AudioOnly bool
	Playlist  bool
}

// Download is the canonical record of one requested download. It is owned by
// the Registry; everything handed out of the Registry is a copy.
type Download struct {
	ID          string
	URL         string
	Platform    string
	Name        string
	Status      Status
	Progress    float64
	Attempt     int
	LastError   string
	Options     Options
	OutputPath  string
	CreatedAt   time.Time
	CompletedAt time.Time
}
