package registry

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ValidationError rejects a malformed download before it ever enters the pool.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid download %s: %s", e.Field, e.Reason)
}

// ErrNotFound is returned for operations against an unknown download id.
type ErrNotFound struct {
	ID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("download %s not found", e.ID)
}

// Registry is the single source of truth for download state. All mutation
// goes through its methods under one mutex; status transitions for a single
// download are linearizable.
type Registry struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*Download
}

func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Download),
	}
}

// Enqueue validates and stores a new pending download. Completed entries are
// evicted first, so the active set only ever grows with live work.
func (r *Registry) Enqueue(rawURL, platform, name string, opts Options) (Download, error) {
	if rawURL == "" {
		return Download{}, &ValidationError{Field: "url", Reason: "must not be empty"}
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Download{}, &ValidationError{Field: "url", Reason: "must be an absolute URL"}
	}

	if platform == "" {
		return Download{}, &ValidationError{Field: "platform", Reason: "must not be empty"}
	}

	if name == "" {
		name = u.Host + u.Path
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictCompletedLocked()

	d := &Download{
		ID:        uuid.New().String(),
		URL:       rawURL,
		Platform:  platform,
		Name:      name,
		Status:    StatusPending,
		Options:   opts,
		CreatedAt: time.Now(),
	}

	r.byID[d.ID] = d
	r.order = append(r.order, d.ID)

	return *d, nil
}

// ClaimNextPending atomically transitions the oldest pending download to
// downloading and returns it. Two concurrent claimers never get the same one.
func (r *Registry) ClaimNextPending() (Download, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		d := r.byID[id]
		if d.Status == StatusPending {
			d.Status = StatusDownloading
			d.Attempt = 1

			return *d, true
		}
	}

	return Download{}, false
}

// MarkDownloading flags a download as executing again, used when an internal
// retry re-enters the adapter. Terminal downloads are left untouched.
func (r *Registry) MarkDownloading(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}

	if d.Status.IsTerminal() {
		return nil
	}

	d.Status = StatusDownloading
	d.Attempt++

	return nil
}

// MarkProgress records progress for a non-terminal download and reports
// whether the update was accepted. Late events for an already terminal
// download are silently dropped; progress never moves backwards.
func (r *Registry) MarkProgress(id string, pct float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok || d.Status.IsTerminal() {
		return false
	}

	if pct > 100 {
		pct = 100
	}

	if pct <= d.Progress {
		return false
	}

	d.Progress = pct

	return true
}

// MarkCompleted flags a download as successfully finished.
func (r *Registry) MarkCompleted(id, outputPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}

	if d.Status.IsTerminal() {
		return nil
	}

	d.Status = StatusCompleted
	d.Progress = 100
	d.OutputPath = outputPath
	d.CompletedAt = time.Now()

	return nil
}

// MarkFailed flags a download as terminally failed with its last error.
func (r *Registry) MarkFailed(id string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}

	if d.Status.IsTerminal() {
		return nil
	}

	d.Status = StatusFailed
	if cause != nil {
		d.LastError = cause.Error()
	}

	d.CompletedAt = time.Now()

	return nil
}

// EvictCompleted removes every download that is completed at call time and
// returns how many were removed.
func (r *Registry) EvictCompleted() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.evictCompletedLocked()
}

func (r *Registry) evictCompletedLocked() int {
	kept := r.order[:0]
	evicted := 0

	for _, id := range r.order {
		if r.byID[id].Status == StatusCompleted {
			delete(r.byID, id)
			evicted++

			continue
		}

		kept = append(kept, id)
	}

	r.order = kept

	return evicted
}

// Snapshot returns copies of all downloads in creation order.
func (r *Registry) Snapshot() []Download {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Download, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}

	return out
}

// Count returns the number of tracked downloads.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order)
}

// Get returns a copy of a single download.
func (r *Registry) Get(id string) (Download, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return Download{}, false
	}

	return *d, true
}

// AnyDownloading reports whether any download is currently executing.
func (r *Registry) AnyDownloading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.byID {
		if d.Status == StatusDownloading {
			return true
		}
	}

	return false
}
