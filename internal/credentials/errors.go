package credentials

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned when the artifact path is requested before a valid
// artifact exists.
var ErrNotReady = errors.New("credentials are not ready")

// ErrBrowserMissing flags that the automation engine (a Chrome/Chromium
// binary) is not installed. Callers surface a different remediation message
// for this than for ordinary generation failure.
var ErrBrowserMissing = errors.New("browser executable not found; install Chrome or Chromium to enable cookie generation")

// GenerationError represents a failed generation cycle.
type GenerationError struct {
	Step string // The step that failed (e.g., "navigate", "harvest", "persist")
	Err  error  // Underlying error, if any
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("cookie generation failed during %s", e.Step)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure persisting the artifact or its state
// record to the application data directory.
type StorageError struct {
	Operation string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("credential storage failed during %s", e.Operation)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
