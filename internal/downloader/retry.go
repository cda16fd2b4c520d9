package downloader

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/platform"
)

// ErrorClass buckets an adapter error into a retry policy.
type ErrorClass string

const (
	ClassRateLimit       ErrorClass = "rate_limit"
	ClassNetwork         ErrorClass = "network"
	ClassTransientFormat ErrorClass = "transient_format"
	ClassFatal           ErrorClass = "fatal"
)

// RetryPolicy bounds the retries of a single download execution.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// backOff builds the wait schedule for one execution. Jitter is disabled so
// every retry waits strictly longer than the previous one, until the
// schedule hits MaxInterval.
func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	return bo
}

// Classify is a pure function from an error to its retry class. Unrecognized
// errors are fatal: retrying something we cannot name only hides bugs.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassFatal
	}

	var (
		rateErr    *platform.RateLimitError
		netErr     *platform.NetworkError
		formatErr  *platform.FormatError
		authErr    *platform.AuthRequiredError
		notFound   *platform.NotFoundError
		unsupErr   *platform.UnsupportedError
		netOpError net.Error
	)

	switch {
	case errors.As(err, &rateErr):
		return ClassRateLimit
	case errors.As(err, &netErr):
		return ClassNetwork
	case errors.As(err, &formatErr):
		return ClassTransientFormat
	case errors.As(err, &authErr), errors.As(err, &notFound), errors.As(err, &unsupErr):
		return ClassFatal
	// Credentials still being generated defer the download, they don't kill it.
	case errors.Is(err, credentials.ErrNotReady):
		return ClassNetwork
	// Adapter-reported timeouts count as network failures.
	case errors.Is(err, context.DeadlineExceeded):
		return ClassNetwork
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return ClassNetwork
	case errors.As(err, &netOpError):
		return ClassNetwork
	default:
		return ClassFatal
	}
}
