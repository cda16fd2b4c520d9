package platform

import (
	"context"
	"net/url"
	"strings"

	"github.com/italolelis/media_downloader/internal/registry"
)

// ProgressFunc receives percent values in [0, 100]. It may be called zero or
// more times before the terminal result.
type ProgressFunc func(percent float64)

// Result is the terminal outcome of a successful adapter execution.
type Result struct {
	Path string
}

// Adapter moves the bytes for one platform. Adapters are not retry-aware;
// retry policy lives in the worker pool.
type Adapter interface {
	Name() string

	// NeedsCredentials reports whether the adapter consumes the cached
	// credential artifact before each request.
	NeedsCredentials() bool

	Execute(ctx context.Context, rawURL string, opts registry.Options, progress ProgressFunc) (*Result, error)
}

// Resolver maps a platform tag to its adapter.
type Resolver struct {
	adapters map[string]Adapter
}

func NewResolver(adapters ...Adapter) *Resolver {
	r := &Resolver{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}

	return r
}

func (r *Resolver) Resolve(tag string) (Adapter, error) {
	a, ok := r.adapters[tag]
	if !ok {
		return nil, &UnsupportedError{Subject: tag}
	}

	return a, nil
}

// Detect maps a URL to a platform tag by host matching. Unknown hosts fall
// back to the direct HTTP adapter.
func Detect(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "direct"
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch {
	case host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com":
		return "youtube"
	default:
		return "direct"
	}
}
