package direct

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/platform"
	"github.com/italolelis/media_downloader/internal/platform/progress"
	"github.com/italolelis/media_downloader/internal/registry"
)

// Adapter fetches media over plain HTTP. It is the fallback for URLs no
// platform-specific adapter claims.
type Adapter struct {
	downloadDir string
	client      *http.Client
}

func NewAdapter(downloadDir string) *Adapter {
	return &Adapter{
		downloadDir: downloadDir,
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

func (a *Adapter) Name() string { return "direct" }

func (a *Adapter) NeedsCredentials() bool { return false }

func (a *Adapter) Execute(ctx context.Context, rawURL string, _ registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &platform.UnsupportedError{Subject: rawURL}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &platform.NetworkError{Operation: "fetch_media", Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(rawURL, resp.StatusCode); err != nil {
		return nil, err
	}

	name := fileNameFor(rawURL, resp)
	target := filepath.Join(a.downloadDir, name)

	out, err := os.Create(target + ".part")
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}

	reader := progress.NewReader(resp.Body, resp.ContentLength, cb)

	written, err := io.Copy(out, reader)
	if err != nil {
		out.Close()
		os.Remove(target + ".part")

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &platform.NetworkError{Operation: "fetch_media", Err: err}
	}

	if err := out.Close(); err != nil {
		return nil, fmt.Errorf("closing output file: %w", err)
	}

	if err := os.Rename(target+".part", target); err != nil {
		return nil, fmt.Errorf("finalizing output file: %w", err)
	}

	logger.Info("media fetched",
		slog.String("url", rawURL),
		slog.String("size", humanize.Bytes(uint64(written))),
	)

	return &platform.Result{Path: target}, nil
}

func classifyStatus(rawURL string, code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return &platform.RateLimitError{Operation: "fetch_media"}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &platform.AuthRequiredError{Operation: "fetch_media"}
	case code == http.StatusNotFound || code == http.StatusGone:
		return &platform.NotFoundError{URL: rawURL}
	case code >= 500:
		return &platform.NetworkError{Operation: "fetch_media", StatusCode: code}
	default:
		return &platform.NetworkError{Operation: "fetch_media", StatusCode: code}
	}
}

// fileNameFor derives the target file name from the Content-Disposition
// header when present, falling back to the URL path.
func fileNameFor(rawURL string, resp *http.Response) string {
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := sanitize(params["filename"]); name != "" {
				return name
			}
		}
	}

	if u, err := url.Parse(rawURL); err == nil {
		if name := sanitize(path.Base(u.Path)); name != "" && name != "." && name != "/" {
			return name
		}
	}

	return fmt.Sprintf("download-%d", time.Now().Unix())
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")

	return strings.Trim(name, ".")
}
