package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/italolelis/media_downloader/internal/logctx"
)

const (
	homeURL = "https://www.youtube.com"
	// A long-lived public video; visiting a watch page yields the session
	// cookies the consuming adapter needs.
	probeVideoURL = "https://www.youtube.com/watch?v=jNQXAC9IVRw"

	mobileUserAgent = "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36"

	cookieCacheName    = "cookies.json"
	cookieArtifactName = "cookies.txt"

	settleDelay = 2 * time.Second
	scrollDelay = 500 * time.Millisecond
)

// BrowserGenerator harvests YouTube session cookies by driving a headless
// Chrome session and persists them in both the structured cache format and
// the textual wire format.
type BrowserGenerator struct {
	dir string
}

func NewBrowserGenerator(dir string) *BrowserGenerator {
	return &BrowserGenerator{dir: dir}
}

// Generate runs one generation cycle and returns the Netscape artifact path.
// The ctx deadline bounds the whole cycle.
func (g *BrowserGenerator) Generate(ctx context.Context) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("incognito", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(mobileUserAgent),
		chromedp.WindowSize(412, 915),
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	logger.Debug("launching headless browser for cookie harvest")

	var harvested []*network.Cookie

	err := chromedp.Run(browserCtx,
		chromedp.Navigate(homeURL),
		chromedp.Sleep(settleDelay),
		chromedp.Evaluate(`window.scrollTo(0, 300)`, nil),
		chromedp.Sleep(scrollDelay),
		chromedp.Evaluate(`window.scrollTo(0, 0)`, nil),
		chromedp.Navigate(probeVideoURL),
		chromedp.Sleep(settleDelay),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			harvested, err = cdpstorage.GetCookies().Do(ctx)

			return err
		}),
	)
	if err != nil {
		if isBrowserMissing(err) {
			return "", ErrBrowserMissing
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return "", &GenerationError{Step: "navigate", Err: err}
		}

		return "", &GenerationError{Step: "harvest", Err: err}
	}

	cookies := filterSessionCookies(harvested)
	if len(cookies) == 0 {
		return "", &GenerationError{Step: "harvest", Err: errors.New("no youtube or google cookies in browser session")}
	}

	logger.Debug("harvested session cookies", "cookie_count", len(cookies))

	if err := g.writeCache(cookies); err != nil {
		return "", err
	}

	artifactPath := filepath.Join(g.dir, cookieArtifactName)
	if err := WriteNetscapeFile(artifactPath, cookies); err != nil {
		return "", err
	}

	return artifactPath, nil
}

func (g *BrowserGenerator) writeCache(cookies []Cookie) error {
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return &GenerationError{Step: "persist", Err: err}
	}

	if err := os.WriteFile(filepath.Join(g.dir, cookieCacheName), data, 0o600); err != nil {
		return &StorageError{Operation: "write_cache", Err: err}
	}

	return nil
}

func filterSessionCookies(all []*network.Cookie) []Cookie {
	cookies := make([]Cookie, 0, len(all))

	for _, c := range all {
		if !strings.Contains(c.Domain, "youtube.com") && !strings.Contains(c.Domain, "google.com") {
			continue
		}

		expires := int64(0)
		if c.Expires > 0 {
			expires = int64(c.Expires)
		}

		cookies = append(cookies, Cookie{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: expires,
			Secure:  c.Secure,
		})
	}

	return cookies
}

func isBrowserMissing(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}

	return strings.Contains(err.Error(), "executable file not found")
}
