package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/platform"
	"github.com/italolelis/media_downloader/internal/platform/progress"
	"github.com/italolelis/media_downloader/internal/registry"
)

// CredentialSource hands out the path of the current cookie artifact.
// It returns an error while no usable artifact exists.
type CredentialSource interface {
	ArtifactPath() (string, error)
}

// Adapter downloads YouTube videos and playlists. Each execution builds a
// fresh client so cookie rotation between attempts is picked up.
type Adapter struct {
	downloadDir string
	creds       CredentialSource
}

func NewAdapter(downloadDir string, creds CredentialSource) *Adapter {
	return &Adapter{downloadDir: downloadDir, creds: creds}
}

func (a *Adapter) Name() string { return "youtube" }

func (a *Adapter) NeedsCredentials() bool { return true }

func (a *Adapter) Execute(ctx context.Context, rawURL string, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
	client, err := a.newClient()
	if err != nil {
		return nil, err
	}

	if opts.Playlist {
		return a.executePlaylist(ctx, client, rawURL, opts, cb)
	}

	return a.executeVideo(ctx, client, rawURL, opts, cb)
}

func (a *Adapter) executeVideo(ctx context.Context, client *youtube.Client, rawURL string, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
	video, err := client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, mapLibError("get_video", rawURL, err)
	}

	path, err := a.downloadOne(ctx, client, video, opts, a.downloadDir, cb)
	if err != nil {
		return nil, err
	}

	return &platform.Result{Path: path}, nil
}

// executePlaylist downloads every entry into a directory named after the
// playlist. Progress is reported across entries, not per entry.
func (a *Adapter) executePlaylist(ctx context.Context, client *youtube.Client, rawURL string, opts registry.Options, cb platform.ProgressFunc) (*platform.Result, error) {
	playlist, err := client.GetPlaylistContext(ctx, rawURL)
	if err != nil {
		return nil, mapLibError("get_playlist", rawURL, err)
	}

	if len(playlist.Videos) == 0 {
		return nil, &platform.NotFoundError{URL: rawURL, Err: errors.New("playlist has no entries")}
	}

	dir := filepath.Join(a.downloadDir, sanitizeName(playlist.Title))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating playlist directory: %w", err)
	}

	total := len(playlist.Videos)

	for i, entry := range playlist.Videos {
		video, err := client.VideoFromPlaylistEntryContext(ctx, entry)
		if err != nil {
			return nil, mapLibError("get_playlist_entry", entry.ID, err)
		}

		done := float64(i)

		entryCB := func(percent float64) {
			if cb != nil {
				cb((done + percent/100) * 100 / float64(total))
			}
		}

		if _, err := a.downloadOne(ctx, client, video, opts, dir, entryCB); err != nil {
			return nil, err
		}
	}

	if cb != nil {
		cb(100)
	}

	return &platform.Result{Path: dir}, nil
}

func (a *Adapter) downloadOne(ctx context.Context, client *youtube.Client, video *youtube.Video, opts registry.Options, dir string, cb platform.ProgressFunc) (string, error) {
	format, err := selectFormat(video, opts)
	if err != nil {
		return "", err
	}

	stream, size, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", mapLibError("get_stream", video.ID, err)
	}
	defer stream.Close()

	path := filepath.Join(dir, sanitizeName(video.Title)+extensionFor(format))

	out, err := os.Create(path + ".part")
	if err != nil {
		return "", fmt.Errorf("creating output file: %w", err)
	}

	reader := progress.NewReader(stream, size, cb)

	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		os.Remove(path + ".part")

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		return "", &platform.NetworkError{Operation: "get_stream", Err: err}
	}

	if err := out.Close(); err != nil {
		return "", fmt.Errorf("closing output file: %w", err)
	}

	if err := os.Rename(path+".part", path); err != nil {
		return "", fmt.Errorf("finalizing output file: %w", err)
	}

	return path, nil
}

// selectFormat picks the stream matching the requested quality. With no
// quality preference the smallest mp4 with audio wins.
func selectFormat(video *youtube.Video, opts registry.Options) (*youtube.Format, error) {
	if opts.AudioOnly {
		formats := video.Formats.Type("audio")
		if len(formats) == 0 {
			return nil, &platform.FormatError{Requested: "audio"}
		}

		formats.Sort()

		return &formats[0], nil
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		formats = video.Formats
	}

	if len(formats) == 0 {
		return nil, &platform.FormatError{Requested: opts.Quality}
	}

	var selected *youtube.Format

	for i := range formats {
		if !strings.Contains(formats[i].MimeType, "video/mp4") {
			continue
		}

		if opts.Quality != "" {
			if formats[i].QualityLabel == opts.Quality {
				selected = &formats[i]

				break
			}

			continue
		}

		if selected == nil || (formats[i].ContentLength > 0 && formats[i].ContentLength < selected.ContentLength) {
			selected = &formats[i]
		}
	}

	if selected == nil {
		if opts.Quality != "" {
			return nil, &platform.FormatError{Requested: opts.Quality}
		}

		selected = &formats[0]
	}

	return selected, nil
}

func extensionFor(format *youtube.Format) string {
	if strings.HasPrefix(format.MimeType, "audio/") {
		return ".m4a"
	}

	return ".mp4"
}

// newClient builds a youtube client with the current cookie artifact loaded
// into its jar.
func (a *Adapter) newClient() (*youtube.Client, error) {
	path, err := a.creds.ArtifactPath()
	if err != nil {
		return nil, err
	}

	cookies, err := credentials.ParseNetscapeFile(path)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse("https://www.youtube.com")
	jar.SetCookies(base, cookies)

	return &youtube.Client{
		HTTPClient: &http.Client{Jar: jar},
	}, nil
}

// mapLibError folds library errors into the shared platform error kinds so
// the retry classifier stays library-agnostic.
func mapLibError(operation, subject string, err error) error {
	var statusErr youtube.ErrUnexpectedStatusCode

	if errors.As(err, &statusErr) {
		switch code := int(statusErr); {
		case code == http.StatusTooManyRequests:
			return &platform.RateLimitError{Operation: operation, Err: err}
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &platform.AuthRequiredError{Operation: operation, Err: err}
		case code == http.StatusNotFound:
			return &platform.NotFoundError{URL: subject, Err: err}
		default:
			return &platform.NetworkError{Operation: operation, StatusCode: code, Err: err}
		}
	}

	var playability *youtube.ErrPlayabiltyStatus

	if errors.As(err, &playability) {
		switch playability.Status {
		case "LOGIN_REQUIRED":
			return &platform.AuthRequiredError{Operation: operation, Err: err}
		case "ERROR", "UNPLAYABLE":
			return &platform.NotFoundError{URL: subject, Err: err}
		default:
			return &platform.UnsupportedError{Subject: playability.Reason}
		}
	}

	if errors.Is(err, youtube.ErrInvalidCharactersInVideoID) || errors.Is(err, youtube.ErrVideoIDMinLength) {
		return &platform.UnsupportedError{Subject: subject}
	}

	return &platform.NetworkError{Operation: operation, Err: err}
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}

	replacer := strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "-", "?", "", "\"", "", "<", "", ">", "", "|", "-")

	return replacer.Replace(name)
}
