package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/media_downloader/internal/credentials"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/platform"
	"github.com/italolelis/media_downloader/internal/registry"
	"github.com/italolelis/media_downloader/internal/storage"
)

// Waker lets the handler nudge the worker pool after a successful enqueue
// instead of waiting for its poll tick.
type Waker interface {
	Wake()
}

type DownloadRequest struct {
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Quality   string `json:"quality,omitempty"`
	AudioOnly bool   `json:"audio_only,omitempty"`
	Playlist  bool   `json:"playlist,omitempty"`
}

type DownloadResponse struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Platform  string     `json:"platform"`
	Name      string     `json:"name,omitempty"`
	Status    string     `json:"status"`
	Progress  float64    `json:"progress"`
	Attempt   int        `json:"attempt"`
	LastError string     `json:"last_error,omitempty"`
	Output    string     `json:"output_path,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DoneAt    *time.Time `json:"completed_at,omitempty"`
}

type CredentialResponse struct {
	Phase       string     `json:"phase"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

type HistoryResponse struct {
	DownloadID string `json:"download_id"`
	URL        string `json:"url"`
	Platform   string `json:"platform"`
	Name       string `json:"name,omitempty"`
	Status     string `json:"status"`
	OutputPath string `json:"output_path,omitempty"`
	FinishedAt string `json:"finished_at"`
}

type DownloadsHandler struct {
	username string
	password string

	reg     *registry.Registry
	creds   *credentials.Manager
	pool    Waker
	history storage.DownloadReadRepository
}

// NewDownloadsHandler creates the control surface over the download engine.
func NewDownloadsHandler(username, password string, reg *registry.Registry, creds *credentials.Manager, pool Waker, history storage.DownloadReadRepository) *DownloadsHandler {
	return &DownloadsHandler{
		username: username,
		password: password,
		reg:      reg,
		creds:    creds,
		pool:     pool,
		history:  history,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/downloads", h.HandleEnqueue)
	r.Get("/downloads", h.HandleList)
	r.Get("/downloads/history", h.HandleHistory)
	r.Get("/downloads/{id}", h.HandleGet)
	r.Delete("/downloads/completed", h.HandleEvictCompleted)

	r.Get("/credentials", h.HandleCredentialState)
	r.Post("/credentials/refresh", h.HandleCredentialRefresh)

	return r
}

// HandleEnqueue registers a new download and wakes the pool.
func (h *DownloadsHandler) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	d, err := h.reg.Enqueue(req.URL, platform.Detect(req.URL), req.Name, registry.Options{
		Quality:   req.Quality,
		AudioOnly: req.AudioOnly,
		Playlist:  req.Playlist,
	})
	if err != nil {
		var validationErr *registry.ValidationError
		if errors.As(err, &validationErr) {
			http.Error(w, validationErr.Error(), http.StatusUnprocessableEntity)

			return
		}

		logger.Error("failed to enqueue download", "err", err)
		http.Error(w, "failed to enqueue download", http.StatusInternalServerError)

		return
	}

	h.pool.Wake()

	logger.Info("download enqueued", "download_id", d.ID, "platform", d.Platform)

	writeJSON(w, http.StatusCreated, toDownloadResponse(d))
}

// HandleList returns every tracked download in creation order.
func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	snapshot := h.reg.Snapshot()

	out := make([]DownloadResponse, 0, len(snapshot))
	for _, d := range snapshot {
		out = append(out, toDownloadResponse(d))
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	d, ok := h.reg.Get(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "download not found", http.StatusNotFound)

		return
	}

	writeJSON(w, http.StatusOK, toDownloadResponse(d))
}

// HandleEvictCompleted drops completed downloads from the tracked set.
func (h *DownloadsHandler) HandleEvictCompleted(w http.ResponseWriter, r *http.Request) {
	evicted := h.reg.EvictCompleted()

	writeJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}

func (h *DownloadsHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	records, err := h.history.GetHistory()
	if err != nil {
		logger.Error("failed to read download history", "err", err)
		http.Error(w, "failed to read download history", http.StatusInternalServerError)

		return
	}

	out := make([]HistoryResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, HistoryResponse{
			DownloadID: rec.DownloadID,
			URL:        rec.URL,
			Platform:   rec.Platform,
			Name:       rec.Name,
			Status:     rec.Status,
			OutputPath: rec.OutputPath,
			FinishedAt: rec.FinishedAt,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

func (h *DownloadsHandler) HandleCredentialState(w http.ResponseWriter, r *http.Request) {
	state := h.creds.State()

	resp := CredentialResponse{
		Phase:     string(state.Phase()),
		LastError: state.LastError,
	}

	if !state.GeneratedAt.IsZero() {
		resp.GeneratedAt = &state.GeneratedAt
		resp.ExpiresAt = &state.ExpiresAt
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleCredentialRefresh drops the current artifact and starts regeneration.
func (h *DownloadsHandler) HandleCredentialRefresh(w http.ResponseWriter, r *http.Request) {
	h.creds.Invalidate(r.Context())

	writeJSON(w, http.StatusAccepted, map[string]string{"phase": string(credentials.PhaseGenerating)})
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func toDownloadResponse(d registry.Download) DownloadResponse {
	resp := DownloadResponse{
		ID:        d.ID,
		URL:       d.URL,
		Platform:  d.Platform,
		Name:      d.Name,
		Status:    string(d.Status),
		Progress:  d.Progress,
		Attempt:   d.Attempt,
		LastError: d.LastError,
		Output:    d.OutputPath,
		CreatedAt: d.CreatedAt,
	}

	if !d.CompletedAt.IsZero() {
		completedAt := d.CompletedAt
		resp.DoneAt = &completedAt
	}

	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
