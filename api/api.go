// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/whisper-darkly/kickclient/capture"
	"github.com/whisper-darkly/kickclient/events"
	"github.com/whisper-darkly/kickclient/logger"
	"github.com/whisper-darkly/kickclient/metrics"
	"github.com/whisper-darkly/kickclient/orchestrator"
	"github.com/whisper-darkly/kickclient/stream"
)

// Service is the part of the orchestrator the handlers drive.
type Service interface {
	StartCapture(ctx context.Context, req orchestrator.CaptureRequest) (orchestrator.Result, error)
	DownloadVOD(ctx context.Context, req orchestrator.DownloadRequest) (orchestrator.Result, error)
	StopCapture(locator string) (string, error)
	Statuses() []capture.Status
	ListActive() []string
	Qualities(ctx context.Context, locator string) ([]stream.QualityOption, error)
	Subscribe(buf int) (<-chan events.Event, func())
	ActiveCount() int
	DroppedEvents() uint64
}

// Handler serves the command surface.
type Handler struct {
	svc     Service
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. m may be nil to disable metrics.
func NewHandler(svc Service, log *logger.Logger, m *metrics.Metrics) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(h.log))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler(func() {
			h.metrics.SetActiveJobs(h.svc.ActiveCount())
			h.metrics.SetDroppedEvents(h.svc.DroppedEvents())
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/captures", h.StartCapture)
		r.Post("/captures/stop", h.StopCapture)
		r.Get("/captures", h.ListCaptures)
		r.Post("/downloads", h.DownloadVOD)
		r.Get("/qualities", h.Qualities)
		r.Get("/events", h.Events)
	})
	return r
}

// StartCapture handles POST /api/captures.
func (h *Handler) StartCapture(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.StartCapture(r.Context(), req)
	if err != nil {
		h.fail(w, "start capture", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// DownloadVOD handles POST /api/downloads.
func (h *Handler) DownloadVOD(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := h.svc.DownloadVOD(r.Context(), req)
	if err != nil {
		h.fail(w, "download", err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

type stopRequest struct {
	Locator string `json:"streamLocator"`
}

// StopCapture handles POST /api/captures/stop.
func (h *Handler) StopCapture(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := h.svc.StopCapture(req.Locator)
	if err != nil {
		h.fail(w, "stop capture", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// ListCaptures handles GET /api/captures.
func (h *Handler) ListCaptures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": h.svc.ListActive(),
		"jobs":   h.svc.Statuses(),
	})
}

// Qualities handles GET /api/qualities?url=.
func (h *Handler) Qualities(w http.ResponseWriter, r *http.Request) {
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	opts, err := h.svc.Qualities(r.Context(), u)
	if err != nil {
		h.fail(w, "qualities", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"qualities": opts})
}

// fail maps orchestrator errors onto status codes.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var launchErr *capture.LaunchError
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &launchErr):
		h.log.Error("%s: %v", op, err)
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Error("%s: %v", op, err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
