package control

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/core-tools/hsu-couchbar/pkg/domain"
	"github.com/core-tools/hsu-couchbar/pkg/logging"
)

// NewRouter serves the control contract over HTTP. metrics may be nil.
func NewRouter(handler domain.Contract, metrics http.Handler, logger logging.Logger) http.Handler {
	h := &httpServerHandler{
		handler: handler,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/status", h.status)
	r.Post("/start", h.start)
	r.Post("/stop", h.stop)
	r.Get("/output", h.output)
	r.Get("/admin-url", h.adminURL)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r
}

type httpServerHandler struct {
	handler domain.Contract
	logger  logging.Logger
}

type adminURLResponse struct {
	URL string `json:"url"`
}

type stopResponse struct {
	Stopped bool `json:"stopped"`
}

func (h *httpServerHandler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.handler.Status(r.Context())
	if err != nil {
		h.logger.Errorf("Status server handler: %v", err)
		writeError(w, r, err)
		return
	}
	h.logger.Debugf("Status server handler done")
	render.JSON(w, r, status)
}

func (h *httpServerHandler) start(w http.ResponseWriter, r *http.Request) {
	handle, err := h.handler.Start(r.Context())
	if err != nil {
		h.logger.Errorf("Start server handler: %v", err)
		writeError(w, r, err)
		return
	}
	h.logger.Debugf("Start server handler done, pid: %d", handle.PID)
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, handle)
}

func (h *httpServerHandler) stop(w http.ResponseWriter, r *http.Request) {
	// Stop is bounded by the grace period and must finish even if the caller hangs up
	if err := h.handler.Stop(context.Background()); err != nil {
		h.logger.Errorf("Stop server handler: %v", err)
		writeError(w, r, err)
		return
	}
	h.logger.Debugf("Stop server handler done")
	render.JSON(w, r, stopResponse{Stopped: true})
}

func (h *httpServerHandler) output(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if follower, ok := h.handler.(domain.OutputFollower); ok && r.URL.Query().Get("follow") != "" {
		writer := &flushWriter{w: w}
		if flusher, ok := w.(http.Flusher); ok {
			writer.flusher = flusher
		}
		w.WriteHeader(http.StatusOK)
		if err := follower.FollowOutput(r.Context(), writer); err != nil {
			h.logger.Debugf("Output follow ended: %v", err)
		}
		return
	}

	output, err := h.handler.Output(r.Context())
	if err != nil {
		h.logger.Errorf("Output server handler: %v", err)
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(output)
}

func (h *httpServerHandler) adminURL(w http.ResponseWriter, r *http.Request) {
	url, err := h.handler.AdminURL(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, adminURLResponse{URL: url})
}

type flushWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (f *flushWriter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f *flushWriter) Flush() {
	if f.flusher != nil {
		f.flusher.Flush()
	}
}
