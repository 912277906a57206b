package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solatis/autogift/internal/core/api"
	"github.com/solatis/autogift/internal/core/config"
	"github.com/solatis/autogift/internal/core/metrics"
)

// maxRequestBytes bounds evaluation request bodies.
const maxRequestBytes = 1 << 20

// Handler wires HTTP evaluation endpoints to the evaluation service.
type Handler struct {
	service *api.EvaluationService
	logger  *slog.Logger
	timeout time.Duration
}

// NewHandler constructs an HTTP handler.
func NewHandler(service *api.EvaluationService, logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{service: service, logger: logger, timeout: timeout}
}

// Register mounts the evaluation endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/shops/{shopID}/evaluate", h.HandleEvaluate)
}

// HandleEvaluate handles POST /v1/shops/{shopID}/evaluate. The body is an
// api.EvaluateRequest; the shop id from the path wins over the body.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var req api.EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode body: %v", api.ErrInvalidRequest, err))
		return
	}
	req.ShopID = chi.URLParam(r, "shopID")

	resp, err := h.service.Evaluate(ctx, metrics.CallerCheckout, req)
	if err != nil {
		h.logger.WarnContext(ctx, "evaluate request failed",
			"request_id", middleware.GetReqID(ctx),
			"shop_id", req.ShopID,
			"error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// NewRouter builds the HTTP router: evaluation, liveness and metrics.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	mountOps(r, gatherer)
	h.Register(r)
	return r
}

// NewMetricsRouter builds a router serving only liveness and metrics, for
// processes without the evaluation API.
func NewMetricsRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	mountOps(r, gatherer)
	return r
}

func mountOps(r chi.Router, gatherer prometheus.Gatherer) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP statuses with a JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "internal"
	switch {
	case errors.Is(err, api.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, api.ErrCatalogUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "deadline_exceeded"
	}
	writeJSON(w, status, map[string]string{"error": code, "message": err.Error()})
}

// HTTPServer manages HTTP server lifecycle.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates an HTTP server on cfg.HTTPAddr.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) *HTTPServer {
	return &HTTPServer{server: &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start serves until Shutdown.
func (s *HTTPServer) Start() error {
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx ends.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
