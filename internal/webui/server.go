// Package webui serves the profile cache over a JSON HTTP API.
package webui

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/flamegiraffe/internal/flamegraph"
	"github.com/flamegiraffe/internal/service"
	"github.com/flamegiraffe/pkg/compression"
	"github.com/flamegiraffe/pkg/config"
	apperrors "github.com/flamegiraffe/pkg/errors"
	"github.com/flamegiraffe/pkg/telemetry"
	"github.com/flamegiraffe/pkg/utils"
	"github.com/flamegiraffe/pkg/writer"
)

var tracer = telemetry.Tracer("webui")

// Server represents the HTTP API server.
type Server struct {
	cfg    config.ServerConfig
	svc    *service.Service
	logger utils.Logger
	router chi.Router
	server *http.Server
}

// NewServer creates a new API server for an initialized service.
func NewServer(cfg config.ServerConfig, svc *service.Service, logger utils.Logger) *Server {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	s := &Server{
		cfg:    cfg,
		svc:    svc,
		logger: logger,
	}
	s.router = s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.traceRequests)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Route("/api/profiles", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleDelete)
			r.Get("/tree", s.handleTree)
			r.Get("/layout", s.handleLayout)
			r.Get("/top", s.handleTop)
		})
	})
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and blocks until the server stops.
// A graceful Shutdown makes it return nil.
func (s *Server) Start() error {
	s.logger.Info("Starting API server at %s", s.cfg.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.HealthCheck(r.Context()); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: apperrors.CodeUnknown, Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		service.ServiceStats
	}{"ok", s.svc.Stats()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Profiles().List())
}

// handleCreate registers a profile from the request body, or from storage
// when a ref query parameter is given.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var (
		p   *service.Profile
		err error
	)
	if ref := r.URL.Query().Get("ref"); ref != "" {
		p, err = s.svc.Profiles().Load(r.Context(), ref)
	} else {
		p, err = s.parseBody(w, r)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/profiles/"+p.ID)
	s.writeJSON(w, http.StatusCreated, p.Summary())
}

// parseBody aggregates the request body. Gzip and zstd bodies are detected
// by their magic bytes; the size cap applies to the compressed bytes.
func (s *Server) parseBody(w http.ResponseWriter, r *http.Request) (*service.Profile, error) {
	var body io.Reader = r.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	}
	rc, typ, err := compression.NewReader(body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput, "corrupt "+typ.String()+" body", err)
	}
	defer rc.Close()
	return s.svc.Profiles().Parse(r.Context(), rc, r.URL.Query().Get("source"))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Profiles().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, p.Summary())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.svc.Profiles().Forget(id) {
		s.writeError(w, r, apperrors.Newf(apperrors.CodeNotFound, "profile %s not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTree streams the aggregated tree as json, gzip, zstd or folded text.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Profiles().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	format, err := writer.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, apperrors.Wrap(apperrors.CodeInvalidInput, "bad format", err))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	switch format {
	case writer.FormatGzip:
		w.Header().Set("Content-Disposition", `attachment; filename="`+p.ID+`.json.gz"`)
		err = flamegraph.NewGzipWriter().Write(p.Graph, w)
	case writer.FormatZstd:
		w.Header().Set("Content-Disposition", `attachment; filename="`+p.ID+`.json.zst"`)
		err = flamegraph.NewZstdWriter().Write(p.Graph, w)
	case writer.FormatFolded:
		err = flamegraph.NewFoldedWriter().Write(p.Graph, w)
	default:
		err = flamegraph.NewJSONWriter().Write(p.Graph, w)
	}
	if err != nil {
		utils.LoggerFromContext(r.Context(), s.logger).WithField("id", p.ID).Warn("failed to write tree: %v", err)
	}
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	req, err := parseLayoutRequest(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Profiles().Layout(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.TopRequest{Focus: q.Get("focus"), SortBy: q.Get("sort")}

	var err error
	if req.N, err = parseInt(q.Get("n"), "n"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Stacks, err = parseInt(q.Get("stacks"), "stacks"); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.svc.Profiles().Top(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// parseLayoutRequest reads the layout query. The focus path separator must be
// percent-encoded (%3B); net/url drops pairs holding a raw ';'.
func parseLayoutRequest(r *http.Request) (service.LayoutRequest, error) {
	q := r.URL.Query()
	req := service.LayoutRequest{Focus: q.Get("focus")}

	var err error
	if req.Width, err = parseFloat(q.Get("width"), "width"); err != nil {
		return req, err
	}
	if req.RowHeight, err = parseFloat(q.Get("rowHeight"), "rowHeight"); err != nil {
		return req, err
	}
	if o := q.Get("orientation"); o != "" {
		if req.Orientation, err = flamegraph.ParseOrientation(o); err != nil {
			return req, apperrors.Wrap(apperrors.CodeInvalidInput, "bad orientation", err)
		}
	}
	return req, nil
}

// parseFloat parses an optional numeric query parameter. Empty yields 0.
func parseFloat(v, name string) (float64, error) {
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidInput, "bad "+name, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "%s must be finite", name)
	}
	if f <= 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidInput, "%s must be positive", name)
	}
	return f, nil
}

// parseInt parses an optional count query parameter. Empty yields 0.
func parseInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidInput, "bad "+name, err)
	}
	return n, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	body := errorBody{Code: apperrors.GetErrorCode(err), Message: err.Error()}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
		body.Code = apperrors.CodeInvalidInput
	}

	if status >= http.StatusInternalServerError {
		utils.LoggerFromContext(r.Context(), s.logger).WithField("path", r.URL.Path).Error("request failed: %v", err)
	}
	s.writeJSON(w, status, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := writer.NewJSONWriter[any]().Write(v, w); err != nil {
		s.logger.Warn("failed to write response: %v", err)
	}
}

// traceRequests starts a server span per request, continuing any trace the
// caller propagated.
func (s *Server) traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.response.status_code", ww.Status()))
		if ww.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(ww.Status()))
		}
	})
}

// logRequests attaches a logger tagged with the request ID to the request
// context and logs each finished request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		log := s.logger.WithField("request", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(utils.ContextWithLogger(r.Context(), log)))

		log.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start).String(),
		}).Debug("request")
	})
}
