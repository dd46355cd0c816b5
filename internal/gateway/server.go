// Package gateway is the request pipeline controller: it validates the
// request, fetches the source image and streams it to the client either
// untouched or through the transform stage, as one backpressured pipe.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/dunamismax/pixelgate/internal/config"
	"github.com/dunamismax/pixelgate/internal/fetch"
	"github.com/dunamismax/pixelgate/internal/id"
	"github.com/dunamismax/pixelgate/internal/params"
	"github.com/dunamismax/pixelgate/internal/pipeline"
	"go.opentelemetry.io/otel/trace"
)

// Fetcher retrieves the source image. The concrete implementation lives in
// internal/fetch; tests substitute call-counting doubles.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// objectPath is the fixed shape of the path-based route: four directory
// segments plus a filename with extension.
var objectPath = regexp.MustCompile(`^/[^/]+/[^/]+/[^/]+/[^/]+/[^/]+\.[A-Za-z0-9]+$`)

type Server struct {
	logger      *log.Logger
	fetcher     Fetcher
	transformer pipeline.Transformer
	pool        *pipeline.Pool
	cfg         config.GatewayConfig
	allowedHost *regexp.Regexp
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
}

type Option func(*Server)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

func NewServer(logger *log.Logger, fetcher Fetcher, transformer pipeline.Transformer, pool *pipeline.Pool, cfg config.GatewayConfig, opts ...Option) (*Server, error) {
	if cfg.DefaultCacheControl == "" {
		cfg.DefaultCacheControl = "public, max-age=3600"
	}

	s := &Server{
		logger:      logger,
		fetcher:     fetcher,
		transformer: transformer,
		pool:        pool,
		cfg:         cfg,
		metrics:     newMetrics(),
		mux:         http.NewServeMux(),
	}

	if cfg.AllowedHostPattern != "" {
		compiled, err := regexp.Compile(cfg.AllowedHostPattern)
		if err != nil {
			return nil, fmt.Errorf("compile allowed host pattern: %w", err)
		}
		s.allowedHost = compiled
	}

	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.withRecovery(h)
	h = s.metrics.withHTTPMetrics(h)
	h = s.withTracing(h)
	h = withRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /resize", s.handleResize)
	if s.cfg.ObjectBaseURL != "" {
		s.mux.HandleFunc("GET /{a}/{b}/{c}/{d}/{file}", s.handleObject)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResize serves the query-parameter route. Only parameters that
// normalized to effective values route through the transformer.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	req, err := params.FromQuery(r.URL.Query(), params.TriggerEffective)
	if err != nil {
		s.writeError(w, r, "validate", r.URL.Query().Get("url"), err)
		return
	}
	s.run(w, r, req)
}

// handleObject serves the path-based route. Host and path shape are checked
// before the object URL is derived, so a forbidden request never reaches the
// network. Presence of any transform key triggers the transform branch here.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	if s.allowedHost != nil && !s.allowedHost.MatchString(requestHost(r)) {
		s.writeError(w, r, "validate", "", ErrForbiddenHost)
		return
	}
	if !objectPath.MatchString(r.URL.Path) {
		s.writeError(w, r, "validate", "", ErrInvalidPath)
		return
	}

	sourceURL := strings.TrimRight(s.cfg.ObjectBaseURL, "/") + r.URL.Path
	req, err := params.ForSource(sourceURL, r.URL.Query(), params.TriggerPresence)
	if err != nil {
		s.writeError(w, r, "validate", sourceURL, err)
		return
	}
	s.run(w, r, req)
}

// run drives fetch → (passthrough | transform) → response for one request.
func (s *Server) run(w http.ResponseWriter, r *http.Request, req params.TransformRequest) {
	upstream, err := s.fetcher.Fetch(r.Context(), req.SourceURL)
	if err != nil {
		s.metrics.upstreamFailures.WithLabelValues(failureReason(err)).Inc()
		s.writeError(w, r, "fetch", req.SourceURL, err)
		return
	}
	defer upstream.Close()

	if !req.TransformRequested {
		s.passthrough(w, r, req, upstream)
		return
	}
	s.transform(w, r, req, upstream)
}

func (s *Server) passthrough(w http.ResponseWriter, r *http.Request, req params.TransformRequest, upstream *fetch.Response) {
	if upstream.Body == nil {
		s.logger.Printf("passthrough failed request_id=%s url=%s err=upstream returned no body", requestID(r.Context()), req.SourceURL)
		s.metrics.pipelineOutcomes.WithLabelValues("passthrough", "error").Inc()
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	hdr := w.Header()
	if upstream.ContentType != "" {
		hdr.Set("Content-Type", upstream.ContentType)
	}
	if upstream.ContentLength >= 0 {
		hdr.Set("Content-Length", strconv.FormatInt(upstream.ContentLength, 10))
	}
	hdr.Set("Cache-Control", s.cacheControl(upstream))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, upstream.Body); err != nil {
		// Headers are out; the only honest signal left is an abrupt close.
		s.logger.Printf("passthrough aborted request_id=%s url=%s err=%v", requestID(r.Context()), req.SourceURL, err)
		s.metrics.pipelineOutcomes.WithLabelValues("passthrough", "aborted").Inc()
		panic(http.ErrAbortHandler)
	}
	s.metrics.pipelineOutcomes.WithLabelValues("passthrough", "ok").Inc()
}

func (s *Server) transform(w http.ResponseWriter, r *http.Request, req params.TransformRequest, upstream *fetch.Response) {
	ctx := r.Context()
	if err := s.pool.Acquire(ctx); err != nil {
		// Client went away while queued for a transform slot.
		return
	}

	pr, pw := io.Pipe()
	go func() {
		defer s.pool.Release()
		pw.CloseWithError(s.transformer.Transform(ctx, upstream.Body, pw, req))
	}()
	defer pr.Close()

	// Delay headers until the first output byte so a transform failure can
	// still be reported as a structured error.
	chunk := make([]byte, 32*1024)
	n, err := pr.Read(chunk)
	if n == 0 && err != nil {
		if err == io.EOF {
			err = errors.New("transform produced no output")
		}
		s.metrics.pipelineOutcomes.WithLabelValues("transform", "error").Inc()
		s.writeError(w, r, "transform", req.SourceURL, fmt.Errorf("%w: %v", errTransformFailed, err))
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", transformContentType(req, upstream))
	// Content-Length stays unset: the transformed size is unknown until the
	// encoder finishes.
	hdr.Set("Cache-Control", s.cfg.DefaultCacheControl)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(chunk[:n]); err == nil {
		_, err = io.Copy(w, pr)
	}
	if err != nil {
		s.logger.Printf("transform stream aborted request_id=%s url=%s err=%v", requestID(r.Context()), req.SourceURL, err)
		s.metrics.pipelineOutcomes.WithLabelValues("transform", "aborted").Inc()
		panic(http.ErrAbortHandler)
	}
	s.metrics.pipelineOutcomes.WithLabelValues("transform", "ok").Inc()
}

func (s *Server) cacheControl(upstream *fetch.Response) string {
	if upstream.CacheControl != "" {
		return upstream.CacheControl
	}
	return s.cfg.DefaultCacheControl
}

func transformContentType(req params.TransformRequest, upstream *fetch.Response) string {
	if req.Format != "" {
		return pipeline.ContentTypeFor(req.Format)
	}
	if strings.HasPrefix(upstream.ContentType, "image/") {
		return upstream.ContentType
	}
	return "application/octet-stream"
}

func failureReason(err error) string {
	var statusErr *fetch.StatusError
	switch {
	case errors.Is(err, fetch.ErrTimeout):
		return "timeout"
	case errors.Is(err, fetch.ErrUnreachable):
		return "unreachable"
	case errors.As(err, &statusErr):
		return "upstream_status"
	default:
		return "other"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, stage, sourceURL string, err error) {
	status, message := statusForError(err)
	s.logger.Printf("%s failed request_id=%s url=%s status=%d err=%v", stage, requestID(r.Context()), sourceURL, status, err)
	writeJSON(w, status, map[string]string{"error": message})
}

// withRecovery is the catch-all terminal: an unanticipated panic maps to a
// generic 500 when headers have not been sent, and to an aborted connection
// otherwise.
func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}
			s.logger.Printf("panic recovered request_id=%s path=%s err=%v", requestID(r.Context()), r.URL.Path, rec)
			if recorder.wroteHeader {
				panic(http.ErrAbortHandler)
			}
			writeJSON(recorder, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		}()
		next.ServeHTTP(recorder, r)
	})
}

type ctxKey int

const requestIDKey ctxKey = 0

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := id.New()
		w.Header().Set("X-Request-Id", rid)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, rid)))
	})
}

func requestID(ctx context.Context) string {
	if rid, ok := ctx.Value(requestIDKey).(string); ok {
		return rid
	}
	return "unknown"
}

func requestHost(r *http.Request) string {
	host := r.Host
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
