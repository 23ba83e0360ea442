// Package server exposes the export, detail and changelist endpoints over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/detail"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/telemetry"
)

// Options wires a Server.
type Options struct {
	Registry *admin.Registry
	Exporter *export.Exporter
	Detail   *detail.Renderer
	Auth     *Authenticator
	Logger   *telemetry.Logger

	// Language is used when Accept-Language matches nothing.
	Language    language.Tag
	CORSOrigins []string

	// Ready reports whether dependencies are usable. Nil means always ready.
	Ready func(ctx context.Context) error

	// Middlewares run inside the router, after logging and recovery.
	Middlewares []func(http.Handler) http.Handler
}

// Server serves the admin HTTP API.
type Server struct {
	registry *admin.Registry
	exporter *export.Exporter
	detail   *detail.Renderer
	auth     *Authenticator
	logger   *telemetry.Logger
	language language.Tag
	origins  []string
	ready    func(ctx context.Context) error
	extra    []func(http.Handler) http.Handler
	tracer   trace.Tracer
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewLogger("armoryx")
	}
	auth := opts.Auth
	if auth == nil {
		auth = NewAuthenticator(nil)
	}
	return &Server{
		registry: opts.Registry,
		exporter: opts.Exporter,
		detail:   opts.Detail,
		auth:     auth,
		logger:   logger,
		language: opts.Language,
		origins:  opts.CORSOrigins,
		ready:    opts.Ready,
		extra:    opts.Middlewares,
		tracer:   otel.Tracer("armoryx.server"),
	}
}

// Routes builds the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	// Base Middleware
	r.Use(middleware.StripSlashes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Use(s.extra...)

	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type", "X-CSRF-Token"},
			ExposedHeaders:   []string{"Content-Disposition", "X-Export-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/-/ready", s.handleReady)

	r.Group(func(r chi.Router) {
		r.Use(s.recoverJSON)
		r.Use(s.requireStaff)
		r.Use(s.negotiateLanguage)

		r.Get("/export/{namespace}/{entity}/{format}", s.handleExport)
		r.Get("/admin/{namespace}/{entity}/{id}/view", s.handleDetail)

		r.Get("/api/v1", s.handleIndex)
		r.Route("/api/v1/{namespace}/{entity}", func(r chi.Router) {
			r.Get("/", s.handleList)
			r.Post("/", s.handleCreate)
			r.Delete("/{id}", s.handleDelete)
		})
	})

	return r
}

// requestLogger attaches a request-scoped logger to the context and writes
// one access log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With().
			Str("request_id", middleware.GetReqID(r.Context())).
			Logger()
		ctx := logger.WithContext(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger.Info().
			Ctx(ctx).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// recoverJSON renders a handler panic as a JSON 500 like any other
// unexpected error.
func (s *Server) recoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rvr := recover()
			if rvr == nil {
				return
			}
			if rvr == http.ErrAbortHandler {
				panic(rvr)
			}
			zerolog.Ctx(r.Context()).Error().
				Interface("panic", rvr).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			respondError(w, r, ErrInternal(fmt.Errorf("%v", rvr)))
		}()
		next.ServeHTTP(w, r)
	})
}

// negotiateLanguage picks the UI language from Accept-Language.
func (s *Server) negotiateLanguage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := admin.MatchLanguage(r.Header.Get("Accept-Language"), s.language)
		next.ServeHTTP(w, r.WithContext(admin.WithLanguage(r.Context(), tag)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			respondError(w, r, ErrStatus(http.StatusServiceUnavailable, err, err.Error()))
			return
		}
	}
	render.JSON(w, r, map[string]string{"status": "ready"})
}
