package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/storage"
)

// Reader is the read path the server renders. query.Engine implements it.
type Reader interface {
	Fetch(ctx context.Context, source models.Source, window models.Window) []models.Reading
	Sensor(ctx context.Context, window models.Window) []models.SensorReading
	Weather(ctx context.Context, window models.Window) []models.WeatherReading
	TableStats(ctx context.Context, source models.Source) *storage.TableStats
}

// Server serves the dashboard API and stream
type Server struct {
	reader   Reader
	cfg      config.ServerConfig
	version  string
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	// cancels open streams on Close; hijacked connections outlive http.Server.Shutdown
	streamCtx    context.Context
	cancelStream context.CancelFunc
	streamsMu    sync.Mutex
	closed       bool
	streams      sync.WaitGroup
}

// New creates a server over reader
func New(reader Reader, cfg config.ServerConfig, version string, logger zerolog.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		reader:       reader,
		cfg:          cfg,
		version:      version,
		logger:       logger.With().Str("component", "server").Logger(),
		now:          time.Now,
		streamCtx:    ctx,
		cancelStream: cancel,
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes returns the HTTP handler for every endpoint
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.HandleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/readings/{source}", s.HandleReadings)
		r.Get("/stats", s.HandleStats)
		r.Get("/compare/{field}", s.HandleCompare)
		r.Get("/dashboard", s.HandleDashboard)
		r.Get("/stream", s.HandleStream)
	})

	return r
}

// Close ends every open stream and waits for them to finish
func (s *Server) Close() {
	s.streamsMu.Lock()
	s.closed = true
	s.streamsMu.Unlock()

	s.cancelStream()
	s.streams.Wait()
}

// trackStream registers a new stream, or reports false once Close has begun
func (s *Server) trackStream() bool {
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()
	if s.closed {
		return false
	}
	s.streams.Add(1)
	return true
}

// instrument records request metrics and logs each request
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

		s.logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("duration", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Request served")
	})
}
