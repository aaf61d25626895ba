package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	httpapi "github.com/GriffinCanCode/ptyd/internal/api/http"
	"github.com/GriffinCanCode/ptyd/internal/api/middleware"
	"github.com/GriffinCanCode/ptyd/internal/api/ws"
	"github.com/GriffinCanCode/ptyd/internal/infrastructure/config"
	"github.com/GriffinCanCode/ptyd/internal/infrastructure/logging"
	"github.com/GriffinCanCode/ptyd/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ptyd/internal/providers/terminal"
	"github.com/GriffinCanCode/ptyd/internal/service"
)

const wsPrefix = "/ws/"

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	handler  http.Handler
	sessions *terminal.Registry
	services *service.Registry
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	http     *http.Server
	listener net.Listener
	ready    chan struct{}
}

// Option customizes a Server.
type Option func(*options)

type options struct {
	open terminal.OpenFunc
}

// WithOpenFunc replaces the PTY implementation sessions are spawned with.
func WithOpenFunc(open terminal.OpenFunc) Option {
	return func(o *options) { o.open = open }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger.Info("Initializing ptyd",
		zap.String("addr", cfg.Addr()),
		zap.String("command", cfg.Terminal.Command),
		zap.Int("max_sessions", cfg.Terminal.MaxSessions),
	)

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())

	regOpts := cfg.Terminal.Options()
	regOpts.Logger = logger.Logger
	regOpts.Observer = metrics
	regOpts.Open = o.open
	sessions := terminal.NewRegistry(regOpts)

	command := cfg.Terminal.CommandSpec()
	size := cfg.Terminal.Size()

	services := service.NewRegistry()
	if err := services.Register(terminal.NewProvider(sessions, command, size)); err != nil {
		return nil, fmt.Errorf("register terminal provider: %w", err)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	corsCfg := middleware.NewCORSConfig(cfg.CORS.AllowedOrigins, cfg.CORS.AllowCredentials)
	router.Use(middleware.Recovery(logger.Logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}
	if rps := cfg.RateLimit.GlobalRequestsPerSecond; rps > 0 {
		logger.Info("Global rate limit enabled",
			zap.Int("rps", rps),
			zap.Int("burst", cfg.RateLimit.GlobalBurst),
		)
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rps,
			Burst:             cfg.RateLimit.GlobalBurst,
		}))
	}

	handlers := httpapi.NewHandlers(httpapi.Config{
		Sessions: sessions,
		Services: services,
		Metrics:  metrics,
		Command:  command,
		Size:     size,
		Logger:   logger.Logger,
	})
	handlers.Register(router)

	wsHandler := ws.NewHandler(ws.Config{
		Sessions:    sessions,
		Metrics:     metrics,
		Logger:      logger.Logger,
		CheckOrigin: corsCfg.OriginAllowed,
		Command:     command,
		Size:        size,
	})
	router.GET(wsPrefix+"sessions/:id", wsHandler.HandleConnection)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		handler:  compress(router, cfg.Server.Gzip),
		sessions: sessions,
		services: services,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		ready:    make(chan struct{}),
	}, nil
}

// compress gzips responses except websocket upgrades, which need the raw
// connection.
func compress(h http.Handler, enabled bool) http.Handler {
	if !enabled {
		return h
	}
	gz := gzhttp.GzipHandler(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, wsPrefix) {
			h.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the session registry.
func (s *Server) Sessions() *terminal.Registry {
	return s.sessions
}

// Addr returns the bound listener address once Run is serving.
func (s *Server) Addr() string {
	select {
	case <-s.ready:
		return s.listener.Addr().String()
	default:
		return ""
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run binds the listener, starts the reaper and serves until ctx ends, then
// shuts down gracefully. A listener failure is returned; a clean shutdown
// returns nil.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		s.shutdownSessions()
		return fmt.Errorf("listen on %s: %w", s.config.Addr(), err)
	}

	s.listener = ln
	s.http = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.sessions.Start()
	close(s.ready)

	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.shutdownSessions()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	return s.Close()
}

// Close stops accepting requests, then terminates every session.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout())
	defer cancel()

	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.sessions.Shutdown(ctx); err != nil {
		s.logger.Error("Session shutdown incomplete", zap.Error(err))
		errs = append(errs, fmt.Errorf("session shutdown: %w", err))
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}

func (s *Server) shutdownSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout())
	defer cancel()
	if err := s.sessions.Shutdown(ctx); err != nil {
		s.logger.Error("Session shutdown incomplete", zap.Error(err))
	}
}

// ApplyConfig applies the settings that can change without a restart: idle
// timeout, log level and escape stripping for new sessions. Everything
// else is reported and ignored.
func (s *Server) ApplyConfig(cfg *config.Config) {
	s.sessions.SetIdleTimeout(cfg.Terminal.IdleTimeout())
	s.sessions.SetStripANSI(cfg.Terminal.StripANSI)
	if err := s.logger.SetLevel(cfg.Logging.Level); err != nil {
		s.logger.Warn("Ignoring log level", zap.Error(err))
	}

	if cfg.Addr() != s.config.Addr() || cfg.Terminal.Command != s.config.Terminal.Command {
		s.logger.Warn("Listener and command changes need a restart")
	}
	s.logger.Info("Configuration reloaded",
		zap.Duration("idle_timeout", cfg.Terminal.IdleTimeout()),
		zap.String("log_level", cfg.Logging.Level),
		zap.Bool("strip_ansi", cfg.Terminal.StripANSI),
	)
}

// WatchConfig reloads path on change and applies it until ctx ends.
func (s *Server) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err != nil {
			s.logger.Warn("Config reload failed", zap.String("path", path), zap.Error(err))
			return
		}
		s.ApplyConfig(cfg)
	})
}
