package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Default server configuration values.
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 9090
	DefaultReadTimeout     = 5 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	maxHeaderBytes = 64 << 10
)

// ServerConfig holds configuration for the operational HTTP server.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Instance is reported in health responses.
	Instance string
}

// DefaultServerConfig returns the configuration used when none is given.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Server serves health and metrics endpoints next to the worker.
type Server struct {
	echo   *echo.Echo
	config ServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewServer creates a server. Routes are added with RegisterHealth and
// RegisterMetrics before Start.
func NewServer(config ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = config.ReadTimeout
	e.Server.WriteTimeout = config.WriteTimeout
	e.Server.MaxHeaderBytes = maxHeaderBytes

	e.Use(Recover(logger))
	e.Use(RequestLogger(logger, PathHealth, PathReady, PathMetrics))

	return &Server{
		echo:   e,
		config: config,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// RegisterHealth adds /health, /ready and /health/details backed by checker.
// A nil checker reports no components.
func (s *Server) RegisterHealth(checker HealthChecker) {
	healthHandler{
		checker:  checker,
		instance: s.config.Instance,
		now:      time.Now,
	}.register(s.echo)
}

// RegisterMetrics adds /metrics. A nil gatherer serves the default registry.
func (s *Server) RegisterMetrics(gatherer prometheus.Gatherer) {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	s.echo.GET(PathMetrics, echo.WrapHandler(handler))
}

// Start binds the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.configuredAddress())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.configuredAddress(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.echo.Listener = ln
	close(s.ready)
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		slog.String("address", ln.Addr().String()),
		slog.Duration("read_timeout", s.config.ReadTimeout),
		slog.Duration("write_timeout", s.config.WriteTimeout),
	)

	if err = s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Ready is closed once the server is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Address returns the bound address once listening, the configured one before.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.configuredAddress()
}

func (s *Server) configuredAddress() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Shutdown stops accepting requests and waits for the ones in flight, at most
// ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.InfoContext(ctx, "HTTP server stopped")
	return nil
}
