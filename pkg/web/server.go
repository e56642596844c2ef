// Package web serves the attention API and the live status websocket.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-attention/pkg/attention"
	"github.com/teslashibe/go-attention/pkg/escalation"
	"github.com/teslashibe/go-attention/pkg/hub"
	"github.com/teslashibe/go-attention/pkg/pose"
)

// Version is reported by /health.
var Version = "dev"

// Controller is the session runtime behind the API. *monitor.Monitor
// implements it.
type Controller interface {
	StartSession(ctx context.Context) (string, error)
	EndSession() (escalation.SessionStats, error)
	Snapshot() escalation.Snapshot
	Dismiss() (escalation.Level, error)
	ResetLadder() error
	SubmitLandmarks(points []pose.Point, confidence float64)
	OfferVerdict(v attention.OracleVerdict) bool
	Result() (attention.Result, time.Time)
	Counters() (frames, classifications, ticks uint64)
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l.With("component", "web.server") }
}

// WithBaseContext sets the context sessions started over HTTP run under.
// Request contexts end with the request, so sessions never use them.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// WithMetrics appends extra exposition text to /metrics.
func WithMetrics(fn func() string) Option {
	return func(s *Server) { s.extraMetrics = append(s.extraMetrics, fn) }
}

// Server is the HTTP surface.
type Server struct {
	app          *fiber.App
	ctl          Controller
	statusHub    *hub.Hub
	baseCtx      context.Context
	logger       *slog.Logger
	extraMetrics []func() string
	started      time.Time
}

// NewServer builds the app and its routes. Call Start to serve.
func NewServer(ctl Controller, opts ...Option) *Server {
	s := &Server{
		ctl:     ctl,
		baseCtx: context.Background(),
		logger:  slog.Default().With("component", "web.server"),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.statusHub = hub.New("status", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "attentiond",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/session/start", s.handleSessionStart)
	api.Post("/session/end", s.handleSessionEnd)
	api.Post("/dismiss", s.handleDismiss)
	api.Post("/reset", s.handleReset)
	api.Post("/frames", s.handleFrames)
	api.Post("/oracle", s.handleOracle)

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	app.Use("/ws/status", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(func(conn *websocket.Conn) {
		hub.NewClient(s.statusHub, conn).Run()
	}))

	s.app = app
	return s
}

// App returns the fiber app so other packages can mount routes.
func (s *Server) App() *fiber.App { return s.app }

// StatusHub returns the hub behind /ws/status.
func (s *Server) StatusHub() *hub.Hub { return s.statusHub }

// Start runs the status hub and serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.statusHub.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Publish pushes an engine event to status websocket clients. Register it
// with Engine.Subscribe.
func (s *Server) Publish(ev escalation.Event) {
	if err := s.statusHub.BroadcastJSON(newStatusEvent(ev)); err != nil {
		s.logger.Warn("status encode failed", "error", err)
	}
}
