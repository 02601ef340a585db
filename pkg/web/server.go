// Package web serves the status and control surface for a running
// conversation, plus the UI event stream.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/teslashibe/go-galina/pkg/conversation"
	"github.com/teslashibe/go-galina/pkg/export"
	"github.com/teslashibe/go-galina/pkg/hub"
	"github.com/teslashibe/go-galina/pkg/recognition"
	"github.com/teslashibe/go-galina/pkg/reply"
)

// Controller is the conversation the server drives.
type Controller interface {
	Status() conversation.Status
	History() []reply.Message
	Mute() error
	Unmute() error
	SetSound(enabled bool) error
	Interrupt(reason string) error
	Submit(text string) error
	BeginRecording() error
	EndRecording() error
	Teardown(ctx context.Context) error
}

// Negotiator answers a browser's WebRTC offer.
type Negotiator interface {
	Negotiate(ctx context.Context, offerSDP string) (string, error)
}

// ExportAuth is the OAuth surface of the transcript exporter.
type ExportAuth interface {
	GetStatus() export.Status
	AuthURL() string
	HandleCallback(ctx context.Context, code string) error
	Disconnect() error
}

var (
	_ Controller = (*conversation.Conversation)(nil)
	_ ExportAuth = (*export.GoogleDocs)(nil)
)

// Config configures the Server.
type Config struct {
	Addr       string
	Controller Controller
	Hub        *hub.Hub
	RTC        Negotiator // Optional
	Export     ExportAuth // Optional
	StaticDir  string     // Optional UI bundle
	Logger     *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	cfg     Config
	app     *fiber.App
	logger  *slog.Logger
	started time.Time
}

// NewServer builds the fiber app and registers every route.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "web"),
		started: time.Now(),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Galina",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// CORS for local development
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Get("/history", s.handleHistory)
	api.Post("/mute", s.handleMute)
	api.Post("/unmute", s.handleUnmute)
	api.Post("/sound", s.handleSound)
	api.Post("/interrupt", s.handleInterrupt)
	api.Post("/say", s.handleSay)
	api.Post("/record/start", s.handleRecordStart)
	api.Post("/record/stop", s.handleRecordStop)
	api.Post("/stop", s.handleStop)
	api.Post("/rtc/offer", s.handleOffer)

	exp := api.Group("/export")
	exp.Get("/status", s.handleExportStatus)
	exp.Get("/auth", s.handleExportAuth)
	exp.Get("/callback", s.handleExportCallback)
	exp.Post("/disconnect", s.handleExportDisconnect)

	if cfg.Hub != nil {
		cfg.Hub.RegisterRoutes(app)
	}

	s.app = app
	return s
}

// App returns the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.app.ShutdownWithTimeout(5 * time.Second)
	}
}

// handleError maps domain errors to status codes.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, conversation.ErrNotStarted),
		errors.Is(err, conversation.ErrTornDown),
		errors.Is(err, recognition.ErrNotFallback):
		code = fiber.StatusConflict
	case errors.Is(err, export.ErrNotAuthenticated):
		code = fiber.StatusUnauthorized
	}

	if code >= fiber.StatusInternalServerError {
		s.logger.Warn("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":        err.Error(),
		"user_message": conversation.UserMessage(err),
	})
}
