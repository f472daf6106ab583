package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/pitchcoach/internal/api/auth"
	"github.com/pitchcoach/internal/session"
	"github.com/pitchcoach/internal/transcribe"
)

// AnalysisQueue enqueues background pitch analysis jobs.
type AnalysisQueue interface {
	EnqueuePitchAnalysis(ctx context.Context, conversationID, mediaPath string) error
}

// Options carries the server's collaborators and settings.
type Options struct {
	Port         int
	MediaDir     string
	MaxUploadMB  int
	CORSOrigins  []string
	JWTSecret    string
	Orchestrator *session.Orchestrator
	Transcriber  transcribe.Transcriber
	Queue        AnalysisQueue // nil disables async analysis
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	opts Options
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(opts.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: opts.CORSOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	server := &Server{
		echo: e,
		opts: opts,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	if s.opts.JWTSecret != "" {
		v1.Use(auth.RequireAuth(s.opts.JWTSecret))
	}

	// Chat endpoints
	v1.POST("/chat", s.chat)
	v1.POST("/chat/stream", s.streamChat)
	v1.GET("/conversations/:id", s.getConversation)

	// Video endpoints; uploads are capped well above typical pitch lengths
	maxUpload := s.opts.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 200
	}
	uploadLimit := middleware.BodyLimit(fmt.Sprintf("%dM", maxUpload))

	v1.POST("/video/transcribe", s.transcribeVideo, uploadLimit)
	v1.POST("/video/analyze", s.analyzeTranscript)
	if s.opts.Queue != nil {
		v1.POST("/video/analyze-async", s.analyzeVideoAsync, uploadLimit)
	}
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
