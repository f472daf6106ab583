package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/pitchcoach/internal/ai"
	"github.com/pitchcoach/internal/ai/langchain"
	"github.com/pitchcoach/internal/api"
	"github.com/pitchcoach/internal/config"
	"github.com/pitchcoach/internal/conversation"
	"github.com/pitchcoach/internal/database"
	"github.com/pitchcoach/internal/jobqueue"
	"github.com/pitchcoach/internal/logging"
	"github.com/pitchcoach/internal/session"
	"github.com/pitchcoach/internal/transcribe"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the PitchCoach API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "pretty-logs",
				Usage: "Human-readable console logs instead of JSON",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	logging.Setup(c.Bool("pretty-logs"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	// Conversation store
	var store conversation.Store
	var dbURL string
	if cfg.Database.InMemory {
		log.Warn().Msg("Using in-memory conversation store; history will not survive a restart")
		store = conversation.NewMemoryStore()
	} else {
		resolved, err := database.ResolveURL(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to resolve database URL: %w", err)
		}
		dbURL = resolved

		db, err := database.NewDB(dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		store = conversation.NewPostgresStore(db)
	}

	// Analysis gateway
	factory := ai.NewDefaultFactory()
	factory.Register("langchain", langchain.NewProvider())
	provider, err := factory.Create(cfg.AI.Provider, map[string]interface{}{
		"api_key":             cfg.AI.APIKey,
		"base_url":            cfg.AI.BaseURL,
		"model":               cfg.AI.Model,
		"temperature":         cfg.AI.Temperature,
		"requests_per_second": cfg.AI.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("failed to configure AI provider %q: %w", cfg.AI.Provider, err)
	}

	orchestrator := session.NewOrchestrator(store, provider)

	// Transcription gateway
	transcriptionKey := cfg.Transcription.APIKey
	if transcriptionKey == "" {
		transcriptionKey = cfg.AI.APIKey
	}
	transcriber := transcribe.NewWhisperTranscriber(transcribe.WhisperConfig{
		APIKey:     transcriptionKey,
		BaseURL:    cfg.Transcription.BaseURL,
		Model:      cfg.Transcription.Model,
		FFmpegPath: cfg.Transcription.FFmpegPath,
		WorkDir:    cfg.Server.MediaDir,
		Timeout:    time.Duration(cfg.Transcription.TimeoutSeconds) * time.Second,
	})

	// Optional background analysis queue
	var queue api.AnalysisQueue
	if cfg.Queue.Enabled {
		queueConfig := jobqueue.DefaultQueueConfig()
		if cfg.Queue.MaxWorkers > 0 {
			queueConfig.MaxWorkers = cfg.Queue.MaxWorkers
		}

		jq, err := jobqueue.NewJobQueue(dbURL, queueConfig, transcriber, orchestrator)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := jq.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := jq.Stop(stopCtx); err != nil {
				log.Error().Err(err).Msg("Failed to stop job queue cleanly")
			}
		}()
		queue = jq
	}

	log.Info().Int("port", cfg.Server.Port).Msg("Starting PitchCoach API server")

	server := api.NewServer(api.Options{
		Port:         cfg.Server.Port,
		MediaDir:     cfg.Server.MediaDir,
		MaxUploadMB:  cfg.Server.MaxUploadMB,
		CORSOrigins:  cfg.Server.CORSOrigins,
		JWTSecret:    cfg.Auth.JWTSecret,
		Orchestrator: orchestrator,
		Transcriber:  transcriber,
		Queue:        queue,
	})
	return server.Start()
}
