// Package jobqueue provides a River-based job queue for background pitch
// analysis. Uploads are transcribed and analyzed off the request path; the
// client polls the conversation history for the result.
package jobqueue

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/pitchcoach/internal/session"
	"github.com/pitchcoach/internal/transcribe"
)

// PitchAnalysisJobArgs represents the arguments for a pitch analysis job
type PitchAnalysisJobArgs struct {
	ConversationID string `json:"conversation_id"`
	MediaPath      string `json:"media_path"`
}

// Kind returns the job kind for River
func (PitchAnalysisJobArgs) Kind() string {
	return "pitch_analysis"
}

// PitchAnalysisWorker transcribes an uploaded pitch and runs the structured
// analysis into the conversation created at enqueue time.
type PitchAnalysisWorker struct {
	river.WorkerDefaults[PitchAnalysisJobArgs]
	transcriber  transcribe.Transcriber
	orchestrator *session.Orchestrator
	jobTimeout   time.Duration
}

// Work processes one pitch analysis job
func (w *PitchAnalysisWorker) Work(ctx context.Context, job *river.Job[PitchAnalysisJobArgs]) error {
	args := job.Args

	ctx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	// The upload is consumed exactly once.
	defer os.Remove(args.MediaPath)

	log.Info().
		Str("conversation_id", args.ConversationID).
		Str("media_path", args.MediaPath).
		Msg("Starting pitch analysis job")

	transcript, err := w.transcriber.Transcribe(ctx, args.MediaPath)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", args.ConversationID).Msg("Pitch analysis job: transcription failed")
		return fmt.Errorf("transcribe %s: %w", args.MediaPath, err)
	}

	if _, _, err := w.orchestrator.HandleAnalysis(ctx, transcript, args.ConversationID); err != nil {
		log.Error().Err(err).Str("conversation_id", args.ConversationID).Msg("Pitch analysis job: analysis failed")
		return fmt.Errorf("analyze conversation %s: %w", args.ConversationID, err)
	}

	log.Info().Str("conversation_id", args.ConversationID).Msg("Pitch analysis job complete")
	return nil
}

// Migrate applies River's own schema (river_job and friends). It must run
// before the queue is started on a fresh database; EnqueuePitchAnalysis fails
// without it.
func Migrate(ctx context.Context, databaseURL string) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, &rivermigrate.MigrateOpts{})
	if err != nil {
		return fmt.Errorf("failed to apply River migrations: %w", err)
	}

	log.Info().Int("versions", len(res.Versions)).Msg("River schema migrations applied")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue creates a new job queue instance
func NewJobQueue(databaseURL string, config *QueueConfig, transcriber transcribe.Transcriber, orchestrator *session.Orchestrator) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	// Create a pgx connection pool
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Create River client
	workers := river.NewWorkers()
	river.AddWorker(workers, &PitchAnalysisWorker{
		transcriber:  transcriber,
		orchestrator: orchestrator,
		jobTimeout:   config.JobTimeout,
	})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client: client,
		pool:   pool,
		config: config,
	}, nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	defer jq.pool.Close()
	return jq.client.Stop(ctx)
}

// EnqueuePitchAnalysis queues a pitch analysis job. Jobs run at most once:
// gateway failures are surfaced, not retried.
func (jq *JobQueue) EnqueuePitchAnalysis(ctx context.Context, conversationID, mediaPath string) error {
	args := PitchAnalysisJobArgs{
		ConversationID: conversationID,
		MediaPath:      mediaPath,
	}

	_, err := jq.client.Insert(ctx, args, &river.InsertOpts{MaxAttempts: 1})
	if err != nil {
		return fmt.Errorf("failed to queue pitch analysis job: %w", err)
	}

	return nil
}
