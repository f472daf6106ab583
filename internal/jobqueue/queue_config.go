package jobqueue

import (
	"time"

	"github.com/riverqueue/river"
)

// QueueConfig controls worker concurrency and per-job limits.
//
// Requirements:
// - PostgreSQL with River's schema migrations applied (see Migrate, or run
//   the migrate command with the queue enabled).
//
// Tuning notes:
// - Increase MaxWorkers to process more uploads concurrently; each in-flight
//   job holds one ffmpeg process and one gateway call.
// - JobTimeout bounds the whole transcribe-and-analyze pipeline for one
//   upload.
type QueueConfig struct {
	MaxWorkers int           // concurrent pitch analysis jobs (default: 4)
	JobTimeout time.Duration // per-job deadline (default: 10m)
}

// DefaultQueueConfig returns the default queue configuration
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxWorkers: 4,
		JobTimeout: 10 * time.Minute,
	}
}

// RiverQueueConfig converts the config into River's queue settings
func (c *QueueConfig) RiverQueueConfig() map[string]river.QueueConfig {
	return map[string]river.QueueConfig{
		river.QueueDefault: {
			MaxWorkers: c.MaxWorkers,
		},
	}
}
