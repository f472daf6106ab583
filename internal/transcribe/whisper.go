package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// WhisperTranscriber transcribes media through an OpenAI-compatible Whisper
// endpoint, extracting the audio track with ffmpeg first.
type WhisperTranscriber struct {
	client     *openai.Client
	model      string
	ffmpegPath string
	workDir    string
	timeout    time.Duration
}

// WhisperConfig carries the settings for a WhisperTranscriber
type WhisperConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	FFmpegPath string
	WorkDir    string
	Timeout    time.Duration
}

// NewWhisperTranscriber creates a Whisper-backed transcriber
func NewWhisperTranscriber(cfg WhisperConfig) *WhisperTranscriber {
	var client *openai.Client
	if cfg.BaseURL != "" {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		client = openai.NewClientWithConfig(clientConfig)
	} else {
		client = openai.NewClient(cfg.APIKey)
	}

	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &WhisperTranscriber{
		client:     client,
		model:      model,
		ffmpegPath: ffmpegPath,
		workDir:    workDir,
		timeout:    timeout,
	}
}

// Transcribe extracts the audio track and returns a timestamped transcript
func (t *WhisperTranscriber) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	if !IsSupportedMedia(mediaPath) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(mediaPath))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	audioPath := filepath.Join(t.workDir, uuid.NewString()+".mp3")
	if err := ExtractAudio(ctx, t.ffmpegPath, mediaPath, audioPath); err != nil {
		return "", err
	}
	defer os.Remove(audioPath)

	start := time.Now()
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", classifyTranscriptionError(err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, seg := range resp.Segments {
		segments = append(segments, Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}

	transcript := FormatTranscript(segments)
	if transcript == "" {
		// Verbose segments can be absent on some backends; fall back to the
		// flat text.
		transcript = strings.TrimSpace(resp.Text)
	}
	if transcript == "" {
		return "", fmt.Errorf("%w: empty transcription result", ErrGatewayUnavailable)
	}

	log.Info().
		Str("media_path", mediaPath).
		Int("segments", len(segments)).
		Dur("elapsed", time.Since(start)).
		Msg("Transcription complete")

	return transcript, nil
}

// classifyTranscriptionError maps transport errors onto the gateway failure modes
func classifyTranscriptionError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "invalid file format") || strings.Contains(msg, "unsupported") {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
