package transcribe

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExtractAudio strips the audio track from a media file into an mp3 the
// speech-to-text gateway can consume.
func ExtractAudio(ctx context.Context, ffmpegPath, mediaPath, audioPath string) error {
	cmd := exec.CommandContext(ctx, ffmpegPath, "-i", mediaPath, "-vn", "-acodec", "mp3", "-y", audioPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: audio extraction cancelled", ErrTimeout)
		}
		log.Error().
			Str("media_path", mediaPath).
			Str("ffmpeg_output", tail(string(output), 500)).
			Msg("ffmpeg audio extraction failed")
		return fmt.Errorf("%w: ffmpeg failed: %v", ErrUnsupportedFormat, err)
	}

	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
