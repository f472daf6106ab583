package transcribe

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Transcription gateway failure modes, surfaced verbatim to the caller and
// never retried by the core.
var (
	ErrUnsupportedFormat  = errors.New("unsupported media format")
	ErrGatewayUnavailable = errors.New("transcription gateway unavailable")
	ErrTimeout            = errors.New("transcription timed out")
)

// Transcriber converts an uploaded media file into a timestamped transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (string, error)
}

// Segment is one timestamped span of transcribed speech.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

var supportedExtensions = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".webm": true,
	".mkv":  true,
	".avi":  true,
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".ogg":  true,
}

// IsSupportedMedia reports whether the file extension is in the allow-list
func IsSupportedMedia(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// FormatTranscript renders segments as "[MM:SS.ss - MM:SS.ss] text" lines.
// The first segment is dropped when others follow; it usually contains
// microphone noise rather than speech.
func FormatTranscript(segments []Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s - %s] %s", formatTime(seg.Start), formatTime(seg.End), text))
	}

	if len(lines) > 1 {
		lines = lines[1:]
	}

	return strings.Join(lines, "\n")
}

// formatTime renders seconds as MM:SS.ss
func formatTime(seconds float64) string {
	minutes := int(seconds) / 60
	secs := seconds - float64(minutes*60)
	return fmt.Sprintf("%02d:%05.2f", minutes, secs)
}
