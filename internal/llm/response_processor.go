package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoJSON is returned when a model response contains no JSON payload at all.
var ErrNoJSON = errors.New("no JSON found in model response")

// ProcessResponse extracts the JSON payload from a raw model response and
// unmarshals it into target. Extraction only unwraps markdown fences or
// surrounding prose; malformed JSON is surfaced, never guess-repaired, since a
// malformed structured response indicates a gateway-side fault the caller must
// see.
func ProcessResponse(raw string, target interface{}) error {
	jsonStr := ExtractJSON(raw)
	if jsonStr == "" {
		log.Debug().Str("response_head", truncateForLog(raw, 200)).Msg("No JSON found in model response")
		return ErrNoJSON
	}

	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		log.Debug().
			Err(err).
			Str("json_head", truncateForLog(jsonStr, 500)).
			Msg("Model response failed to parse")
		return fmt.Errorf("parse model response: %w", err)
	}

	return nil
}

// ExtractJSON extracts JSON content from mixed text/JSON responses
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// If it starts with { or [, assume it's pure JSON
	if strings.HasPrefix(raw, "{") || strings.HasPrefix(raw, "[") {
		return raw
	}

	// Look for JSON blocks marked with ```json or ```
	if strings.Contains(raw, "```") {
		lines := strings.Split(raw, "\n")
		var jsonLines []string
		inCodeBlock := false

		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inCodeBlock = !inCodeBlock
				continue
			}
			if inCodeBlock {
				jsonLines = append(jsonLines, line)
			}
		}

		if len(jsonLines) > 0 {
			return strings.Join(jsonLines, "\n")
		}
	}

	// Look for the first { and try to find matching }
	startIdx := strings.Index(raw, "{")
	if startIdx == -1 {
		// Try array format
		startIdx = strings.Index(raw, "[")
		if startIdx == -1 {
			return ""
		}
	}

	// Find the matching closing brace/bracket
	openChar := raw[startIdx]
	closeChar := byte('}')
	if openChar == '[' {
		closeChar = ']'
	}

	count := 0
	for i := startIdx; i < len(raw); i++ {
		if raw[i] == openChar {
			count++
		} else if raw[i] == closeChar {
			count--
			if count == 0 {
				return raw[startIdx : i+1]
			}
		}
	}

	// If we couldn't find a complete JSON structure, return from start to end
	return raw[startIdx:]
}

// truncateForLog truncates text for logging purposes
func truncateForLog(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
