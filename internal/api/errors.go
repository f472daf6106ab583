package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pitchcoach/internal/ai"
	"github.com/pitchcoach/internal/conversation"
	"github.com/pitchcoach/internal/rubric"
	"github.com/pitchcoach/internal/transcribe"
)

// errorBody is the JSON error envelope returned on every failure.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// httpError maps the core error taxonomy onto HTTP responses. Every failure
// kind carries a distinguishing code; none are silently swallowed.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		return echo.NewHTTPError(http.StatusNotFound, errorBody{
			Code:    "conversation_not_found",
			Message: "Conversation not found",
		})
	case errors.Is(err, transcribe.ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{
			Code:    "unsupported_format",
			Message: "Unsupported media format",
		})
	case errors.Is(err, rubric.ErrMalformedOutput):
		return echo.NewHTTPError(http.StatusBadGateway, errorBody{
			Code:    "malformed_model_output",
			Message: "The analysis gateway returned output that failed rubric validation",
		})
	case errors.Is(err, ai.ErrRateLimited):
		return echo.NewHTTPError(http.StatusServiceUnavailable, errorBody{
			Code:    "rate_limited",
			Message: "The analysis gateway is rate limiting requests",
		})
	case errors.Is(err, ai.ErrGatewayUnavailable),
		errors.Is(err, transcribe.ErrGatewayUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, errorBody{
			Code:    "gateway_unavailable",
			Message: "An upstream gateway is unavailable",
		})
	case errors.Is(err, transcribe.ErrTimeout):
		return echo.NewHTTPError(http.StatusServiceUnavailable, errorBody{
			Code:    "timeout",
			Message: "The transcription gateway timed out",
		})
	case errors.Is(err, conversation.ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, errorBody{
			Code:    "storage_unavailable",
			Message: "Conversation storage is unavailable",
		})
	case errors.Is(err, conversation.ErrInvalidRole):
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{
			Code:    "invalid_role",
			Message: "Invalid message role",
		})
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, errorBody{
			Code:    "internal",
			Message: "An internal error occurred",
		})
	}
}
