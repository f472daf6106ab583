package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/pitchcoach/internal/conversation"
	"github.com/pitchcoach/internal/rubric"
	"github.com/pitchcoach/internal/transcribe"
)

// ChatRequest is the payload for chat and analysis endpoints
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the reply to a non-streaming chat turn
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// ConversationResponse is the full ordered history of a conversation
type ConversationResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Messages       []conversation.Message `json:"messages"`
}

// TranscriptionResponse is the reply to a transcription upload
type TranscriptionResponse struct {
	Transcript     string `json:"transcript"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// AnalysisResponse is the reply to a structured pitch analysis
type AnalysisResponse struct {
	Feedback       *rubric.Evaluation `json:"feedback"`
	ConversationID string             `json:"conversation_id"`
}

// AsyncAnalysisResponse acknowledges a queued pitch analysis
type AsyncAnalysisResponse struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
}

// chat handles POST /api/v1/chat
func (s *Server) chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "Invalid request body"})
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "message is required"})
	}

	reply, convID, err := s.opts.Orchestrator.HandleChat(c.Request().Context(), req.Message, req.ConversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("Chat turn failed")
		return httpError(err)
	}

	return c.JSON(http.StatusOK, ChatResponse{Response: reply, ConversationID: convID})
}

// streamChat handles POST /api/v1/chat/stream as server-sent events. Chunks
// arrive as {"delta": ...} data events, followed by a {"done": true} end
// marker; failures after streaming has begun arrive as an error event.
func (s *Server) streamChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "Invalid request body"})
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "message is required"})
	}

	resp := c.Response()
	started := false
	startStream := func() {
		if started {
			return
		}
		started = true
		resp.Header().Set(echo.HeaderContentType, "text/event-stream")
		resp.Header().Set("Cache-Control", "no-cache")
		resp.Header().Set(echo.HeaderConnection, "keep-alive")
		resp.WriteHeader(http.StatusOK)
	}

	// The request context is cancelled when the client disconnects, which
	// cancels the outstanding gateway call.
	ctx := c.Request().Context()

	convID, err := s.opts.Orchestrator.HandleChatStream(ctx, req.Message, req.ConversationID, func(ctx context.Context, chunk []byte) error {
		startStream()
		payload, merr := json.Marshal(map[string]string{"delta": string(chunk)})
		if merr != nil {
			return merr
		}
		if _, werr := fmt.Fprintf(resp, "data: %s\n\n", payload); werr != nil {
			return werr
		}
		resp.Flush()
		return nil
	})
	if err != nil {
		if !started {
			// Nothing sent yet, a plain HTTP error is still possible.
			return httpError(err)
		}
		body, _ := json.Marshal(httpError(err).Message)
		fmt.Fprintf(resp, "event: error\ndata: %s\n\n", body)
		resp.Flush()
		return nil
	}

	startStream()
	end, _ := json.Marshal(map[string]interface{}{"done": true, "conversation_id": convID})
	fmt.Fprintf(resp, "data: %s\n\n", end)
	resp.Flush()
	return nil
}

// getConversation handles GET /api/v1/conversations/:id
func (s *Server) getConversation(c echo.Context) error {
	id := c.Param("id")

	messages, err := s.opts.Orchestrator.GetHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}

	return c.JSON(http.StatusOK, ConversationResponse{ConversationID: id, Messages: messages})
}

// transcribeVideo handles POST /api/v1/video/transcribe
func (s *Server) transcribeVideo(c echo.Context) error {
	file, err := c.FormFile("video")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "video file is required"})
	}

	mediaPath, err := s.saveUpload(file)
	if err != nil {
		return httpError(err)
	}
	defer os.Remove(mediaPath)

	transcript, err := s.opts.Transcriber.Transcribe(c.Request().Context(), mediaPath)
	if err != nil {
		log.Error().Err(err).Str("filename", file.Filename).Msg("Transcription failed")
		return httpError(err)
	}

	result := TranscriptionResponse{Transcript: transcript}
	if c.QueryParam("save_to_conversation") == "true" {
		convID, err := s.opts.Orchestrator.SaveTranscript(c.Request().Context(), transcript)
		if err != nil {
			return httpError(err)
		}
		result.ConversationID = convID
	}

	return c.JSON(http.StatusOK, result)
}

// analyzeTranscript handles POST /api/v1/video/analyze. The transcript travels
// in the message field, matching the chat payload shape.
func (s *Server) analyzeTranscript(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "Invalid request body"})
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "message is required"})
	}

	eval, convID, err := s.opts.Orchestrator.HandleAnalysis(c.Request().Context(), req.Message, req.ConversationID)
	if err != nil {
		log.Error().Err(err).Str("conversation_id", req.ConversationID).Msg("Pitch analysis failed")
		return httpError(err)
	}

	return c.JSON(http.StatusOK, AnalysisResponse{Feedback: eval, ConversationID: convID})
}

// analyzeVideoAsync handles POST /api/v1/video/analyze-async. The conversation
// is created up front so the client can poll its history while the job runs.
func (s *Server) analyzeVideoAsync(c echo.Context) error {
	file, err := c.FormFile("video")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, errorBody{Code: "bad_request", Message: "video file is required"})
	}

	mediaPath, err := s.saveUpload(file)
	if err != nil {
		return httpError(err)
	}

	ctx := c.Request().Context()
	convID, err := s.opts.Orchestrator.CreateConversation(ctx)
	if err != nil {
		os.Remove(mediaPath)
		return httpError(err)
	}

	if err := s.opts.Queue.EnqueuePitchAnalysis(ctx, convID, mediaPath); err != nil {
		os.Remove(mediaPath)
		log.Error().Err(err).Str("conversation_id", convID).Msg("Failed to enqueue pitch analysis")
		return httpError(err)
	}

	return c.JSON(http.StatusAccepted, AsyncAnalysisResponse{ConversationID: convID, Status: "queued"})
}

// saveUpload persists a multipart upload into the media directory
func (s *Server) saveUpload(file *multipart.FileHeader) (string, error) {
	if !transcribe.IsSupportedMedia(file.Filename) {
		return "", fmt.Errorf("%w: %s", transcribe.ErrUnsupportedFormat, filepath.Ext(file.Filename))
	}

	mediaDir := s.opts.MediaDir
	if mediaDir == "" {
		mediaDir = "media"
	}
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dstPath := filepath.Join(mediaDir, uuid.NewString()+filepath.Ext(file.Filename))
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create media file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("write media file: %w", err)
	}

	return dstPath, nil
}
