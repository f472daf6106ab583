package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitchcoach/internal/ai"
	"github.com/pitchcoach/internal/conversation"
	"github.com/pitchcoach/internal/session"
)

const analysisJSON = `{
	"stated_problem": {"score": 4, "feedback": "Clear pain point."},
	"identified_solution": {"score": 3, "feedback": "Plausible."},
	"target_market": {"score": 5, "feedback": "Well segmented."},
	"competitive_advantage": {"score": 2, "feedback": "Thin moat."},
	"viability_sustainability": {"score": 3, "feedback": "Unclear economics."},
	"overall_feedback": "Sharpen the differentiation story."
}`

type scriptedProvider struct {
	response  string
	err       error
	chunks    []string
	streamErr error
}

func (p *scriptedProvider) Complete(ctx context.Context, history []ai.Turn, input string, mode ai.Mode) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	return p.response, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, history []ai.Turn, input string, fn ai.StreamFunc) (string, error) {
	var full strings.Builder
	for _, chunk := range p.chunks {
		if err := fn(ctx, []byte(chunk)); err != nil {
			return "", err
		}
		full.WriteString(chunk)
	}
	if p.streamErr != nil {
		return "", p.streamErr
	}
	return full.String(), nil
}

func (p *scriptedProvider) Configure(config map[string]interface{}) error { return nil }
func (p *scriptedProvider) Name() string                                  { return "scripted" }

type fixedTranscriber struct {
	transcript string
	err        error
}

func (t *fixedTranscriber) Transcribe(ctx context.Context, mediaPath string) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return t.transcript, nil
}

func newTestServer(t *testing.T, provider ai.Provider, transcriber *fixedTranscriber) (*Server, conversation.Store) {
	t.Helper()
	store := conversation.NewMemoryStore()
	if transcriber == nil {
		transcriber = &fixedTranscriber{transcript: "[00:01.00 - 00:05.00] test transcript"}
	}
	server := NewServer(Options{
		Port:         0,
		MediaDir:     t.TempDir(),
		Orchestrator: session.NewOrchestrator(store, provider),
		Transcriber:  transcriber,
	})
	return server, store
}

func postJSON(server *Server, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set(headerContentType, "application/json")
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

const headerContentType = "Content-Type"

func TestChatEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{response: "Tighten your opening."}, nil)

	rec := postJSON(server, "/api/v1/chat", ChatRequest{Message: "how is my intro?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Tighten your opening.", resp.Response)
	assert.NotEmpty(t, resp.ConversationID)

	// The persisted history is retrievable through the API.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+resp.ConversationID, nil)
	histRec := httptest.NewRecorder()
	server.echo.ServeHTTP(histRec, req)
	require.Equal(t, http.StatusOK, histRec.Code)

	var hist ConversationResponse
	require.NoError(t, json.Unmarshal(histRec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, conversation.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, conversation.RoleAssistant, hist.Messages[1].Role)
}

func TestChatEmptyMessage(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{response: "x"}, nil)

	rec := postJSON(server, "/api/v1/chat", ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeTranscriptEndToEnd(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{response: analysisJSON}, nil)

	transcript := "We solve X for Y market"
	rec := postJSON(server, "/api/v1/video/analyze", ChatRequest{Message: transcript})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Feedback)
	assert.Equal(t, 4, resp.Feedback.StatedProblem.Score)
	assert.Equal(t, 3, resp.Feedback.IdentifiedSolution.Score)
	assert.Equal(t, 5, resp.Feedback.TargetMarket.Score)
	assert.Equal(t, 2, resp.Feedback.CompetitiveAdvantage.Score)
	assert.Equal(t, 3, resp.Feedback.ViabilitySustainability.Score)
	assert.NotEmpty(t, resp.Feedback.OverallFeedback)
	require.NotEmpty(t, resp.ConversationID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+resp.ConversationID, nil)
	histRec := httptest.NewRecorder()
	server.echo.ServeHTTP(histRec, req)
	require.Equal(t, http.StatusOK, histRec.Code)

	var hist ConversationResponse
	require.NoError(t, json.Unmarshal(histRec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, 0, hist.Messages[0].Position)
	assert.Equal(t, conversation.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, transcript, hist.Messages[0].Content)
	assert.Equal(t, 1, hist.Messages[1].Position)
	assert.Equal(t, conversation.RoleAssistant, hist.Messages[1].Role)
}

func TestAnalyzeMalformedModelOutput(t *testing.T) {
	server, store := newTestServer(t, &scriptedProvider{response: "not a rubric at all"}, nil)

	rec := postJSON(server, "/api/v1/video/analyze", ChatRequest{Message: "pitch", ConversationID: mustCreate(t, store)})
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "malformed_model_output", body.Code)
}

func mustCreate(t *testing.T, store conversation.Store) string {
	t.Helper()
	id, err := store.CreateConversation(context.Background())
	require.NoError(t, err)
	return id
}

func TestGetConversationNotFound(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{response: "x"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/unknown-id", nil)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatGatewayUnavailable(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{err: ai.ErrGatewayUnavailable}, nil)

	rec := postJSON(server, "/api/v1/chat", ChatRequest{Message: "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamChatEmitsChunksAndEndMarker(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{chunks: []string{"Lead ", "with ", "the problem."}}, nil)

	rec := postJSON(server, "/api/v1/chat/stream", ChatRequest{Message: "intro advice?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	body := rec.Body.String()
	events := parseSSE(body)
	require.GreaterOrEqual(t, len(events), 4, "three deltas plus the end marker: %q", body)

	var deltas []string
	for _, ev := range events[:len(events)-1] {
		var payload struct {
			Delta string `json:"delta"`
		}
		require.NoError(t, json.Unmarshal([]byte(ev), &payload))
		deltas = append(deltas, payload.Delta)
	}
	assert.Equal(t, []string{"Lead ", "with ", "the problem."}, deltas)

	var end struct {
		Done           bool   `json:"done"`
		ConversationID string `json:"conversation_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1]), &end))
	assert.True(t, end.Done)
	assert.NotEmpty(t, end.ConversationID)
}

func TestStreamChatErrorBeforeFirstChunk(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{streamErr: ai.ErrRateLimited}, nil)

	rec := postJSON(server, "/api/v1/chat/stream", ChatRequest{Message: "intro advice?"})

	// Nothing was streamed, so the failure surfaces as a plain HTTP error.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamChatErrorMidStream(t *testing.T) {
	store := conversation.NewMemoryStore()
	convID := mustCreate(t, store)
	server := NewServer(Options{
		MediaDir: t.TempDir(),
		Orchestrator: session.NewOrchestrator(store, &scriptedProvider{
			chunks:    []string{"partial "},
			streamErr: ai.ErrGatewayUnavailable,
		}),
		Transcriber: &fixedTranscriber{transcript: "t"},
	})

	rec := postJSON(server, "/api/v1/chat/stream", ChatRequest{Message: "intro advice?", ConversationID: convID})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error")

	// No partial assistant message was committed: the user turn stands alone.
	history, err := store.GetHistory(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
}

func TestTranscribeUpload(t *testing.T) {
	transcriber := &fixedTranscriber{transcript: "[00:02.00 - 00:08.00] We solve X for Y market."}
	server, _ := newTestServer(t, &scriptedProvider{response: "x"}, transcriber)

	rec := uploadVideo(t, server, "/api/v1/video/transcribe?save_to_conversation=true", "pitch.mp4")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp TranscriptionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, transcriber.transcript, resp.Transcript)
	require.NotEmpty(t, resp.ConversationID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/"+resp.ConversationID, nil)
	histRec := httptest.NewRecorder()
	server.echo.ServeHTTP(histRec, req)

	var hist ConversationResponse
	require.NoError(t, json.Unmarshal(histRec.Body.Bytes(), &hist))
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, conversation.RoleUser, hist.Messages[0].Role)
	assert.Equal(t, transcriber.transcript, hist.Messages[0].Content)
}

func TestTranscribeRejectsUnsupportedFormat(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{response: "x"}, nil)

	rec := uploadVideo(t, server, "/api/v1/video/transcribe", "slides.pdf")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func uploadVideo(t *testing.T, server *Server, path, filename string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("video", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte("fake media bytes"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set(headerContentType, writer.FormDataContentType())
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	return rec
}

// parseSSE extracts the payload of each "data:" event in order.
func parseSSE(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			events = append(events, strings.TrimPrefix(line, "data: "))
		}
	}
	return events
}

func TestAsyncAnalyzeRouteAbsentWithoutQueue(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{response: "x"}, nil)

	rec := uploadVideo(t, server, "/api/v1/video/analyze-async", "pitch.mp4")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAsyncAnalyzeEnqueues(t *testing.T) {
	store := conversation.NewMemoryStore()
	queue := &recordingQueue{}
	server := NewServer(Options{
		MediaDir:     t.TempDir(),
		Orchestrator: session.NewOrchestrator(store, &scriptedProvider{response: analysisJSON}),
		Transcriber:  &fixedTranscriber{transcript: "t"},
		Queue:        queue,
	})

	rec := uploadVideo(t, server, "/api/v1/video/analyze-async", "pitch.mp4")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp AsyncAnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "queued", resp.Status)
	require.NotEmpty(t, resp.ConversationID)

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, resp.ConversationID, queue.enqueued[0].conversationID)

	// The conversation exists and is empty until the worker runs.
	history, err := store.GetHistory(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

type recordingQueue struct {
	enqueued []struct {
		conversationID string
		mediaPath      string
	}
}

func (q *recordingQueue) EnqueuePitchAnalysis(ctx context.Context, conversationID, mediaPath string) error {
	q.enqueued = append(q.enqueued, struct {
		conversationID string
		mediaPath      string
	}{conversationID, mediaPath})
	return nil
}

func TestAuthMiddleware(t *testing.T) {
	store := conversation.NewMemoryStore()
	server := NewServer(Options{
		MediaDir:     t.TempDir(),
		JWTSecret:    "test-secret",
		Orchestrator: session.NewOrchestrator(store, &scriptedProvider{response: "x"}),
		Transcriber:  &fixedTranscriber{transcript: "t"},
	})

	rec := postJSON(server, "/api/v1/chat", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Health stays open.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRec := httptest.NewRecorder()
	server.echo.ServeHTTP(healthRec, req)
	assert.Equal(t, http.StatusOK, healthRec.Code)
}

func TestErrorBodiesCarryDistinguishingCodes(t *testing.T) {
	server, _ := newTestServer(t, &scriptedProvider{err: fmt.Errorf("wrapped: %w", ai.ErrRateLimited)}, nil)

	rec := postJSON(server, "/api/v1/chat", ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body.Code)
}
