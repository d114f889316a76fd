package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ragstack/kbase/internal/chat"
)

const maxQuestionLength = 1000

// ChatService answers questions against the knowledge base.
// *chat.Orchestrator satisfies it.
type ChatService interface {
	Answer(ctx context.Context, question string) (*chat.Answer, error)
	AnswerStream(ctx context.Context, question string, fn func(fragment string) error) (*chat.Answer, error)
}

type chatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

// SSE event types for chat streaming.
const (
	eventChunk = "chunk" // partial response text
	eventDone  = "done"  // stream completed
	eventError = "error" // stream aborted
)

type chatRequest struct {
	Question string `json:"question"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// send handles POST /chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	question, ok := h.parseQuestion(w, r)
	if !ok {
		return
	}

	ans, err := h.chat.Answer(r.Context(), question)
	if err != nil {
		h.logger.Error("answering chat request", "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to answer question")
		return
	}

	writeJSON(w, http.StatusOK, ans)
}

// stream handles POST /chat/stream with Server-Sent Events.
// Emits "chunk" events while the model generates, then a final "done" event
// carrying the full answer with provenance.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	question, ok := h.parseQuestion(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ans, err := h.chat.AnswerStream(r.Context(), question, func(fragment string) error {
		return writeEvent(w, flusher, eventChunk, chunkPayload{Text: fragment})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away mid-stream
			h.logger.Debug("chat stream canceled", "error", err)
			return
		}
		h.logger.Error("streaming chat response", "error", err)
		_ = writeEvent(w, flusher, eventError, errorPayload{
			Code:    "chat_failed",
			Message: "failed to answer question",
		})
		return
	}

	if err := writeEvent(w, flusher, eventDone, ans); err != nil {
		h.logger.Debug("writing final chat event", "error", err)
	}
}

// parseQuestion decodes and validates the chat request body.
func (h *chatHandler) parseQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return "", false
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_question", "question is required")
		return "", false
	}
	if len(question) > maxQuestionLength {
		writeError(w, http.StatusBadRequest, "invalid_question",
			fmt.Sprintf("question exceeds %d characters", maxQuestionLength))
		return "", false
	}
	return question, true
}

// writeEvent writes a single SSE event with JSON-encoded data.
// SSE format: "event: <type>\ndata: <json>\n\n"
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	flusher.Flush()
	return nil
}
