package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ragstack/kbase/internal/audit"
)

// AuditService exposes recorded chat interactions. *audit.Store satisfies it.
type AuditService interface {
	Get(ctx context.Context, chatID uuid.UUID) (*audit.Log, error)
	List(ctx context.Context, limit, offset int) ([]*audit.Log, error)
	UpdateFeedback(ctx context.Context, chatID uuid.UUID, feedback string) error
}

type auditHandler struct {
	audits AuditService
	logger *slog.Logger
}

// get handles GET /audit/{chat_id}.
func (h *auditHandler) get(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(r.PathValue("chat_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid chat ID")
		return
	}

	l, err := h.audits.Get(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "audit log not found")
			return
		}
		h.logger.Error("getting audit log", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get audit log")
		return
	}

	writeJSON(w, http.StatusOK, l)
}

// list handles GET /audit?limit=N&offset=N, newest first.
func (h *auditHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50, 1, 500)
	offset := parseIntParam(r, "offset", 0, 0, 1_000_000)

	logs, err := h.audits.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing audit logs", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"limit":  limit,
		"offset": offset,
	})
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
}

// feedback handles POST /audit/{chat_id}/feedback.
func (h *auditHandler) feedback(w http.ResponseWriter, r *http.Request) {
	chatID, err := uuid.Parse(r.PathValue("chat_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid chat ID")
		return
	}

	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		writeError(w, http.StatusBadRequest, "invalid_feedback", "feedback is required")
		return
	}

	if err := h.audits.UpdateFeedback(r.Context(), chatID, req.Feedback); err != nil {
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "audit log not found")
			return
		}
		h.logger.Error("recording feedback", "chat_id", chatID, "error", err)
		writeError(w, http.StatusInternalServerError, "feedback_failed", "failed to record feedback")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Feedback recorded"})
}
