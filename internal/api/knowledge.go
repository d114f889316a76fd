package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ragstack/kbase/internal/ingest"
	"github.com/ragstack/kbase/internal/kb"
	"github.com/ragstack/kbase/internal/knowledge"
)

const maxBatchUploadFiles = 50

// KnowledgeService is the document management surface the handlers need.
// *kb.Service satisfies it.
type KnowledgeService interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*knowledge.Document, error)
	List(ctx context.Context, page, size int) ([]*knowledge.Document, int, error)
	Get(ctx context.Context, id uuid.UUID) (*knowledge.Document, error)
	Chunks(ctx context.Context, id uuid.UUID) ([]*knowledge.Document, error)
	Update(ctx context.Context, id uuid.UUID, content string, metadata map[string]any) (*knowledge.Document, error)
	Retry(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteBatch(ctx context.Context, ids []uuid.UUID) *kb.BatchResult
}

type knowledgeHandler struct {
	svc       KnowledgeService
	maxUpload int64
	logger    *slog.Logger
}

// documentResponse mirrors a stored document without its embedding.
type documentResponse struct {
	ID        uuid.UUID        `json:"id"`
	Filename  string           `json:"filename"`
	Content   string           `json:"content"`
	FileSize  int64            `json:"file_size"`
	Metadata  map[string]any   `json:"metadata"`
	Status    knowledge.Status `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func newDocumentResponse(doc *knowledge.Document) documentResponse {
	return documentResponse{
		ID:        doc.ID,
		Filename:  doc.Filename,
		Content:   doc.Content,
		FileSize:  doc.FileSize,
		Metadata:  doc.Metadata,
		Status:    doc.Status,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

type uploadResponse struct {
	FileID   uuid.UUID        `json:"file_id"`
	Filename string           `json:"filename"`
	Status   knowledge.Status `json:"status"`
	Message  string           `json:"message"`
	FileSize int64            `json:"file_size"`
}

type uploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// upload handles POST /knowledge/upload (multipart, field "file").
func (h *knowledgeHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxBodyBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart form with a \"file\" field is required")
		return
	}
	defer file.Close()

	doc, err := h.svc.Upload(r.Context(), header.Filename, file)
	if err != nil {
		h.writeUploadError(w, header.Filename, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		FileID:   doc.ID,
		Filename: doc.Filename,
		Status:   doc.Status,
		Message:  "File uploaded successfully and processing started",
		FileSize: doc.FileSize,
	})
}

// uploadBatch handles POST /knowledge/upload/batch (multipart, field
// "files", up to 50 per request). Each file succeeds or fails independently.
func (h *knowledgeHandler) uploadBatch(w http.ResponseWriter, r *http.Request) {
	limit := h.maxUpload*maxBatchUploadFiles + maxBodyBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "multipart form with a \"files\" field is required")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_upload", "no files provided")
		return
	}
	if len(files) > maxBatchUploadFiles {
		writeError(w, http.StatusBadRequest, "too_many_files",
			fmt.Sprintf("too many files, maximum %d allowed per request", maxBatchUploadFiles))
		return
	}

	var (
		uploads []uploadResponse
		errs    []uploadError
	)
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			errs = append(errs, uploadError{Filename: fh.Filename, Error: "unreadable file part"})
			continue
		}

		doc, err := h.svc.Upload(r.Context(), fh.Filename, f)
		f.Close()
		if err != nil {
			errs = append(errs, uploadError{Filename: fh.Filename, Error: err.Error()})
			continue
		}

		uploads = append(uploads, uploadResponse{
			FileID:   doc.ID,
			Filename: doc.Filename,
			Status:   doc.Status,
			Message:  "File uploaded successfully and processing started",
			FileSize: doc.FileSize,
		})
	}

	if uploads == nil {
		uploads = []uploadResponse{}
	}
	if errs == nil {
		errs = []uploadError{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":            fmt.Sprintf("Batch upload completed. %d successful, %d failed", len(uploads), len(errs)),
		"total_files":        len(files),
		"successful_uploads": len(uploads),
		"failed_uploads":     len(errs),
		"uploads":            uploads,
		"errors":             errs,
	})
}

// list handles GET /knowledge?page=N&size=N.
func (h *knowledgeHandler) list(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 1, 1, 1_000_000)
	size := parseIntParam(r, "size", 10, 1, 100)

	docs, total, err := h.svc.List(r.Context(), page, size)
	if err != nil {
		h.logger.Error("listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list documents")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, newDocumentResponse(doc))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": out,
		"total":     total,
		"page":      page,
		"size":      size,
	})
}

// get handles GET /knowledge/{id}.
func (h *knowledgeHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	doc, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("getting document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get document")
		return
	}

	writeJSON(w, http.StatusOK, newDocumentResponse(doc))
}

// chunks handles GET /knowledge/{id}/chunks.
func (h *knowledgeHandler) chunks(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	docs, err := h.svc.Chunks(r.Context(), id)
	if err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("getting document chunks", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "chunks_failed", "failed to get document chunks")
		return
	}

	type chunkResponse struct {
		ID       uuid.UUID        `json:"id"`
		Filename string           `json:"filename"`
		Content  string           `json:"content"`
		Metadata map[string]any   `json:"metadata"`
		Status   knowledge.Status `json:"status"`
	}

	out := make([]chunkResponse, 0, len(docs))
	for _, c := range docs {
		out = append(out, chunkResponse{
			ID:       c.ID,
			Filename: c.Filename,
			Content:  c.Content,
			Metadata: c.Metadata,
			Status:   c.Status,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id": id.String(),
		"chunks":      out,
	})
}

// updateDocumentRequest carries the mutable document fields. At least one
// must be set.
type updateDocumentRequest struct {
	Content  *string        `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// update handles PUT /knowledge/{id}.
func (h *knowledgeHandler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req updateDocumentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	content := ""
	if req.Content != nil {
		content = *req.Content
	}

	doc, err := h.svc.Update(r.Context(), id, content, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "document not found")
		case errors.Is(err, kb.ErrValidation):
			writeError(w, http.StatusBadRequest, "validation_failed", "content or metadata is required")
		case errors.Is(err, ingest.ErrAlreadyProcessing):
			writeError(w, http.StatusConflict, "already_processing", "document is already being processed")
		default:
			h.logger.Error("updating document", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "update_failed", "failed to update document")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Document updated successfully",
		"document": newDocumentResponse(doc),
	})
}

// deleteOne handles DELETE /knowledge/{id}.
func (h *knowledgeHandler) deleteOne(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		if errors.Is(err, knowledge.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("deleting document", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

// batchDeleteRequest is the body for DELETE /knowledge/batch.
type batchDeleteRequest struct {
	DocumentIDs []uuid.UUID `json:"document_ids"`
}

const maxBatchDeleteIDs = 100

// deleteBatch handles DELETE /knowledge/batch. Duplicated IDs
// are collapsed before deletion.
func (h *knowledgeHandler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.DocumentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "no document IDs provided")
		return
	}
	if len(req.DocumentIDs) > maxBatchDeleteIDs {
		writeError(w, http.StatusBadRequest, "too_many_ids",
			fmt.Sprintf("too many documents requested, maximum %d allowed", maxBatchDeleteIDs))
		return
	}

	result := h.svc.DeleteBatch(r.Context(), req.DocumentIDs)

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Batch delete completed. %d successful, %d failed",
			result.TotalSuccessful, result.TotalFailed),
		"results": result,
	})
}

// retry handles POST /knowledge/{id}/retry. Re-runs chunking and
// embedding for a document, typically after a failed ingestion.
func (h *knowledgeHandler) retry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Retry(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "document not found")
		case errors.Is(err, ingest.ErrAlreadyProcessing):
			writeError(w, http.StatusConflict, "already_processing", "document is already being processed")
		case errors.Is(err, kb.ErrValidation):
			writeError(w, http.StatusBadRequest, "validation_failed", "chunks cannot be reprocessed directly")
		default:
			h.logger.Error("retrying document processing", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "retry_failed", "failed to retry document processing")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Document processing retry started"})
}

// writeUploadError maps upload failures to HTTP status codes.
func (h *knowledgeHandler) writeUploadError(w http.ResponseWriter, filename string, err error) {
	switch {
	case errors.Is(err, kb.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.Is(err, kb.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, "unsupported_file_type", err.Error())
	case errors.Is(err, kb.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Error("uploading file", "filename", filename, "error", err)
		writeError(w, http.StatusInternalServerError, "upload_failed", "failed to upload file")
	}
}

// pathID parses the {id} path segment. Writes a 400 and returns false on
// malformed IDs.
func (h *knowledgeHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid document ID")
		return uuid.Nil, false
	}
	return id, true
}
