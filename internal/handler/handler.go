package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/scangrader/internal/archive"
	"github.com/pavelanni/scangrader/internal/grading"
	appI18n "github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/store"
)

const defaultMaxUploadMB = 32

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store   *store.Store
	batch   *grading.Batch
	archive archive.Store
	config  model.GraderConfig
}

// New creates a new Handler.
func New(s *store.Store, b *grading.Batch, a archive.Store, cfg model.GraderConfig) (*Handler, error) {
	if s == nil || b == nil {
		return nil, fmt.Errorf("store and batch grader are required")
	}
	if a == nil {
		a = archive.Discard{}
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = defaultMaxUploadMB
	}
	return &Handler{store: s, batch: b, archive: a, config: cfg}, nil
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleCreateSession)
	r.Post("/sessions/import", h.handleImportPaper)
	r.Get("/sessions/{sessionID}", h.handleGetSession)
	r.Get("/sessions/{sessionID}/export", h.handleExportSession)
	r.Get("/sessions/{sessionID}/submissions", h.handleListSubmissions)
	r.Post("/sessions/{sessionID}/questions/{questionID}/grade", h.handleGrade)
	r.Get("/submissions/{submissionID}", h.handleGetSubmission)
	r.Get("/submissions/{submissionID}/image", h.handleSubmissionImage)
	r.Post("/submissions/{submissionID}/review", h.handleReview)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError replies with a localized message for msgID.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string, data map[string]any) {
	msg := appI18n.Td(r.Context(), msgID, data)
	writeJSON(w, status, errorResponse{Error: msg, Code: msgID})
}

// writeStoreError maps a store error to 404 or 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundID string) {
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, r, http.StatusNotFound, notFoundID, nil)
		return
	}
	slog.Error("store error", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidID", map[string]any{"Value": raw})
		return 0, false
	}
	return id, true
}
