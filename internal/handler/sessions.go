package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	appI18n "github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/model"
)

type sessionResponse struct {
	Session         model.Session      `json:"session"`
	Questions       []model.Question   `json:"questions"`
	Summary         model.BatchSummary `json:"summary"`
	OverallFeedback string             `json:"overall_feedback,omitempty"`
}

type importResponse struct {
	SessionID int64 `json:"session_id"`
	Skipped   bool  `json:"skipped"`
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions()
	if err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var paper model.QuestionPaper
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&paper); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	id, err := h.store.ImportQuestionPaper(paper)
	if err != nil {
		slog.Warn("create session rejected", "title", paper.Title, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "ErrInvalidRequest"})
		return
	}
	slog.Info("created session", "id", id, "title", paper.Title, "questions", len(paper.Questions))
	h.writeSession(w, r, id, http.StatusCreated)
}

func (h *Handler) handleImportPaper(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	file, header, err := r.FormFile("paper_file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}

	id, skipped, err := h.store.ImportPaper(header.Filename, data)
	if err != nil {
		slog.Warn("question paper upload rejected", "filename", header.Filename, "error", err)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "ErrInvalidRequest"})
		return
	}
	status := http.StatusCreated
	if skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, importResponse{SessionID: id, Skipped: skipped})
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "sessionID")
	if !ok {
		return
	}
	h.writeSession(w, r, id, http.StatusOK)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, id int64, status int) {
	sess, err := h.store.GetSession(id)
	if err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	questions, err := h.store.ListQuestions(id)
	if err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	summary, err := h.store.Summary(id)
	if err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	resp := sessionResponse{Session: sess, Questions: questions, Summary: summary}
	if resp.Questions == nil {
		resp.Questions = []model.Question{}
	}
	if summary.Total > 0 {
		resp.OverallFeedback = appI18n.Overall(r.Context(), summary.Band())
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleExportSession(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "sessionID")
	if !ok {
		return
	}
	exp, err := h.store.ExportSession(id)
	if err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, exp)
}
