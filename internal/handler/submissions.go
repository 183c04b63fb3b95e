package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pavelanni/scangrader/internal/archive"
	"github.com/pavelanni/scangrader/internal/model"
)

func (h *Handler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "sessionID")
	if !ok {
		return
	}
	if _, err := h.store.GetSession(sessionID); err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	subs, err := h.store.ListSubmissions(sessionID)
	if err != nil {
		writeStoreError(w, r, err, "ErrSessionNotFound")
		return
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "submissionID")
	if !ok {
		return
	}
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		writeStoreError(w, r, err, "ErrSubmissionNotFound")
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleSubmissionImage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "submissionID")
	if !ok {
		return
	}
	sub, err := h.store.GetSubmission(id)
	if err != nil {
		writeStoreError(w, r, err, "ErrSubmissionNotFound")
		return
	}
	if sub.ImageKey == "" {
		writeError(w, r, http.StatusNotFound, "ErrSubmissionNotFound", nil)
		return
	}
	rc, err := h.archive.Get(r.Context(), sub.ImageKey)
	if errors.Is(err, archive.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, "ErrSubmissionNotFound", nil)
		return
	}
	if err != nil {
		slog.Error("load archived image", "key", sub.ImageKey, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		slog.Error("read archived image", "key", sub.ImageKey, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "submissionID")
	if !ok {
		return
	}
	var review model.Review
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&review); err != nil {
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	sub, err := h.store.ReviewSubmission(id, review)
	if err != nil {
		writeStoreError(w, r, err, "ErrSubmissionNotFound")
		return
	}
	slog.Info("submission reviewed", "id", id, "ai_marks", sub.AI.Marks, "final_marks", sub.Marks())
	writeJSON(w, http.StatusOK, sub)
}
