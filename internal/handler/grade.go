package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/scangrader/internal/archive"
	"github.com/pavelanni/scangrader/internal/grading"
	appI18n "github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/store"
)

type gradeResponse struct {
	grading.Report
	SubmissionIDs   []int64 `json:"submission_ids"`
	Message         string  `json:"message"`
	OverallFeedback string  `json:"overall_feedback,omitempty"`
}

// handleGrade grades uploaded answer images for one question. Files come in
// the repeated "images" field; the i-th student_name and roll_number values
// belong to the i-th file.
func (h *Handler) handleGrade(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := idParam(w, r, "sessionID")
	if !ok {
		return
	}
	questionID, ok := idParam(w, r, "questionID")
	if !ok {
		return
	}

	q, err := h.store.GetQuestion(questionID)
	if err != nil {
		writeStoreError(w, r, err, "ErrQuestionNotFound")
		return
	}
	if q.SessionID != sessionID {
		writeError(w, r, http.StatusNotFound, "ErrQuestionNotFound", nil)
		return
	}

	limit := int64(h.config.MaxUploadMB) << 20
	if r.ContentLength > limit {
		writeError(w, r, http.StatusRequestEntityTooLarge, "ErrUploadTooLarge", map[string]any{"Limit": h.config.MaxUploadMB})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "ErrUploadTooLarge", map[string]any{"Limit": h.config.MaxUploadMB})
			return
		}
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}

	items, keys, err := h.collectItems(r, sessionID)
	if err != nil {
		slog.Warn("read uploaded images", "error", err)
		writeError(w, r, http.StatusBadRequest, "ErrInvalidRequest", nil)
		return
	}
	if len(items) == 0 {
		writeError(w, r, http.StatusBadRequest, "ErrNoImages", nil)
		return
	}

	report := h.batch.Grade(r.Context(), q, items)

	subs := make([]store.NewSubmission, 0, len(report.Items))
	for i, it := range report.Items {
		if it.Result == nil {
			continue
		}
		subs = append(subs, store.NewSubmission{FileName: it.FileName, ImageKey: keys[i], Result: *it.Result})
	}
	ids, err := h.store.SaveSubmissions(sessionID, q.ID, subs)
	if err != nil {
		slog.Error("save submissions", "session_id", sessionID, "question_id", q.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal", nil)
		return
	}

	resp := gradeResponse{
		Report:        report,
		SubmissionIDs: ids,
		Message:       appI18n.Tp(r.Context(), "AnswersGraded", len(ids)),
	}
	if report.Summary.Total > 0 {
		resp.OverallFeedback = appI18n.Overall(r.Context(), report.Summary.Band())
	}
	writeJSON(w, http.StatusOK, resp)
}

// collectItems reads the uploaded files and archives each one. An archive
// failure is logged and leaves that item without an image key.
func (h *Handler) collectItems(r *http.Request, sessionID int64) ([]grading.Item, []string, error) {
	files := r.MultipartForm.File["images"]
	names := r.MultipartForm.Value["student_name"]
	rolls := r.MultipartForm.Value["roll_number"]

	items := make([]grading.Item, 0, len(files))
	keys := make([]string, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return nil, nil, err
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, nil, err
		}

		student := model.StudentInfo{Name: valueAt(names, i), RollNumber: valueAt(rolls, i)}
		items = append(items, grading.Item{FileName: fh.Filename, Image: data, Student: student})

		key, err := h.archive.Put(r.Context(), archive.NewKey(sessionID, fh.Filename),
			bytes.NewReader(data), int64(len(data)), http.DetectContentType(data))
		if err != nil {
			slog.Warn("archive answer image", "file", fh.Filename, "error", err)
			key = ""
		}
		keys = append(keys, key)
	}
	return items, keys, nil
}

func valueAt(values []string, i int) string {
	if i < len(values) {
		return strings.TrimSpace(values[i])
	}
	return ""
}
