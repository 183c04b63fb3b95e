package handler

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

	"github.com/pavelanni/scangrader/internal/archive"
	"github.com/pavelanni/scangrader/internal/grading"
	appI18n "github.com/pavelanni/scangrader/internal/i18n"
	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/ocr"
	"github.com/pavelanni/scangrader/internal/store"
)

type stubModel struct{ reply string }

func (m stubModel) Complete(context.Context, string) (string, error) { return m.reply, nil }

type testServer struct {
	srv    *httptest.Server
	router http.Handler
	store *store.Store
	ocr   *ocr.Scripted
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	extractor := &ocr.Scripted{ByImage: map[string]ocr.Step{
		"good-1": {Result: model.Extraction{Text: "Plants use sunlight to make food.", Confidence: 90}},
		"good-2": {Result: model.Extraction{Text: "Chlorophyll absorbs light energy.", Confidence: 85}},
		"blank":  {Result: model.Extraction{Text: "   ", Confidence: 10}},
	}}
	g, err := grading.NewGrader(extractor, stubModel{reply: `{"marks": 8, "feedback": "Good.", "confidence": 8}`}, prompts.PromptStandard)
	if err != nil {
		t.Fatalf("NewGrader: %v", err)
	}
	arch, err := archive.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("archive.NewFS: %v", err)
	}
	h, err := New(db, grading.NewBatch(g, 2), arch, model.GraderConfig{MaxUploadMB: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	router := NewRouter(h, RouterConfig{Lang: "en"})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, router: router, store: db, ocr: extractor}
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func (ts *testServer) createSession(t *testing.T) sessionResponse {
	t.Helper()
	paper := `{
		"title": "Biology quiz",
		"subject": "Biology",
		"class_section": "7A",
		"questions": [
			{"question_number": 1, "question_text": "Explain photosynthesis.", "max_marks": 10},
			{"question_number": 2, "question_text": "Name two pigments.", "max_marks": 4}
		]
	}`
	resp, body := ts.do(t, http.MethodPost, "/api/sessions", "application/json", []byte(paper))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", resp.StatusCode, body)
	}
	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return sess
}

type upload struct {
	file, content, name, roll string
}

func multipartBody(t *testing.T, uploads []upload) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, u := range uploads {
		fw, err := mw.CreateFormFile("images", u.file)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		fw.Write([]byte(u.content))
		mw.WriteField("student_name", u.name)
		mw.WriteField("roll_number", u.roll)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "ok") {
		t.Errorf("GET /healthz = %d %s", resp.StatusCode, body)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)

	if sess.Session.Name != "Biology quiz" || len(sess.Questions) != 2 {
		t.Fatalf("created session = %+v", sess)
	}
	if sess.OverallFeedback != "" {
		t.Errorf("empty session has overall feedback %q", sess.OverallFeedback)
	}

	resp, body := ts.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d", sess.Session.ID), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET session = %d %s", resp.StatusCode, body)
	}

	resp, body = ts.do(t, http.MethodGet, "/api/sessions", "", nil)
	var list []model.Session
	if err := json.Unmarshal(body, &list); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("GET sessions = %d %s (%v)", resp.StatusCode, body, err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 session, got %d", len(list))
	}
}

func TestCreateSessionInvalid(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"no questions", `{"title": "Empty"}`},
		{"bad marks", `{"title": "T", "questions": [{"question_text": "Q", "max_marks": 0}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/sessions", "application/json", []byte(tt.body))
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (%s)", resp.StatusCode, body)
			}
		})
	}
}

func TestNotFoundAndBadIDs(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		method, path string
		want         int
		code         string
	}{
		{http.MethodGet, "/api/sessions/999", http.StatusNotFound, "ErrSessionNotFound"},
		{http.MethodGet, "/api/sessions/abc", http.StatusBadRequest, "ErrInvalidID"},
		{http.MethodGet, "/api/sessions/999/submissions", http.StatusNotFound, "ErrSessionNotFound"},
		{http.MethodGet, "/api/submissions/5", http.StatusNotFound, "ErrSubmissionNotFound"},
		{http.MethodPost, "/api/sessions/1/questions/77/grade", http.StatusNotFound, "ErrQuestionNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := ts.do(t, tt.method, tt.path, "", nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d (%s)", resp.StatusCode, tt.want, body)
			}
			var e errorResponse
			if err := json.Unmarshal(body, &e); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if e.Code != tt.code || e.Error == "" || e.Error == tt.code {
				t.Errorf("error = %+v, want localized %s", e, tt.code)
			}
		})
	}
}

func TestGradeFlow(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)
	q := sess.Questions[0]

	body, ct := multipartBody(t, []upload{
		{"asha.png", "good-1", "Asha", "1"},
		{"blank.png", "blank", "Ravi", "2"},
		{"meera.png", "good-2", "Meera", "3"},
	})
	path := fmt.Sprintf("/api/sessions/%d/questions/%d/grade", sess.Session.ID, q.ID)
	resp, raw := ts.do(t, http.MethodPost, path, ct, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grade status = %d, body %s", resp.StatusCode, raw)
	}

	var got gradeResponse
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode grade response: %v", err)
	}
	if len(got.Items) != 3 || len(got.SubmissionIDs) != 3 {
		t.Fatalf("got %d items, %d submissions, want 3 each", len(got.Items), len(got.SubmissionIDs))
	}
	wantMethods := []model.Method{model.MethodModel, model.MethodUnreadable, model.MethodModel}
	for i, it := range got.Items {
		if it.Result == nil {
			t.Fatalf("item %d has no result: %s", i, it.Error)
		}
		if it.Result.Method != wantMethods[i] {
			t.Errorf("item %d method = %q, want %q", i, it.Result.Method, wantMethods[i])
		}
	}
	if got.Items[1].Result.Student.Name != "Ravi" {
		t.Errorf("item 1 student = %+v", got.Items[1].Result.Student)
	}
	if got.Summary.Total != 3 || got.Summary.Errored != 1 {
		t.Errorf("summary = %+v", got.Summary)
	}
	if got.Message != "3 answers graded." {
		t.Errorf("message = %q", got.Message)
	}
	if got.OverallFeedback == "" {
		t.Error("expected overall feedback")
	}

	// Stored submissions.
	resp, raw = ts.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/submissions", sess.Session.ID), "", nil)
	var subs []model.Submission
	if err := json.Unmarshal(raw, &subs); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("list submissions = %d %s (%v)", resp.StatusCode, raw, err)
	}
	if len(subs) != 3 || subs[0].AI.Marks != 8 || subs[0].AI.Student.Name != "Asha" {
		t.Fatalf("submissions = %+v", subs)
	}

	// Archived image.
	resp, raw = ts.do(t, http.MethodGet, fmt.Sprintf("/api/submissions/%d/image", subs[0].ID), "", nil)
	if resp.StatusCode != http.StatusOK || string(raw) != "good-1" {
		t.Errorf("image = %d %q, want 200 good-1", resp.StatusCode, raw)
	}

	// Reviewer override is clamped to the question maximum.
	review := []byte(`{"marks": 25, "feedback": "Full marks after review."}`)
	resp, raw = ts.do(t, http.MethodPost, fmt.Sprintf("/api/submissions/%d/review", subs[1].ID), "application/json", review)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review = %d %s", resp.StatusCode, raw)
	}
	var reviewed model.Submission
	if err := json.Unmarshal(raw, &reviewed); err != nil {
		t.Fatalf("decode review: %v", err)
	}
	if reviewed.Final == nil || reviewed.Final.Marks != 10 || reviewed.AI.Marks != 0 {
		t.Errorf("reviewed = %+v", reviewed)
	}
	if reviewed.Status != model.StatusReviewed {
		t.Errorf("status = %q", reviewed.Status)
	}

	// Export reflects the review.
	resp, raw = ts.do(t, http.MethodGet, fmt.Sprintf("/api/sessions/%d/export", sess.Session.ID), "", nil)
	var exp model.SessionExport
	if err := json.Unmarshal(raw, &exp); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d %s (%v)", resp.StatusCode, raw, err)
	}
	if exp.Submissions[1].FinalMarks != 10 || exp.Summary.Total != 3 {
		t.Errorf("export = %+v", exp)
	}
}

func TestGradeRejects(t *testing.T) {
	ts := newTestServer(t)
	sess := ts.createSession(t)
	other := ts.createSession(t)

	t.Run("no images", func(t *testing.T) {
		body, ct := multipartBody(t, nil)
		path := fmt.Sprintf("/api/sessions/%d/questions/%d/grade", sess.Session.ID, sess.Questions[0].ID)
		resp, raw := ts.do(t, http.MethodPost, path, ct, body)
		if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(raw), "ErrNoImages") {
			t.Errorf("status = %d %s, want 400 ErrNoImages", resp.StatusCode, raw)
		}
	})

	t.Run("question from another session", func(t *testing.T) {
		body, ct := multipartBody(t, []upload{{"a.png", "good-1", "A", "1"}})
		path := fmt.Sprintf("/api/sessions/%d/questions/%d/grade", sess.Session.ID, other.Questions[0].ID)
		resp, raw := ts.do(t, http.MethodPost, path, ct, body)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d %s, want 404", resp.StatusCode, raw)
		}
	})

	t.Run("too large", func(t *testing.T) {
		big := strings.Repeat("x", 2<<20)
		body, ct := multipartBody(t, []upload{{"big.png", big, "A", "1"}})
		path := fmt.Sprintf("/api/sessions/%d/questions/%d/grade", sess.Session.ID, sess.Questions[0].ID)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("status = %d %s, want 413", rec.Code, rec.Body.String())
		}
	})

	if calls := ts.ocr.Calls(); calls != 0 {
		t.Errorf("extractor called %d times for rejected uploads", calls)
	}
}

func TestImportPaperUpload(t *testing.T) {
	ts := newTestServer(t)
	paper := `{"title": "Geography", "subject": "Geography", "questions": [{"question_text": "Name three rivers.", "max_marks": 3}]}`

	send := func() (int, importResponse) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("paper_file", "geo.json")
		fw.Write([]byte(paper))
		mw.Close()
		resp, raw := ts.do(t, http.MethodPost, "/api/sessions/import", mw.FormDataContentType(), buf.Bytes())
		var ir importResponse
		if err := json.Unmarshal(raw, &ir); err != nil {
			t.Fatalf("decode import response %s: %v", raw, err)
		}
		return resp.StatusCode, ir
	}

	status, first := send()
	if status != http.StatusCreated || first.Skipped || first.SessionID == 0 {
		t.Fatalf("first import = %d %+v", status, first)
	}
	status, second := send()
	if status != http.StatusOK || !second.Skipped || second.SessionID != first.SessionID {
		t.Errorf("second import = %d %+v, want skipped same session", status, second)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/healthz", "", nil)
	resp, _ := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics = %d", resp.StatusCode)
	}
}
