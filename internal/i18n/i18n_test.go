package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pavelanni/scangrader/internal/model"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "ErrSessionNotFound")
	if got != "Session not found." {
		t.Errorf("T(ErrSessionNotFound) = %q, want 'Session not found.'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "ErrSessionNotFound")
	if got != "Сессия не найдена." {
		t.Errorf("T(ErrSessionNotFound) = %q, want 'Сессия не найдена.'", got)
	}
}

func TestOverall(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		percentage float64
		want       string
	}{
		{95, "Excellent work! You have demonstrated a strong understanding of the concepts."},
		{80, "Very good performance! You show good grasp of most concepts with room for minor improvements."},
		{72.5, "Good effort! You understand the basic concepts but could benefit from more detailed explanations."},
		{60, "Fair performance. Focus on understanding key concepts and providing more complete answers."},
		{12, "Needs improvement. Please review the material and practice more. Consider seeking additional help."},
	}
	for _, tt := range tests {
		band := model.BatchSummary{AveragePercentage: tt.percentage}.Band()
		if got := Overall(ctx, band); got != tt.want {
			t.Errorf("Overall(%v%%) = %q, want %q", tt.percentage, got, tt.want)
		}
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "AnswersGraded", 1); got != "1 answer graded." {
		t.Errorf("Tp(AnswersGraded, 1) = %q, want '1 answer graded.'", got)
	}
	if got := Tp(ctx, "AnswersGraded", 5); got != "5 answers graded." {
		t.Errorf("Tp(AnswersGraded, 5) = %q, want '5 answers graded.'", got)
	}

	ctx = WithLocalizer(context.Background(), NewLocalizer("ru"))
	if got := Tp(ctx, "AnswersGraded", 5); got != "Проверено 5 ответов." {
		t.Errorf("Tp(AnswersGraded, 5) ru = %q, want 'Проверено 5 ответов.'", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ErrUploadTooLarge", map[string]any{"Limit": 32})
	if got != "The upload exceeds the 32 MB limit." {
		t.Errorf("Td(ErrUploadTooLarge, Limit=32) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddleware(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tests := []struct {
		name   string
		url    string
		header string
		want   string
	}{
		{"default", "/", "", "Session not found."},
		{"accept-language", "/", "ru-RU,ru;q=0.9,en;q=0.5", "Сессия не найдена."},
		{"query wins", "/?lang=en", "ru", "Session not found."},
		{"unknown falls back", "/", "fr", "Session not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = T(r.Context(), "ErrSessionNotFound")
			}))
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Accept-Language", tt.header)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
