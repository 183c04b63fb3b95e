package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/pavelanni/scangrader/internal/grading"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/ocr"
)

func TestParseStudent(t *testing.T) {
	tests := []struct {
		in   string
		want model.StudentInfo
	}{
		{"Asha:17", model.StudentInfo{Name: "Asha", RollNumber: "17"}},
		{" Ravi Kumar : 4B-02 ", model.StudentInfo{Name: "Ravi Kumar", RollNumber: "4B-02"}},
		{"Meera", model.StudentInfo{Name: "Meera"}},
		{"", model.StudentInfo{}},
	}
	for _, tt := range tests {
		if got := parseStudent(tt.in); got != tt.want {
			t.Errorf("parseStudent(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	fixture := `{"a.png": {"text": "Water boils at 100 degrees.", "confidence": 88}}`
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	items := []grading.Item{
		{FileName: "a.png", Image: []byte("image-a")},
		{FileName: "b.png", Image: []byte("image-b")},
	}

	s, err := loadFixture(path, items)
	if err != nil {
		t.Fatalf("loadFixture: %v", err)
	}

	ex, err := s.Extract(context.Background(), []byte("image-a"))
	if err != nil || ex.Text != "Water boils at 100 degrees." || ex.Confidence != 88 {
		t.Errorf("Extract(a) = %+v, %v", ex, err)
	}
	if _, err := s.Extract(context.Background(), []byte("image-b")); err == nil {
		t.Error("Extract(b) expected error for image missing from fixture")
	}

	if _, err := loadFixture(filepath.Join(t.TempDir(), "missing.json"), items); err == nil {
		t.Error("expected error for missing fixture file")
	}
}

func TestLoadFixtureIdenticalImages(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		wantErr bool
	}{
		{
			name:    "different entries",
			fixture: `{"a.png": {"text": "Photosynthesis makes glucose.", "confidence": 90}, "b.png": {"text": "No idea.", "confidence": 40}}`,
			wantErr: true,
		},
		{
			name:    "one entry missing",
			fixture: `{"a.png": {"text": "Photosynthesis makes glucose.", "confidence": 90}}`,
			wantErr: true,
		},
		{
			name:    "same entry",
			fixture: `{"a.png": {"text": "Same.", "confidence": 70}, "b.png": {"text": "Same.", "confidence": 70}}`,
		},
	}

	items := []grading.Item{
		{FileName: "a.png", Image: []byte("same-bytes")},
		{FileName: "b.png", Image: []byte("same-bytes")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "fixture.json")
			if err := os.WriteFile(path, []byte(tt.fixture), 0o644); err != nil {
				t.Fatal(err)
			}
			s, err := loadFixture(path, items)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadFixture() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			ex, err := s.Extract(context.Background(), []byte("same-bytes"))
			if err != nil || ex.Text != "Same." {
				t.Errorf("Extract() = %+v, %v", ex, err)
			}
		})
	}
}

func TestPipelineInfo(t *testing.T) {
	tests := []struct {
		variant string
		want    model.GraderInfo
	}{
		{"strict", model.GraderInfo{PromptVariant: "strict", Model: "heuristic"}},
		{" Lenient ", model.GraderInfo{PromptVariant: "lenient", Model: "heuristic"}},
		{"bogus", model.GraderInfo{PromptVariant: "standard", Model: "heuristic"}},
	}
	for _, tt := range tests {
		t.Run(tt.variant, func(t *testing.T) {
			v := viper.New()
			v.Set("offline", true)
			v.Set("prompt-variant", tt.variant)
			v.Set("concurrency", 2)

			p, err := newPipeline(context.Background(), v, ocr.NewScripted())
			if err != nil {
				t.Fatalf("newPipeline: %v", err)
			}
			if got := p.info(); got != tt.want {
				t.Errorf("info() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
