// Package grading composes text extraction, the language model, response
// parsing and the heuristic fallback into the per-answer grading pipeline,
// and runs that pipeline over batches of answer images.
package grading

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/scangrader/internal/heuristic"
	"github.com/pavelanni/scangrader/internal/llm/prompts"
	"github.com/pavelanni/scangrader/internal/metrics"
	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/ocr"
	"github.com/pavelanni/scangrader/internal/parse"
)

// Model turns a prompt into free-form text. Any error sends grading to the
// heuristic fallback.
type Model interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

const (
	UnreadableFeedback     = "No readable text found in the answer image"
	UnreadableImprovements = "Please ensure the answer is clearly written and visible"
)

// Grader grades one answer image at a time. It holds no mutable state and is
// safe for concurrent use.
type Grader struct {
	extractor ocr.Extractor
	model     Model
	scorer    *heuristic.Scorer
	variant   prompts.PromptVariant
}

// NewGrader creates a Grader. A nil model grades every readable answer with
// the heuristic scorer.
func NewGrader(extractor ocr.Extractor, m Model, variant prompts.PromptVariant) (*Grader, error) {
	if extractor == nil {
		return nil, fmt.Errorf("text extractor is required")
	}
	if !prompts.IsValidVariant(string(variant)) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}
	if err := prompts.Load(prompts.Templates); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	return &Grader{
		extractor: extractor,
		model:     m,
		scorer:    heuristic.New(),
		variant:   variant,
	}, nil
}

// Unreadable is the terminal result for an image with no usable text.
func Unreadable(q model.Question, student model.StudentInfo) model.GradingResult {
	r := model.NewGradingResult(model.Grade{
		Feedback:     UnreadableFeedback,
		Improvements: UnreadableImprovements,
		Confidence:   model.MinConfidence,
	}, q.MaxMarks, model.MethodUnreadable)
	r.Student = student
	return r
}

// GradeAnswerImage extracts the answer from image and grades it. It always
// returns a valid result: unreadable images score zero, and a failed model
// call falls back to the heuristic scorer.
func (g *Grader) GradeAnswerImage(ctx context.Context, q model.Question, image []byte, student model.StudentInfo) model.GradingResult {
	log := slog.With("question", q.Number, "student", student.Name, "roll_number", student.RollNumber)

	start := time.Now()
	ex, err := g.extractor.Extract(ctx, image)
	metrics.ObserveStage("ocr", start, err)
	if err != nil {
		log.Warn("text extraction failed", "error", err, "unreadable", ocr.IsExtractionError(err))
		return record(Unreadable(q, student))
	}
	if strings.TrimSpace(ex.Text) == "" {
		log.Info("no readable text in answer image", "ocr_confidence", ex.Confidence)
		return record(Unreadable(q, student))
	}

	result := g.judge(ctx, q, ex.Text, log)
	log.Info("answer graded",
		"method", result.Method,
		"marks", result.Marks,
		"max_marks", result.MaxMarks,
		"confidence", result.Confidence,
		"ocr_confidence", ex.Confidence,
	)
	return record(result.WithExtraction(ex, student))
}

func (g *Grader) judge(ctx context.Context, q model.Question, answer string, log *slog.Logger) model.GradingResult {
	if g.model == nil {
		return g.scorer.Score(q, answer)
	}

	prompt, err := prompts.BuildGradePrompt(g.variant, q, answer)
	if err != nil {
		log.Error("build grading prompt", "error", err)
		return g.scorer.Score(q, answer)
	}

	start := time.Now()
	raw, err := g.model.Complete(ctx, prompt)
	metrics.ObserveStage("model", start, err)
	if err != nil {
		log.Warn("model call failed, using heuristic fallback", "error", err)
		return g.scorer.Score(q, answer)
	}
	return parse.Response(raw, q.MaxMarks)
}

func record(r model.GradingResult) model.GradingResult {
	metrics.GradingResults.WithLabelValues(string(r.Method)).Inc()
	return r
}
