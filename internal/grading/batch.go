package grading

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/scangrader/internal/metrics"
	"github.com/pavelanni/scangrader/internal/model"
)

// DefaultConcurrency bounds parallel gradings in a batch.
const DefaultConcurrency = 4

// AnswerGrader grades a single answer image.
type AnswerGrader interface {
	GradeAnswerImage(ctx context.Context, q model.Question, image []byte, student model.StudentInfo) model.GradingResult
}

// Item is one answer image in a batch.
type Item struct {
	FileName string
	Image    []byte
	Student  model.StudentInfo
}

// ItemResult holds the outcome for the item at Index. Result is nil when the
// item was cancelled or its grading panicked; Err then says why.
type ItemResult struct {
	Index    int                  `json:"index"`
	FileName string               `json:"file_name"`
	Student  model.StudentInfo    `json:"student"`
	Result   *model.GradingResult `json:"result,omitempty"`
	Err      error                `json:"-"`
	Error    string               `json:"error,omitempty"`
}

// Report is the outcome of a batch, in input order.
type Report struct {
	ID      string             `json:"id"`
	Items   []ItemResult       `json:"items"`
	Summary model.BatchSummary `json:"summary"`
}

// Results returns the graded results in input order, skipping missing ones.
func (r Report) Results() []model.GradingResult {
	out := make([]model.GradingResult, 0, len(r.Items))
	for _, it := range r.Items {
		if it.Result != nil {
			out = append(out, *it.Result)
		}
	}
	return out
}

// Batch grades many answers to one question with bounded concurrency.
type Batch struct {
	grader      AnswerGrader
	concurrency int
}

// NewBatch creates a Batch. Concurrency below one uses DefaultConcurrency.
func NewBatch(g AnswerGrader, concurrency int) *Batch {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Batch{grader: g, concurrency: concurrency}
}

// Grade grades every item independently. A failure in one item never affects
// another. Items still pending when ctx is cancelled get ctx.Err() and no result.
func (b *Batch) Grade(ctx context.Context, q model.Question, items []Item) Report {
	report := Report{
		ID:    uuid.NewString(),
		Items: make([]ItemResult, len(items)),
	}
	log := slog.With("batch", report.ID, "question", q.Number)
	log.Info("batch started", "items", len(items), "concurrency", b.concurrency)

	var eg errgroup.Group
	eg.SetLimit(b.concurrency)
	for i, it := range items {
		report.Items[i] = ItemResult{Index: i, FileName: it.FileName, Student: it.Student}
		eg.Go(func() error {
			res, err := b.gradeOne(ctx, q, it)
			// Each goroutine writes only its own slot.
			report.Items[i].Result = res
			report.Items[i].Err = err
			return nil
		})
	}
	_ = eg.Wait()

	missing := 0
	for i := range report.Items {
		it := &report.Items[i]
		outcome := "completed"
		if it.Result == nil {
			missing++
		}
		if it.Err != nil {
			it.Error = it.Err.Error()
			outcome = "failed"
			if ctx.Err() != nil {
				outcome = "cancelled"
			}
		}
		metrics.BatchItems.WithLabelValues(outcome).Inc()
	}
	report.Summary = model.Summarize(report.Results())
	// Failed and cancelled items count as errored so Total matches len(items).
	report.Summary.Total += missing
	report.Summary.Errored += missing

	log.Info("batch finished",
		"total", report.Summary.Total,
		"graded", report.Summary.Graded,
		"errored", report.Summary.Errored,
		"average_percentage", report.Summary.AveragePercentage,
	)
	return report
}

func (b *Batch) gradeOne(ctx context.Context, q model.Question, it Item) (res *model.GradingResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("grading panicked", "file", it.FileName, "panic", p)
			res, err = nil, fmt.Errorf("grade %s: panic: %v", it.FileName, p)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := b.grader.GradeAnswerImage(ctx, q, it.Image, it.Student)
	// A result produced while the batch was being cancelled may come from a
	// cut-short call; drop it rather than store a misleading grade.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &r, nil
}
