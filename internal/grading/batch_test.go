package grading

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/scangrader/internal/model"
	"github.com/pavelanni/scangrader/internal/ocr"
)

func batchItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{
			FileName: fmt.Sprintf("answer-%d.png", i+1),
			Image:    []byte(fmt.Sprintf("image-%d", i+1)),
			Student:  model.StudentInfo{Name: fmt.Sprintf("Student %d", i+1), RollNumber: fmt.Sprint(i + 1)},
		}
	}
	return items
}

func TestBatchIsolatesFailures(t *testing.T) {
	items := batchItems(5)
	ex := &ocr.Scripted{ByImage: map[string]ocr.Step{}}
	for i, it := range items {
		step := ocr.Step{Result: model.Extraction{Text: photosynthesisAnswer, Confidence: 90}}
		if i == 2 {
			step = ocr.Step{Err: &ocr.ExtractionError{Reason: "unreadable image"}}
		}
		ex.ByImage[string(it.Image)] = step
	}
	g := newTestGrader(t, ex, &fakeModel{reply: `{"marks": 7, "confidence": 8}`})

	report := NewBatch(g, 3).Grade(context.Background(), photosynthesis, items)

	if len(report.Items) != 5 {
		t.Fatalf("got %d items, want 5", len(report.Items))
	}
	if report.ID == "" {
		t.Error("report has no ID")
	}
	for i, it := range report.Items {
		if it.Err != nil || it.Result == nil {
			t.Fatalf("item %d: err = %v, result = %v", i, it.Err, it.Result)
		}
		want := model.MethodModel
		if i == 2 {
			want = model.MethodUnreadable
		}
		if it.Result.Method != want {
			t.Errorf("item %d: Method = %q, want %q", i, it.Result.Method, want)
		}
	}
	if report.Summary.Total != 5 || report.Summary.Graded != 4 || report.Summary.Errored != 1 {
		t.Errorf("Summary = %+v, want 5 total, 4 graded, 1 errored", report.Summary)
	}
}

// delayGrader finishes later items first and tracks peak concurrency.
type delayGrader struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	n        int
}

func (d *delayGrader) GradeAnswerImage(_ context.Context, q model.Question, image []byte, student model.StudentInfo) model.GradingResult {
	cur := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		p := d.peak.Load()
		if cur <= p || d.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	var idx int
	fmt.Sscanf(string(image), "image-%d", &idx)
	time.Sleep(time.Duration(d.n-idx) * 5 * time.Millisecond)
	r := model.NewGradingResult(model.Grade{Marks: idx, Confidence: 5}, q.MaxMarks, model.MethodHeuristic)
	r.Student = student
	return r
}

func TestBatchPreservesOrder(t *testing.T) {
	items := batchItems(8)
	g := &delayGrader{n: len(items)}

	report := NewBatch(g, 2).Grade(context.Background(), photosynthesis, items)

	for i, it := range report.Items {
		if it.Index != i {
			t.Errorf("item %d: Index = %d", i, it.Index)
		}
		if it.Result == nil {
			t.Fatalf("item %d: no result (err %v)", i, it.Err)
		}
		if it.Result.Marks != i+1 {
			t.Errorf("item %d: Marks = %d, want %d", i, it.Result.Marks, i+1)
		}
		if it.Result.Student != items[i].Student {
			t.Errorf("item %d: Student = %+v, want %+v", i, it.Result.Student, items[i].Student)
		}
	}
	if peak := g.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
}

type panicGrader struct{ bad string }

func (p panicGrader) GradeAnswerImage(_ context.Context, q model.Question, image []byte, _ model.StudentInfo) model.GradingResult {
	if string(image) == p.bad {
		panic("corrupt decoder state")
	}
	return model.NewGradingResult(model.Grade{Marks: 5, Confidence: 5}, q.MaxMarks, model.MethodHeuristic)
}

func TestBatchRecoversPanics(t *testing.T) {
	items := batchItems(4)

	report := NewBatch(panicGrader{bad: "image-2"}, 2).Grade(context.Background(), photosynthesis, items)

	for i, it := range report.Items {
		if i == 1 {
			if it.Err == nil || it.Result != nil {
				t.Errorf("item 1: err = %v, result = %v, want panic error and no result", it.Err, it.Result)
			}
			if it.Error == "" {
				t.Error("item 1: Error string not set")
			}
			continue
		}
		if it.Err != nil || it.Result == nil {
			t.Errorf("item %d: err = %v, result = %v", i, it.Err, it.Result)
		}
	}
	if report.Summary.Total != 4 || report.Summary.Graded != 3 || report.Summary.Errored != 1 {
		t.Errorf("Summary = %+v, want 4 total, 3 graded, 1 errored", report.Summary)
	}
}

func TestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := ocr.NewScripted(ocr.Step{Result: model.Extraction{Text: photosynthesisAnswer, Confidence: 90}})
	g := newTestGrader(t, ex, nil)

	report := NewBatch(g, 2).Grade(ctx, photosynthesis, batchItems(3))

	for i, it := range report.Items {
		if !errors.Is(it.Err, context.Canceled) {
			t.Errorf("item %d: err = %v, want context.Canceled", i, it.Err)
		}
		if it.Result != nil {
			t.Errorf("item %d: unexpected result", i)
		}
	}
	if ex.Calls() != 0 {
		t.Errorf("extractor called %d times, want 0", ex.Calls())
	}
	if report.Summary.Total != 3 || report.Summary.Graded != 0 || report.Summary.Errored != 3 {
		t.Errorf("Summary = %+v, want 3 total, 0 graded, 3 errored", report.Summary)
	}
	if report.Summary.AveragePercentage != 0 {
		t.Errorf("AveragePercentage = %v, want 0", report.Summary.AveragePercentage)
	}
}

// cancellingGrader cancels the batch from inside its first call.
type cancellingGrader struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (c *cancellingGrader) GradeAnswerImage(_ context.Context, q model.Question, _ []byte, _ model.StudentInfo) model.GradingResult {
	c.calls.Add(1)
	c.cancel()
	return model.NewGradingResult(model.Grade{Marks: 1, Confidence: 5}, q.MaxMarks, model.MethodHeuristic)
}

func TestBatchCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := &cancellingGrader{cancel: cancel}

	report := NewBatch(g, 1).Grade(ctx, photosynthesis, batchItems(4))

	if len(report.Items) != 4 {
		t.Fatalf("got %d items, want 4", len(report.Items))
	}
	for i, it := range report.Items {
		if !errors.Is(it.Err, context.Canceled) || it.Result != nil {
			t.Errorf("item %d: err = %v, result = %v, want cancelled", i, it.Err, it.Result)
		}
	}
	if calls := g.calls.Load(); calls != 1 {
		t.Errorf("grader called %d times, want 1", calls)
	}
	if report.Summary.Total != 4 || report.Summary.Errored != 4 {
		t.Errorf("Summary = %+v, want 4 total, 4 errored", report.Summary)
	}
}

func TestBatchEmpty(t *testing.T) {
	report := NewBatch(panicGrader{}, 0).Grade(context.Background(), photosynthesis, nil)
	if len(report.Items) != 0 || report.Summary.Total != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}
