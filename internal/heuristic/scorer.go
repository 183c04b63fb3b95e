// Package heuristic grades an answer without a language model, using a
// deterministic table of length bands and keyword rules. It backs the
// pipeline whenever the model call is unavailable.
package heuristic

import (
	"math"
	"strings"

	"github.com/pavelanni/scangrader/internal/model"
)

const (
	// An attempt longer than this many runes earns at least one mark.
	minAttemptLength = 10
	// Answers up to this length report lower confidence.
	shortAnswerLength = 50

	shortConfidence = 4
	longConfidence  = 6
)

// Scorer applies length bands and rules to an answer.
type Scorer struct {
	Bands []Band
	Rules []Rule
}

// New returns a Scorer using DefaultBands and DefaultRules.
func New() *Scorer {
	return &Scorer{Bands: DefaultBands, Rules: DefaultRules}
}

// Score grades answer against q. It has no side effects and returns the same
// result for the same inputs.
func (s *Scorer) Score(q model.Question, answer string) model.GradingResult {
	in := NewInput(q, answer)
	band := s.band(in.Length)

	marks := int(math.Floor(band.Fraction * float64(q.MaxMarks)))
	var strengths []string
	if band.Strengths != "" {
		strengths = append(strengths, band.Strengths)
	}

	fired := make(map[string]bool)
	for _, r := range s.Rules {
		if r.Group != "" && fired[r.Group] {
			continue
		}
		if !r.Applies(in) {
			continue
		}
		if r.Group != "" {
			fired[r.Group] = true
		}
		var note string
		marks, note = r.Apply(in, marks)
		if note != "" {
			strengths = append(strengths, note)
		}
	}

	if in.Length > minAttemptLength && marks < 1 {
		marks = 1
	}

	confidence := shortConfidence
	if in.Length > shortAnswerLength {
		confidence = longConfidence
	}

	return model.NewGradingResult(model.Grade{
		Marks:        marks,
		Feedback:     band.Feedback,
		Strengths:    strings.Join(strengths, "; "),
		Improvements: band.Improvements,
		Confidence:   confidence,
	}, q.MaxMarks, model.MethodHeuristic)
}

func (s *Scorer) band(length int) Band {
	for _, b := range s.Bands {
		if length < b.Below {
			return b
		}
	}
	if len(s.Bands) == 0 {
		return Band{}
	}
	return s.Bands[len(s.Bands)-1]
}
