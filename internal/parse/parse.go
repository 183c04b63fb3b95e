// Package parse turns a language model's free-form grading reply into a
// structured result. Parsing never fails: a JSON object is preferred, then
// loose "Marks: n" / "Feedback: ..." patterns, then fixed defaults.
package parse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pavelanni/scangrader/internal/model"
)

// Defaults for fields the model left out of a JSON reply.
const (
	DefaultFeedback     = "Answer evaluated by AI"
	DefaultStrengths    = "Shows effort in attempting the question"
	DefaultImprovements = "Continue practicing and studying"
	DefaultConfidence   = 5
)

// Defaults when only pattern matching could be applied.
const (
	PatternFeedback     = "Answer evaluated by AI. Please review."
	PatternStrengths    = "Shows understanding of the topic"
	PatternImprovements = "Continue studying and practicing"
	PatternConfidence   = 6
	// PatternMarksFraction of the maximum is awarded when no marks are found.
	PatternMarksFraction = 0.6
)

var (
	fenceRegex    = regexp.MustCompile("(?i)```(?:json)?\\n?")
	marksRegex    = regexp.MustCompile(`(?i)marks?["']?[:\s]*["']?(\d+(?:\.\d+)?)`)
	feedbackRegex = regexp.MustCompile(`(?i)feedback["']?[:\s]*["']?([^.]+\.?)`)
	leadingNumber = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)`)
)

var gradeKeys = []string{"marks", "feedback", "strengths", "improvements", "confidence"}

// Response parses raw into a result clamped to [0,maxMarks].
func Response(raw string, maxMarks int) model.GradingResult {
	if r, ok := Structured(raw, maxMarks); ok {
		return r
	}
	return Pattern(raw, maxMarks)
}

// Structured decodes the first balanced {...} span of raw that is a JSON
// object carrying at least one grading key.
func Structured(raw string, maxMarks int) (model.GradingResult, bool) {
	clean := strings.TrimSpace(fenceRegex.ReplaceAllString(raw, ""))
	for _, span := range Spans(clean) {
		fields, err := decodeObject(span)
		if err != nil || !hasAny(fields, gradeKeys) {
			continue
		}

		g := model.Grade{
			Feedback:     textOr(fields["feedback"], DefaultFeedback),
			Strengths:    textOr(fields["strengths"], DefaultStrengths),
			Improvements: textOr(fields["improvements"], DefaultImprovements),
			Confidence:   DefaultConfidence,
		}
		if m, ok := number(fields["marks"]); ok {
			g.Marks = roundClamp(m, maxMarks)
		}
		if c, ok := number(fields["confidence"]); ok {
			g.Confidence = roundClamp(c, model.MaxConfidence)
		}
		return model.NewGradingResult(g, maxMarks, model.MethodModel), true
	}
	return model.GradingResult{}, false
}

// Pattern extracts marks and feedback with regular expressions.
func Pattern(raw string, maxMarks int) model.GradingResult {
	g := model.Grade{
		Marks:        int(math.Floor(float64(maxMarks) * PatternMarksFraction)),
		Feedback:     PatternFeedback,
		Strengths:    PatternStrengths,
		Improvements: PatternImprovements,
		Confidence:   PatternConfidence,
	}
	if m := marksRegex.FindStringSubmatch(raw); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			g.Marks = roundClamp(f, maxMarks)
		}
	}
	if m := feedbackRegex.FindStringSubmatch(raw); m != nil {
		if fb := strings.TrimSpace(m[1]); fb != "" {
			g.Feedback = fb
		}
	}
	return model.NewGradingResult(g, maxMarks, model.MethodModel)
}

// Spans returns the top-level balanced {...} substrings of s in order.
// Braces inside JSON strings are ignored. When a span never closes, scanning
// resumes just after its opening brace.
func Spans(s string) []string {
	var spans []string
	depth, start := 0, -1
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, s[start:i+1])
			}
		}
	}
	if depth > 0 {
		spans = append(spans, Spans(s[start+1:])...)
	}
	return spans
}

func decodeObject(span string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(span)))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		fields[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return fields, nil
}

func hasAny(fields map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := fields[k]; ok {
			return true
		}
	}
	return false
}

// number accepts JSON numbers and strings starting with a number ("4", "4/5").
func number(v any) (float64, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		m := leadingNumber.FindStringSubmatch(t)
		if m == nil {
			return 0, false
		}
		s = m[1]
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// textOr renders strings, numbers and string lists; anything empty yields def.
func textOr(v any, def string) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if p := strings.TrimSpace(fmt.Sprint(item)); p != "" {
				parts = append(parts, p)
			}
		}
		s = strings.Join(parts, "; ")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// roundClamp clamps before converting so huge values cannot overflow int.
func roundClamp(f float64, hi int) int {
	return int(math.Round(model.ClampFloat(f, 0, float64(hi))))
}
