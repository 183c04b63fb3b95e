package heuristic

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pavelanni/scangrader/internal/model"
)

// Band maps an answer-length range to a base score and fixed feedback.
type Band struct {
	// Below is the exclusive upper bound on answer length (in runes).
	Below        int
	Fraction     float64
	Feedback     string
	Strengths    string
	Improvements string
}

// DefaultBands is the length policy: 0, <20, <50, <100 and >=100 runes.
var DefaultBands = []Band{
	{
		Below:        1,
		Fraction:     0,
		Feedback:     "No answer provided",
		Improvements: "Please attempt to answer the question",
	},
	{
		Below:        20,
		Fraction:     0.2,
		Feedback:     "Very brief answer, needs more detail",
		Strengths:    "Attempted the question",
		Improvements: "Provide more detailed explanation",
	},
	{
		Below:        50,
		Fraction:     0.4,
		Feedback:     "Basic answer provided, could be more comprehensive",
		Strengths:    "Shows basic understanding",
		Improvements: "Add more details and examples",
	},
	{
		Below:        100,
		Fraction:     0.6,
		Feedback:     "Good attempt with reasonable detail",
		Strengths:    "Provides adequate explanation",
		Improvements: "Could include more specific details",
	},
	{
		Below:        math.MaxInt,
		Fraction:     0.85,
		Feedback:     "Comprehensive answer with good detail",
		Strengths:    "Detailed response showing good understanding",
		Improvements: "Continue with this level of detail",
	},
}

// Input is the normalised view of a question/answer pair that rules inspect.
type Input struct {
	Question model.Question
	Answer   string
	Length   int

	question string
	subject  string
	answer   string
}

// NewInput trims the answer and lower-cases the fields rules match against.
func NewInput(q model.Question, answer string) Input {
	answer = strings.TrimSpace(answer)
	return Input{
		Question: q,
		Answer:   answer,
		Length:   utf8.RuneCountInString(answer),
		question: strings.ToLower(q.Text),
		subject:  strings.ToLower(q.Subject),
		answer:   strings.ToLower(answer),
	}
}

// QuestionHas reports whether the question text contains any of words.
func (in Input) QuestionHas(words ...string) bool { return containsAny(in.question, words) }

// SubjectHas reports whether the subject contains any of words.
func (in Input) SubjectHas(words ...string) bool { return containsAny(in.subject, words) }

// AnswerHas reports whether the answer contains any of words.
func (in Input) AnswerHas(words ...string) bool { return containsAny(in.answer, words) }

// Rule is one entry of the ordered rule table. Within a non-empty Group only
// the first rule whose Applies returns true is evaluated.
type Rule struct {
	Name    string
	Group   string
	Applies func(in Input) bool
	// Apply returns the new marks and a strength fragment, empty when the
	// rule awarded nothing.
	Apply func(in Input, marks int) (int, string)
}

const (
	GroupQuestionType = "question-type"
	GroupSubject      = "subject"
)

var (
	operatorRegex = regexp.MustCompile(`[+\-*/=]`)
	yearRegex     = regexp.MustCompile(`\b\d{3,4}\b`)
)

// DefaultRules is the rule table used by New.
var DefaultRules = []Rule{
	{
		Name:    "explain",
		Group:   GroupQuestionType,
		Applies: func(in Input) bool { return in.QuestionHas("explain", "describe") },
		Apply: func(in Input, marks int) (int, string) {
			if in.Length >= 100 {
				return marks + 1, "Explains the topic at length"
			}
			return marks, ""
		},
	},
	{
		Name:    "calculate",
		Group:   GroupQuestionType,
		Applies: func(in Input) bool { return in.QuestionHas("calculate", "solve") },
		Apply: func(in Input, marks int) (int, string) {
			if !hasDigit(in.Answer) || !operatorRegex.MatchString(in.Answer) {
				return marks, ""
			}
			if in.AnswerHas("therefore", "answer is") {
				return marks + 3, "Shows mathematical working and states a conclusion"
			}
			return marks + 2, "Shows mathematical working"
		},
	},
	{
		Name:    "list",
		Group:   GroupQuestionType,
		Applies: func(in Input) bool { return in.QuestionHas("list", "name") },
		// Replaces the length-based score rather than adding to it.
		Apply: func(in Input, _ int) (int, string) {
			items := CountItems(in.Answer)
			marks := min(items*in.Question.MaxMarks/5, in.Question.MaxMarks)
			if items >= 2 {
				return marks, "Identifies several points"
			}
			return marks, ""
		},
	},
	{
		Name:    "compare",
		Group:   GroupQuestionType,
		Applies: func(in Input) bool { return in.QuestionHas("compare", "contrast") },
		Apply: func(in Input, marks int) (int, string) {
			if in.AnswerHas("similar", "different", "both", "however") {
				return marks + 1, "Draws comparisons"
			}
			return marks, ""
		},
	},
	{
		Name:    "science",
		Group:   GroupSubject,
		Applies: func(in Input) bool { return in.SubjectHas("science", "biology", "chemistry", "physics") },
		Apply: func(in Input, marks int) (int, string) {
			if in.AnswerHas("because", "due to", "causes") {
				return marks + 1, "Explains cause and effect"
			}
			return marks, ""
		},
	},
	{
		Name:    "history",
		Group:   GroupSubject,
		Applies: func(in Input) bool { return in.SubjectHas("history") },
		Apply: func(in Input, marks int) (int, string) {
			if yearRegex.MatchString(in.Answer) || in.AnswerHas("period", "time") {
				return marks + 1, "Places events in time"
			}
			return marks, ""
		},
	},
	{
		Name:    "literature",
		Group:   GroupSubject,
		Applies: func(in Input) bool { return in.SubjectHas("english", "literature") },
		Apply: func(in Input, marks int) (int, string) {
			if in.AnswerHas("author", "character", "theme") {
				return marks + 1, "Discusses literary elements"
			}
			return marks, ""
		},
	},
}

// CountItems counts the non-empty segments of a list-style answer separated
// by commas, newlines, bullets or dashes.
func CountItems(answer string) int {
	fields := strings.FieldsFunc(answer, func(r rune) bool {
		switch r {
		case ',', '\n', '•', '-':
			return true
		}
		return false
	})
	n := 0
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			n++
		}
	}
	return n
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
