package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/scangrader/internal/model"
)

// Templates holds the built-in grading prompts.
//
//go:embed prompts/*.txt
var Templates embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// PromptVariant represents a grading prompt variant.
type PromptVariant string

const (
	// PromptStrict grades strictly, for final examinations.
	PromptStrict PromptVariant = "strict"
	// PromptStandard is the default grading variant.
	PromptStandard PromptVariant = "standard"
	// PromptLenient favours partial credit, for practice work.
	PromptLenient PromptVariant = "lenient"
)

var tones = map[PromptVariant]string{
	PromptStrict:   "Grade strictly: award marks only for content that is clearly correct and explicitly stated.",
	PromptStandard: "Grade as a fair classroom teacher would.",
	PromptLenient:  "Grade generously: reward understanding even when the wording is imprecise or incomplete.",
}

const (
	withKeyFile    = "prompts/grade_with_key.txt"
	withoutKeyFile = "prompts/grade_without_key.txt"
	sharedFile     = "prompts/shared.txt"

	defaultSubject = "General"
	maxAnswerRunes = 10000
)

var (
	loadOnce   sync.Once
	loadErr    error
	withKey    *template.Template
	withoutKey *template.Template
)

// IsValidVariant checks if a prompt variant name is valid.
func IsValidVariant(v string) bool {
	_, ok := tones[PromptVariant(v)]
	return ok
}

// GradeData holds template data for grading prompts.
type GradeData struct {
	QuestionText string
	Subject      string
	MaxMarks     int
	AnswerKey    string
	Answer       string
	Tone         string
}

// Load parses the grading templates from fsys.
// It uses sync.Once to ensure templates are loaded only once.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		withKey, loadErr = parse(fsys, withKeyFile)
		if loadErr != nil {
			return
		}
		withoutKey, loadErr = parse(fsys, withoutKeyFile)
	})
	return loadErr
}

func parse(fsys fs.FS, file string) (*template.Template, error) {
	tmpl, err := template.ParseFS(fsys, sharedFile, file)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", file, err)
	}
	return tmpl, nil
}

// BuildGradePrompt builds the grading prompt for an OCR-extracted answer.
// Questions with an answer key use the keyed template; the rest ask the
// model to rely on its own subject knowledge. Both request the same JSON shape.
func BuildGradePrompt(variant PromptVariant, question model.Question, answer string) (string, error) {
	if withKey == nil || withoutKey == nil {
		if loadErr != nil {
			return "", fmt.Errorf("templates load failed: %w", loadErr)
		}
		return "", errors.New("templates not initialized: call Load first")
	}
	tone, ok := tones[variant]
	if !ok {
		return "", errors.New("invalid prompt variant: " + string(variant))
	}

	subject := strings.TrimSpace(question.Subject)
	if subject == "" {
		subject = defaultSubject
	}

	data := GradeData{
		QuestionText: strings.TrimSpace(question.Text),
		Subject:      subject,
		MaxMarks:     question.MaxMarks,
		AnswerKey:    strings.TrimSpace(question.AnswerKey),
		Answer:       sanitizeAnswer(answer),
		Tone:         tone,
	}

	tmpl, file := withoutKey, withoutKeyFile
	if data.AnswerKey != "" {
		tmpl, file = withKey, withKeyFile
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, path.Base(file), data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeAnswer(answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return "[No answer provided]"
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		runes = runes[:maxAnswerRunes]
		answer = string(runes) + "\n\n[Answer truncated due to length]"
	}

	return answer
}
