package model

import "time"

// SessionExport is the top-level JSON structure for result export.
type SessionExport struct {
	Session     Session          `json:"session"`
	Questions   []Question       `json:"questions"`
	Submissions []SubmissionView `json:"submissions"`
	Summary     BatchSummary     `json:"summary"`
	Grader      GraderInfo       `json:"grader"`
}

// GraderInfo records the grading settings the server last ran with.
type GraderInfo struct {
	PromptVariant string `json:"prompt_variant,omitempty"`
	Model         string `json:"model,omitempty"`
}

// SubmissionView flattens a submission for export and review listings.
type SubmissionView struct {
	ID             int64      `json:"id"`
	QuestionNumber int        `json:"question_number"`
	StudentName    string     `json:"student_name"`
	RollNumber     string     `json:"roll_number"`
	FileName       string     `json:"file_name"`
	OCRText        string     `json:"ocr_text"`
	OCRConfidence  float64    `json:"ocr_confidence"`
	AIMarks        int        `json:"ai_marks"`
	AIConfidence   int        `json:"ai_confidence"`
	Method         Method     `json:"method"`
	FinalMarks     int        `json:"final_marks"`
	MaxMarks       int        `json:"max_marks"`
	Feedback       string     `json:"feedback"`
	Percentage     float64    `json:"percentage"`
	Grade          string     `json:"grade"`
	GradedAt       time.Time  `json:"graded_at"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
}
