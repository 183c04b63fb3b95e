package model

import "time"

// Session is a grading session: one question paper and its submissions.
type Session struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Subject      string    `json:"subject"`
	ClassSection string    `json:"class_section"`
	CreatedAt    time.Time `json:"created_at"`
}

// SubmissionStatus tracks a submission through grading and review.
type SubmissionStatus string

const (
	StatusGraded   SubmissionStatus = "graded"
	StatusReviewed SubmissionStatus = "reviewed"
)

// Submission is a stored grading result for one student's answer image.
// The AI fields are written once; the Final fields hold a reviewer override.
type Submission struct {
	ID         int64            `json:"id"`
	SessionID  int64            `json:"session_id"`
	QuestionID int64            `json:"question_id"`
	FileName   string           `json:"file_name"`
	ImageKey   string           `json:"image_key,omitempty"`
	AI         GradingResult    `json:"ai_grades"`
	Final      *Review          `json:"final_grades,omitempty"`
	Percentage float64          `json:"percentage"`
	Grade      string           `json:"grade"`
	Status     SubmissionStatus `json:"processing_status"`
	GradedAt   time.Time        `json:"graded_at"`
	ReviewedAt *time.Time       `json:"reviewed_at,omitempty"`
}

// Marks returns the reviewed marks if present, otherwise the AI marks.
func (s Submission) Marks() int {
	if s.Final != nil {
		return s.Final.Marks
	}
	return s.AI.Marks
}

// Review is a human reviewer's override of an AI grade.
type Review struct {
	Marks        int    `json:"marks"`
	Feedback     string `json:"feedback"`
	Strengths    string `json:"strengths"`
	Improvements string `json:"improvements"`
}

// QuestionPaper is the import format for a session's questions.
type QuestionPaper struct {
	Title        string           `json:"title"`
	Subject      string           `json:"subject"`
	ClassSection string           `json:"class_section"`
	Questions    []QuestionImport `json:"questions"`
}

// QuestionImport is used for loading questions from JSON.
type QuestionImport struct {
	Number    int    `json:"question_number"`
	Text      string `json:"question_text"`
	MaxMarks  int    `json:"max_marks"`
	AnswerKey string `json:"answer_key,omitempty"`
}

// GraderConfig holds runtime grading parameters set via CLI flags.
type GraderConfig struct {
	Concurrency   int    // parallel gradings per batch
	PromptVariant string // strict, standard, lenient
	MaxUploadMB   int    // multipart upload limit
}
