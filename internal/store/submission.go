package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/scangrader/internal/model"
)

// NewSubmission is one graded answer waiting to be stored.
type NewSubmission struct {
	FileName string
	ImageKey string
	Result   model.GradingResult
}

// SaveSubmission stores a grading result verbatim for a session's question.
func (s *Store) SaveSubmission(sessionID, questionID int64, fileName, imageKey string, r model.GradingResult) (int64, error) {
	ids, err := s.SaveSubmissions(sessionID, questionID, []NewSubmission{{FileName: fileName, ImageKey: imageKey, Result: r}})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// SaveSubmissions stores a batch of grading results in one transaction.
// Either every result is stored or none is.
func (s *Store) SaveSubmissions(sessionID, questionID int64, subs []NewSubmission) ([]int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var owner int64
	err = tx.QueryRow(`SELECT session_id FROM questions WHERE id = ?`, questionID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && owner != sessionID) {
		return nil, fmt.Errorf("question %d in session %d: %w", questionID, sessionID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]int64, 0, len(subs))
	for _, sub := range subs {
		r := sub.Result
		if r.MaxMarks <= 0 || r.Method == "" {
			return nil, fmt.Errorf("submission %q: incomplete grading result", sub.FileName)
		}
		res, err := tx.Exec(
			`INSERT INTO submissions (session_id, question_id, student_name, roll_number, file_name, image_key,
				ocr_text, ocr_confidence, method, ai_marks, max_marks, ai_feedback, ai_strengths,
				ai_improvements, ai_confidence, status, graded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, questionID, r.Student.Name, r.Student.RollNumber, sub.FileName, sub.ImageKey,
			r.OCRText, r.OCRConfidence, r.Method, r.Marks, r.MaxMarks, r.Feedback, r.Strengths,
			r.Improvements, r.Confidence, model.StatusGraded, now,
		)
		if err != nil {
			return nil, fmt.Errorf("insert submission %q: %w", sub.FileName, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

const submissionColumns = `id, session_id, question_id, student_name, roll_number, file_name, image_key,
	ocr_text, ocr_confidence, method, ai_marks, max_marks, ai_feedback, ai_strengths, ai_improvements,
	ai_confidence, final_marks, final_feedback, final_strengths, final_improvements, status,
	graded_at, reviewed_at`

func scanSubmission(sc interface{ Scan(...any) error }) (model.Submission, error) {
	var (
		sub          model.Submission
		finalMarks   sql.NullInt64
		finalFeed    sql.NullString
		finalStrong  sql.NullString
		finalImprove sql.NullString
	)
	err := sc.Scan(
		&sub.ID, &sub.SessionID, &sub.QuestionID, &sub.AI.Student.Name, &sub.AI.Student.RollNumber,
		&sub.FileName, &sub.ImageKey, &sub.AI.OCRText, &sub.AI.OCRConfidence, &sub.AI.Method,
		&sub.AI.Marks, &sub.AI.MaxMarks, &sub.AI.Feedback, &sub.AI.Strengths, &sub.AI.Improvements,
		&sub.AI.Confidence, &finalMarks, &finalFeed, &finalStrong, &finalImprove, &sub.Status,
		&sub.GradedAt, &sub.ReviewedAt,
	)
	if err != nil {
		return sub, err
	}
	if finalMarks.Valid {
		sub.Final = &model.Review{
			Marks:        int(finalMarks.Int64),
			Feedback:     finalFeed.String,
			Strengths:    finalStrong.String,
			Improvements: finalImprove.String,
		}
	}
	if sub.AI.MaxMarks > 0 {
		sub.Percentage = float64(sub.Marks()) / float64(sub.AI.MaxMarks) * 100
	}
	sub.Grade = model.LetterGrade(sub.Percentage)
	return sub, nil
}

// GetSubmission returns a submission by ID.
func (s *Store) GetSubmission(id int64) (model.Submission, error) {
	return scanSubmission(s.db.QueryRow(`SELECT `+submissionColumns+` FROM submissions WHERE id = ?`, id))
}

// ListSubmissions returns a session's submissions in the order they were graded.
func (s *Store) ListSubmissions(sessionID int64) ([]model.Submission, error) {
	rows, err := s.db.Query(
		`SELECT `+submissionColumns+` FROM submissions WHERE session_id = ? ORDER BY id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subs []model.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ReviewSubmission records a reviewer's override. Marks are clamped to the
// submission's maximum; the AI grade is left untouched.
func (s *Store) ReviewSubmission(id int64, review model.Review) (model.Submission, error) {
	sub, err := s.GetSubmission(id)
	if err != nil {
		return sub, err
	}
	review.Marks = model.Clamp(review.Marks, 0, sub.AI.MaxMarks)
	_, err = s.db.Exec(
		`UPDATE submissions SET final_marks = ?, final_feedback = ?, final_strengths = ?,
			final_improvements = ?, status = ?, reviewed_at = ?
		 WHERE id = ?`,
		review.Marks, review.Feedback, review.Strengths, review.Improvements,
		model.StatusReviewed, time.Now().UTC(), id,
	)
	if err != nil {
		return sub, fmt.Errorf("update submission %d: %w", id, err)
	}
	return s.GetSubmission(id)
}

// Summary aggregates a session's submissions, using reviewed marks where a
// reviewer has overridden the AI grade.
func (s *Store) Summary(sessionID int64) (model.BatchSummary, error) {
	subs, err := s.ListSubmissions(sessionID)
	if err != nil {
		return model.BatchSummary{}, err
	}
	return summarize(subs), nil
}

func summarize(subs []model.Submission) model.BatchSummary {
	results := make([]model.GradingResult, 0, len(subs))
	for _, sub := range subs {
		r := sub.AI
		r.Marks = sub.Marks()
		results = append(results, r)
	}
	return model.Summarize(results)
}
