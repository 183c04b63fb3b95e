package store

import (
	"fmt"

	"github.com/pavelanni/scangrader/internal/model"
)

// ExportSession builds the export view of one session.
func (s *Store) ExportSession(sessionID int64) (model.SessionExport, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return model.SessionExport{}, err
	}
	questions, err := s.ListQuestions(sessionID)
	if err != nil {
		return model.SessionExport{}, fmt.Errorf("list questions: %w", err)
	}
	subs, err := s.ListSubmissions(sessionID)
	if err != nil {
		return model.SessionExport{}, fmt.Errorf("list submissions: %w", err)
	}

	grader, err := s.GraderInfo()
	if err != nil {
		return model.SessionExport{}, fmt.Errorf("grader info: %w", err)
	}

	numbers := make(map[int64]int, len(questions))
	for _, q := range questions {
		numbers[q.ID] = q.Number
	}

	views := make([]model.SubmissionView, 0, len(subs))
	for _, sub := range subs {
		feedback := sub.AI.Feedback
		if sub.Final != nil && sub.Final.Feedback != "" {
			feedback = sub.Final.Feedback
		}
		views = append(views, model.SubmissionView{
			ID:             sub.ID,
			QuestionNumber: numbers[sub.QuestionID],
			StudentName:    sub.AI.Student.Name,
			RollNumber:     sub.AI.Student.RollNumber,
			FileName:       sub.FileName,
			OCRText:        sub.AI.OCRText,
			OCRConfidence:  sub.AI.OCRConfidence,
			AIMarks:        sub.AI.Marks,
			AIConfidence:   sub.AI.Confidence,
			Method:         sub.AI.Method,
			FinalMarks:     sub.Marks(),
			MaxMarks:       sub.AI.MaxMarks,
			Feedback:       feedback,
			Percentage:     sub.Percentage,
			Grade:          sub.Grade,
			GradedAt:       sub.GradedAt,
			ReviewedAt:     sub.ReviewedAt,
		})
	}

	return model.SessionExport{
		Session:     sess,
		Questions:   questions,
		Submissions: views,
		Summary:     summarize(subs),
		Grader:      grader,
	}, nil
}

// ExportAllSessions builds export views for every session.
func (s *Store) ExportAllSessions() ([]model.SessionExport, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var results []model.SessionExport
	for _, sess := range sessions {
		exp, err := s.ExportSession(sess.ID)
		if err != nil {
			return nil, fmt.Errorf("export session %d: %w", sess.ID, err)
		}
		results = append(results, exp)
	}
	return results, nil
}
