package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/scangrader/internal/model"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		class_section TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		text TEXT NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		max_marks INTEGER NOT NULL DEFAULT 10,
		answer_key TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		question_id INTEGER NOT NULL,
		student_name TEXT NOT NULL DEFAULT '',
		roll_number TEXT NOT NULL DEFAULT '',
		file_name TEXT NOT NULL DEFAULT '',
		image_key TEXT NOT NULL DEFAULT '',
		ocr_text TEXT NOT NULL DEFAULT '',
		ocr_confidence REAL NOT NULL DEFAULT 0,
		method TEXT NOT NULL,
		ai_marks INTEGER NOT NULL DEFAULT 0,
		max_marks INTEGER NOT NULL,
		ai_feedback TEXT NOT NULL DEFAULT '',
		ai_strengths TEXT NOT NULL DEFAULT '',
		ai_improvements TEXT NOT NULL DEFAULT '',
		ai_confidence INTEGER NOT NULL DEFAULT 1,
		final_marks INTEGER,
		final_feedback TEXT,
		final_strengths TEXT,
		final_improvements TEXT,
		status TEXT NOT NULL DEFAULT 'graded',
		graded_at DATETIME NOT NULL,
		reviewed_at DATETIME,
		FOREIGN KEY (session_id) REFERENCES sessions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		session_id INTEGER NOT NULL DEFAULT 0,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateSession stores a session and returns its ID.
func (s *Store) CreateSession(sess model.Session) (int64, error) {
	if strings.TrimSpace(sess.Name) == "" {
		return 0, fmt.Errorf("session name is required")
	}
	res, err := s.db.Exec(
		`INSERT INTO sessions (name, subject, class_section, created_at) VALUES (?, ?, ?, ?)`,
		sess.Name, sess.Subject, sess.ClassSection, time.Now().UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetSession returns a session by ID.
func (s *Store) GetSession(id int64) (model.Session, error) {
	var sess model.Session
	err := s.db.QueryRow(
		`SELECT id, name, subject, class_section, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Name, &sess.Subject, &sess.ClassSection, &sess.CreatedAt)
	return sess, err
}

// ListSessions returns all sessions, newest first.
func (s *Store) ListSessions() ([]model.Session, error) {
	rows, err := s.db.Query(`SELECT id, name, subject, class_section, created_at FROM sessions ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		if err := rows.Scan(&sess.ID, &sess.Name, &sess.Subject, &sess.ClassSection, &sess.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// InsertQuestion stores a question in its session.
func (s *Store) InsertQuestion(q model.Question) (int64, error) {
	if q.MaxMarks <= 0 {
		return 0, fmt.Errorf("question %d: max marks must be positive", q.Number)
	}
	res, err := s.db.Exec(
		`INSERT INTO questions (session_id, number, text, subject, max_marks, answer_key)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.SessionID, q.Number, q.Text, q.Subject, q.MaxMarks, q.AnswerKey,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const questionColumns = `id, session_id, number, text, subject, max_marks, answer_key`

func scanQuestion(sc interface{ Scan(...any) error }) (model.Question, error) {
	var q model.Question
	err := sc.Scan(&q.ID, &q.SessionID, &q.Number, &q.Text, &q.Subject, &q.MaxMarks, &q.AnswerKey)
	return q, err
}

// ListQuestions returns a session's questions in paper order.
func (s *Store) ListQuestions(sessionID int64) ([]model.Question, error) {
	rows, err := s.db.Query(
		`SELECT `+questionColumns+` FROM questions WHERE session_id = ? ORDER BY number, id`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// GetQuestion returns a question by ID.
func (s *Store) GetQuestion(id int64) (model.Question, error) {
	return scanQuestion(s.db.QueryRow(`SELECT `+questionColumns+` FROM questions WHERE id = ?`, id))
}

// ImportQuestionPaper creates a session holding the paper's questions.
func (s *Store) ImportQuestionPaper(paper model.QuestionPaper) (int64, error) {
	if strings.TrimSpace(paper.Title) == "" {
		return 0, fmt.Errorf("question paper title is required")
	}
	if len(paper.Questions) == 0 {
		return 0, fmt.Errorf("question paper %q has no questions", paper.Title)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO sessions (name, subject, class_section, created_at) VALUES (?, ?, ?, ?)`,
		paper.Title, paper.Subject, paper.ClassSection, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert session: %w", err)
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, qi := range paper.Questions {
		number := qi.Number
		if number == 0 {
			number = i + 1
		}
		if strings.TrimSpace(qi.Text) == "" {
			return 0, fmt.Errorf("question %d: text is required", number)
		}
		if qi.MaxMarks <= 0 {
			return 0, fmt.Errorf("question %d: max marks must be positive", number)
		}
		_, err := tx.Exec(
			`INSERT INTO questions (session_id, number, text, subject, max_marks, answer_key)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sessionID, number, qi.Text, paper.Subject, qi.MaxMarks, qi.AnswerKey,
		)
		if err != nil {
			return 0, fmt.Errorf("insert question %d: %w", number, err)
		}
	}

	return sessionID, tx.Commit()
}
