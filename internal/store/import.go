package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pavelanni/scangrader/internal/model"
)

// ImportPaper creates a session from a question paper file. A file whose
// content was already imported under the same path is skipped, and the
// session it produced earlier is returned with skipped set.
func (s *Store) ImportPaper(path string, data []byte) (sessionID int64, skipped bool, err error) {
	hash := sha256sum(data)

	var storedHash string
	err = s.db.QueryRow(
		`SELECT sha256, session_id FROM imported_files WHERE path = ?`, path,
	).Scan(&storedHash, &sessionID)
	if err != nil && err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("question paper unchanged, skipping", "path", path, "session", sessionID)
		return sessionID, true, nil
	}
	if storedHash != "" {
		slog.Info("question paper changed since last import, creating a new session", "path", path)
	}

	var paper model.QuestionPaper
	if err := json.Unmarshal(data, &paper); err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", path, err)
	}
	sessionID, err = s.ImportQuestionPaper(paper)
	if err != nil {
		return 0, false, fmt.Errorf("import %s: %w", path, err)
	}
	if err := s.SetImportedFileHash(path, hash, sessionID); err != nil {
		return 0, false, fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported question paper", "path", path, "session", sessionID, "questions", len(paper.Questions))
	return sessionID, false, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
