package store

import (
	"database/sql"
	"time"

	"github.com/pavelanni/scangrader/internal/model"
)

const (
	metaPromptVariant = "prompt_variant"
	metaModel         = "llm_model"
)

// SetMetadata upserts a key-value pair in the metadata table.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMetadata returns the value for a metadata key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetGraderInfo records the prompt variant and model used for grading.
func (s *Store) SetGraderInfo(info model.GraderInfo) error {
	if err := s.SetMetadata(metaPromptVariant, info.PromptVariant); err != nil {
		return err
	}
	return s.SetMetadata(metaModel, info.Model)
}

// GraderInfo returns the grading settings stored by SetGraderInfo.
func (s *Store) GraderInfo() (model.GraderInfo, error) {
	variant, err := s.GetMetadata(metaPromptVariant)
	if err != nil {
		return model.GraderInfo{}, err
	}
	m, err := s.GetMetadata(metaModel)
	if err != nil {
		return model.GraderInfo{}, err
	}
	return model.GraderInfo{PromptVariant: variant, Model: m}, nil
}

// GetImportedFileHash returns the sha256 recorded for an imported question
// paper, or "" if the file was never imported.
func (s *Store) GetImportedFileHash(path string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT sha256 FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the hash of an imported file and the session
// it produced.
func (s *Store) SetImportedFileHash(path, hash string, sessionID int64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO imported_files (path, sha256, session_id, imported_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = ?, session_id = ?, imported_at = ?`,
		path, hash, sessionID, now, hash, sessionID, now,
	)
	return err
}
