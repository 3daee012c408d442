// Package store persists interrogation transcripts in SQLite. Transcripts
// outlive the bounded per-suspect chat history, so a full record of every
// playthrough survives for review.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Phaedra-DevGroup/bishopgame/internal/logging"
)

// TranscriptStore records interrogation turns keyed by playthrough session.
type TranscriptStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Turn is one recorded line of an interrogation.
type Turn struct {
	ID        int64
	SessionID string
	SuspectID int
	Day       int
	Role      string // "user" or "assistant"
	Content   string
	Emotion   string // only set on assistant turns
	CreatedAt time.Time
}

// NewTranscriptStore opens (or creates) the transcript database at path.
func NewTranscriptStore(path string) (*TranscriptStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewTranscriptStore")
	defer timer.Stop()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Store("failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Store("failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Store("failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &TranscriptStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("transcript store opened at %s", path)
	return s, nil
}

func (s *TranscriptStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript_turns (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		suspect_id  INTEGER NOT NULL,
		day         INTEGER NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		emotion     TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON transcript_turns(session_id);
	CREATE INDEX IF NOT EXISTS idx_turns_suspect ON transcript_turns(session_id, suspect_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		started_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		outcome     TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// NewSession registers a new playthrough and returns its ID.
func (s *TranscriptStore) NewSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if _, err := s.db.Exec(`INSERT INTO sessions (id) VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	logging.Store("new session %s", id)
	return id, nil
}

// RecordTurn appends one interrogation line to a session's transcript.
func (s *TranscriptStore) RecordTurn(sessionID string, suspectID, day int, role, content, emotion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO transcript_turns (session_id, suspect_id, day, role, content, emotion)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, suspectID, day, role, content, emotion,
	)
	if err != nil {
		logging.StoreError("record turn failed: %v", err)
		return fmt.Errorf("failed to record turn: %w", err)
	}
	return nil
}

// SetOutcome records how a session ended ("win" or "lose").
func (s *TranscriptStore) SetOutcome(sessionID, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`UPDATE sessions SET outcome = ? WHERE id = ?`, outcome, sessionID); err != nil {
		return fmt.Errorf("failed to set outcome: %w", err)
	}
	return nil
}

// Turns returns a session's transcript in order. suspectID 0 returns every
// suspect's turns.
func (s *TranscriptStore) Turns(sessionID string, suspectID int) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id, session_id, suspect_id, day, role, content, emotion, created_at
		FROM transcript_turns WHERE session_id = ?`
	args := []interface{}{sessionID}
	if suspectID != 0 {
		query += ` AND suspect_id = ?`
		args = append(args, suspectID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.SessionID, &t.SuspectID, &t.Day, &t.Role, &t.Content, &t.Emotion, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// LatestSession returns the most recently started session ID, or empty
// string when none exist.
func (s *TranscriptStore) LatestSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRow(`SELECT id FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query latest session: %w", err)
	}
	return id, nil
}

// Sessions returns all session IDs with their outcomes, newest first.
func (s *TranscriptStore) Sessions() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, outcome FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]string)
	for rows.Next() {
		var id, outcome string
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions[id] = outcome
	}
	return sessions, rows.Err()
}

// Close closes the underlying database.
func (s *TranscriptStore) Close() error {
	return s.db.Close()
}
