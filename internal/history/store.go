// Package history keeps a sqlite record of capture attempts and the
// segments they produced.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"github.com/smazurov/omnicapture/internal/events"
)

const defaultTimeout = 5 * time.Second

// ErrNotFound is returned when an attempt does not exist.
var ErrNotFound = errors.New("capture attempt not found")

// Outcome of a capture attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeStopped   Outcome = "stopped"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one finished capture attempt.
type Attempt struct {
	ID              int64     `json:"id"`
	Attempt         int       `json:"attempt"`
	SessionID       string    `json:"sessionId"`
	Outcome         Outcome   `json:"outcome"`
	Step            string    `json:"step,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	Frames          int       `json:"frames"`
	DroppedFrames   int       `json:"droppedFrames"`
	Segments        int       `json:"segments"`
	DurationSeconds float64   `json:"durationSeconds"`
	Output          string    `json:"output,omitempty"`
	OutputFormat    string    `json:"outputFormat,omitempty"`
	Codec           string    `json:"codec,omitempty"`
	Summary         string    `json:"summary"`
	Warnings        []string  `json:"warnings,omitempty"`
	FinishedAt      time.Time `json:"finishedAt"`

	SegmentList []Segment `json:"segmentList,omitempty"`
}

// Segment is one closed segment of an attempt.
type Segment struct {
	Index            int       `json:"index"`
	Directory        string    `json:"directory"`
	BaseName         string    `json:"baseName"`
	Frames           int       `json:"frames"`
	DroppedFrames    int       `json:"droppedFrames"`
	HasImageSequence bool      `json:"hasImageSequence"`
	AudioPath        string    `json:"audioPath,omitempty"`
	VideoPath        string    `json:"videoPath,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Store is the capture history database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path. The parent directory is
// created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		attempt INTEGER NOT NULL,
		session_id TEXT NOT NULL UNIQUE,
		outcome TEXT NOT NULL,
		step TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		frames INTEGER NOT NULL DEFAULT 0,
		dropped_frames INTEGER NOT NULL DEFAULT 0,
		segments INTEGER NOT NULL DEFAULT 0,
		duration_seconds REAL NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		output_format TEXT NOT NULL DEFAULT '',
		codec TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		warnings TEXT NOT NULL DEFAULT '[]',
		finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_finished ON attempts(finished_at);

	CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		directory TEXT NOT NULL,
		base_name TEXT NOT NULL,
		frames INTEGER NOT NULL DEFAULT 0,
		dropped_frames INTEGER NOT NULL DEFAULT 0,
		has_image_sequence INTEGER NOT NULL DEFAULT 0,
		audio_path TEXT NOT NULL DEFAULT '',
		video_path TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE(session_id, idx)
	);

	CREATE INDEX IF NOT EXISTS idx_segments_session ON segments(session_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordCompleted stores a finished attempt.
func (s *Store) RecordCompleted(ctx context.Context, e events.CaptureCompletedEvent) error {
	outcome := OutcomeCompleted
	if !e.Finalized {
		outcome = OutcomeStopped
	}
	return s.insertAttempt(ctx, Attempt{
		Attempt:         e.AttemptID,
		SessionID:       e.SessionID,
		Outcome:         outcome,
		Frames:          e.Frames,
		DroppedFrames:   e.DroppedFrames,
		Segments:        e.Segments,
		DurationSeconds: e.DurationSeconds,
		Output:          e.Output,
		OutputFormat:    e.OutputFormat,
		Codec:           e.Codec,
		Summary:         e.Summary,
		Warnings:        e.Warnings,
		FinishedAt:      parseTimestamp(e.Timestamp),
	})
}

// RecordFailed stores an aborted attempt.
func (s *Store) RecordFailed(ctx context.Context, e events.CaptureFailedEvent) error {
	return s.insertAttempt(ctx, Attempt{
		Attempt:         e.AttemptID,
		SessionID:       e.SessionID,
		Outcome:         OutcomeFailed,
		Step:            e.Step,
		Reason:          e.Reason,
		DurationSeconds: e.DurationSeconds,
		Summary:         e.Summary,
		FinishedAt:      parseTimestamp(e.Timestamp),
	})
}

func (s *Store) insertAttempt(ctx context.Context, a Attempt) error {
	warnings, err := json.Marshal(a.Warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO attempts (attempt, session_id, outcome, step, reason, frames, dropped_frames,
			segments, duration_seconds, output, output_format, codec, summary, warnings, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		a.Attempt, a.SessionID, a.Outcome, a.Step, a.Reason, a.Frames, a.DroppedFrames,
		a.Segments, a.DurationSeconds, a.Output, a.OutputFormat, a.Codec, a.Summary,
		string(warnings), a.FinishedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert attempt %s: %w", a.SessionID, err)
	}
	return nil
}

// RecordSegment stores a closed segment.
func (s *Store) RecordSegment(ctx context.Context, e events.SegmentCompletedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO segments (session_id, idx, directory, base_name, frames, dropped_frames,
			has_image_sequence, audio_path, video_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, idx) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		e.SessionID, e.Index, e.Directory, e.BaseName, e.Frames, e.DroppedFrames,
		e.HasImageSequence, e.AudioPath, e.VideoPath, parseTimestamp(e.Timestamp).Unix())
	if err != nil {
		return fmt.Errorf("insert segment %d of %s: %w", e.Index, e.SessionID, err)
	}
	return nil
}

const attemptColumns = `id, attempt, session_id, outcome, step, reason, frames, dropped_frames,
	segments, duration_seconds, output, output_format, codec, summary, warnings, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row scanner) (Attempt, error) {
	var a Attempt
	var warnings string
	var finished int64
	err := row.Scan(&a.ID, &a.Attempt, &a.SessionID, &a.Outcome, &a.Step, &a.Reason,
		&a.Frames, &a.DroppedFrames, &a.Segments, &a.DurationSeconds, &a.Output,
		&a.OutputFormat, &a.Codec, &a.Summary, &warnings, &finished)
	if err != nil {
		return a, err
	}
	a.FinishedAt = time.Unix(finished, 0).UTC()
	if warnings != "" {
		if err := json.Unmarshal([]byte(warnings), &a.Warnings); err != nil {
			return a, fmt.Errorf("decode warnings of attempt %d: %w", a.ID, err)
		}
	}
	return a, nil
}

// List returns the newest attempts first. A limit of zero or less returns
// every attempt.
func (s *Store) List(ctx context.Context, limit int) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT " + attemptColumns + " FROM attempts ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Get returns one attempt with its segments.
func (s *Store) Get(ctx context.Context, id int64) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+attemptColumns+" FROM attempts WHERE id = ?", id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Attempt{}, fmt.Errorf("failed to get attempt %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, directory, base_name, frames, dropped_frames, has_image_sequence,
			audio_path, video_path, created_at
		FROM segments WHERE session_id = ? ORDER BY idx`, a.SessionID)
	if err != nil {
		return Attempt{}, fmt.Errorf("failed to get segments of attempt %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var seg Segment
		var created int64
		if err := rows.Scan(&seg.Index, &seg.Directory, &seg.BaseName, &seg.Frames,
			&seg.DroppedFrames, &seg.HasImageSequence, &seg.AudioPath, &seg.VideoPath, &created); err != nil {
			return Attempt{}, err
		}
		seg.CreatedAt = time.Unix(created, 0).UTC()
		a.SegmentList = append(a.SegmentList, seg)
	}
	return a, rows.Err()
}

func parseTimestamp(ts string) time.Time {
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Now()
}
