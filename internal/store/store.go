// Package store persists dictation settings and transcripts in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

const (
	RetentionEphemeral  = "ephemeral"
	RetentionSession    = "session"
	RetentionPersistent = "persistent"
)

const keySelectedModel = "selected_model"

// Transcript is one finalized utterance.
type Transcript struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ModelPath string    `json:"model_path"`
	ModelType string    `json:"model_type"`
	Text      string    `json:"text"`
	AudioMS   int64     `json:"audio_ms"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps the SQLite database. In ephemeral mode it keeps nothing and
// every read is empty.
type Store struct {
	db    *sql.DB
	cfg   config.StoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "store"))
	if cfg.RetentionMode == RetentionEphemeral {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("store vacuum failed", slog.String("error", err.Error()))
		}
	}
	if err := s.Prune(ctx); err != nil {
		log.Warn("store prune on start failed", slog.String("error", err.Error()))
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS model_order (
    path TEXT PRIMARY KEY,
    position INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    model_path TEXT,
    model_type TEXT,
    text TEXT NOT NULL,
    audio_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == RetentionEphemeral || s.db == nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveModelOrder replaces the persisted model order with paths.
func (s *Store) SaveModelOrder(ctx context.Context, paths []string) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM model_order`); err != nil {
		return err
	}
	for i, path := range paths {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO model_order(path, position) VALUES(?, ?)
			 ON CONFLICT(path) DO NOTHING`, path, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ModelOrder returns the persisted model paths in user order.
func (s *Store) ModelOrder(ctx context.Context) ([]string, error) {
	if s.disabled() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM model_order ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// SetSelectedModel records the path of the active model.
func (s *Store) SetSelectedModel(ctx context.Context, path string) error {
	return s.setSetting(ctx, keySelectedModel, path)
}

// SelectedModel returns the recorded model path, or "" if none.
func (s *Store) SelectedModel(ctx context.Context) (string, error) {
	return s.setting(ctx, keySelectedModel)
}

func (s *Store) setSetting(ctx context.Context, key, value string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.clock().UTC().UnixMilli())
	return err
}

func (s *Store) setting(ctx context.Context, key string) (string, error) {
	if s.disabled() {
		return "", nil
	}
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// AppendTranscript writes t, assigning an ID and timestamp when missing.
func (s *Store) AppendTranscript(ctx context.Context, t Transcript) (Transcript, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.clock().UTC()
	}
	if s.disabled() {
		return t, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, session_id, model_path, model_type, text, audio_ms, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.ModelPath, t.ModelType, t.Text, t.AudioMS, t.CreatedAt.UnixMilli())
	return t, err
}

// ListTranscripts returns up to limit transcripts, newest first. An empty
// sessionID lists across sessions.
func (s *Store) ListTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, session_id, model_path, model_type, text, audio_ms, created_at FROM transcripts`
	args := []any{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var t Transcript
		var path, typ sql.NullString
		var created int64
		if err := rows.Scan(&t.ID, &t.SessionID, &path, &typ, &t.Text, &t.AudioMS, &created); err != nil {
			return nil, err
		}
		t.ModelPath = path.String
		t.ModelType = typ.String
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff.UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxTranscripts > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE id IN (
			SELECT id FROM transcripts ORDER BY created_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxTranscripts)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
