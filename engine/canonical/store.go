// Package canonical owns the relational source of truth for QA pairs. The
// vector collection only ever points back here; answers are never served
// from vector payloads.
package canonical

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/shamgpt/shamgpt/engine/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS qa_pairs (
	qa_id         TEXT PRIMARY KEY,
	question_text TEXT NOT NULL UNIQUE,
	answer_text   TEXT NOT NULL,
	confidence    REAL NOT NULL DEFAULT 0,
	source        TEXT NOT NULL,
	language      TEXT NOT NULL DEFAULT 'ar',
	created_at    DATETIME NOT NULL,
	metadata      TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_qa_pairs_source ON qa_pairs(source);
CREATE INDEX IF NOT EXISTS idx_qa_pairs_created ON qa_pairs(created_at);
`

// Store is a SQLite-backed repository of canonical QA pairs.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The WAL pragmas follow the usual single-writer SQLite setup.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("canonical: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("canonical: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("canonical: ping: %w", err)
	}
	return nil
}

// Create inserts a new pair. Returns domain.ErrDuplicateID when the qa_id
// already exists and domain.ErrConflict when another pair already holds the
// same question text.
func (s *Store) Create(ctx context.Context, pair domain.QAPair) error {
	meta, err := encodeMetadata(pair.Metadata)
	if err != nil {
		return fmt.Errorf("canonical: create %s: %w", pair.ID, err)
	}
	createdAt := pair.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO qa_pairs (qa_id, question_text, answer_text, confidence, source, language, created_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		pair.ID, pair.QuestionText, pair.AnswerText, pair.Confidence,
		string(pair.Source), string(pair.Language), createdAt, meta,
	)
	if err != nil {
		return fmt.Errorf("canonical: create %s: %w", pair.ID, mapConstraint(err))
	}
	return nil
}

// Get fetches a pair by id. Returns domain.ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, qaID string) (domain.QAPair, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT qa_id, question_text, answer_text, confidence, source, language, created_at, metadata
		FROM qa_pairs WHERE qa_id = ?`, qaID)
	pair, err := scanPair(row)
	if err != nil {
		return domain.QAPair{}, fmt.Errorf("canonical: get %s: %w", qaID, err)
	}
	return pair, nil
}

// FindByQuestionText fetches the pair whose question text matches exactly.
// Returns domain.ErrNotFound when absent.
func (s *Store) FindByQuestionText(ctx context.Context, question string) (domain.QAPair, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT qa_id, question_text, answer_text, confidence, source, language, created_at, metadata
		FROM qa_pairs WHERE question_text = ?`, question)
	pair, err := scanPair(row)
	if err != nil {
		return domain.QAPair{}, fmt.Errorf("canonical: find by question: %w", err)
	}
	return pair, nil
}

// ListRecent returns up to limit pairs, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]domain.QAPair, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT qa_id, question_text, answer_text, confidence, source, language, created_at, metadata
		FROM qa_pairs ORDER BY created_at DESC, qa_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("canonical: list recent: %w", err)
	}
	defer rows.Close()

	var pairs []domain.QAPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("canonical: list recent: %w", err)
		}
		pairs = append(pairs, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canonical: list recent: %w", err)
	}
	return pairs, nil
}

// CountBySource returns the pair count per source, plus the total under the
// empty key.
func (s *Store) CountBySource(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source, COUNT(*) FROM qa_pairs GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("canonical: count by source: %w", err)
	}
	defer rows.Close()

	counts := map[string]int64{}
	var total int64
	for rows.Next() {
		var source string
		var n int64
		if err := rows.Scan(&source, &n); err != nil {
			return nil, fmt.Errorf("canonical: count by source: %w", err)
		}
		counts[source] = n
		total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("canonical: count by source: %w", err)
	}
	counts[""] = total
	return counts, nil
}

// UpdateMetadata merges patch into the pair's metadata map. Keys in patch
// overwrite existing keys; other keys are kept. Returns domain.ErrNotFound
// when the pair is absent.
func (s *Store) UpdateMetadata(ctx context.Context, qaID string, patch map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("canonical: update metadata %s: %w", qaID, err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT metadata FROM qa_pairs WHERE qa_id = ?`, qaID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("canonical: update metadata %s: %w", qaID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("canonical: update metadata %s: %w", qaID, err)
	}

	merged := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range patch {
		merged[k] = v
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("canonical: update metadata %s: %w", qaID, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE qa_pairs SET metadata = ? WHERE qa_id = ?`, string(out), qaID); err != nil {
		return fmt.Errorf("canonical: update metadata %s: %w", qaID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("canonical: update metadata %s: %w", qaID, err)
	}
	return nil
}

// Delete removes a pair. Returns domain.ErrNotFound when absent.
func (s *Store) Delete(ctx context.Context, qaID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM qa_pairs WHERE qa_id = ?`, qaID)
	if err != nil {
		return fmt.Errorf("canonical: delete %s: %w", qaID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("canonical: delete %s: %w", qaID, err)
	}
	if n == 0 {
		return fmt.Errorf("canonical: delete %s: %w", qaID, domain.ErrNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPair(row scanner) (domain.QAPair, error) {
	var pair domain.QAPair
	var source, language, meta string
	err := row.Scan(&pair.ID, &pair.QuestionText, &pair.AnswerText, &pair.Confidence,
		&source, &language, &pair.CreatedAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QAPair{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.QAPair{}, err
	}
	pair.Source = domain.Source(source)
	pair.Language = domain.Language(language)
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &pair.Metadata); err != nil {
			pair.Metadata = nil
		}
	}
	return pair, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// mapConstraint converts SQLite unique-constraint failures into domain
// sentinels: a qa_id collision is a duplicate, a question_text collision is
// a conflicting write of the same question.
func mapConstraint(err error) error {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return err
	}
	if strings.Contains(msg, "qa_pairs.qa_id") {
		return domain.ErrDuplicateID
	}
	if strings.Contains(msg, "qa_pairs.question_text") {
		return domain.ErrConflict
	}
	return domain.ErrConflict
}
