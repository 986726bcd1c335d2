// Package storage provides SQLite implementation of the Repository interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/bami/internal/models"
)

// SQLiteStorage implements Repository using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cases (
		id TEXT PRIMARY KEY,
		product TEXT NOT NULL,
		channel TEXT,
		owner TEXT,
		stage TEXT NOT NULL,
		percent INTEGER NOT NULL,
		missing TEXT,
		uploaded TEXT,
		timeline TEXT,
		applicant TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cases_created_at ON cases(created_at);

	CREATE TABLE IF NOT EXISTS chat_messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chat_case_id ON chat_messages(case_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// caseColumns holds the JSON-encoded collection fields of a case.
type caseColumns struct {
	missing, uploaded, timeline, applicant string
}

func encodeCase(c *models.Case) (caseColumns, error) {
	var cols caseColumns
	fields := []struct {
		dst *string
		v   interface{}
	}{
		{&cols.missing, c.Missing},
		{&cols.uploaded, c.Uploaded},
		{&cols.timeline, c.Timeline},
		{&cols.applicant, c.Applicant},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return cols, fmt.Errorf("failed to marshal case %s: %w", c.ID, err)
		}
		*f.dst = string(b)
	}
	return cols, nil
}

func decodeCase(c *models.Case, cols caseColumns) error {
	fields := []struct {
		src string
		v   interface{}
	}{
		{cols.missing, &c.Missing},
		{cols.uploaded, &c.Uploaded},
		{cols.timeline, &c.Timeline},
		{cols.applicant, &c.Applicant},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.v); err != nil {
			return fmt.Errorf("failed to unmarshal case %s: %w", c.ID, err)
		}
	}
	if c.Missing == nil {
		c.Missing = []string{}
	}
	if c.Uploaded == nil {
		c.Uploaded = map[string]models.Upload{}
	}
	if c.Applicant == nil {
		c.Applicant = map[string]interface{}{}
	}
	return nil
}

// CreateCase inserts a case.
func (s *SQLiteStorage) CreateCase(ctx context.Context, c *models.Case) error {
	cols, err := encodeCase(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cases (id, product, channel, owner, stage, percent, missing, uploaded, timeline, applicant, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Product, c.Channel, c.Owner, string(c.Stage), c.Percent,
		cols.missing, cols.uploaded, cols.timeline, cols.applicant, c.CreatedAt,
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return fmt.Errorf("%w: %s", ErrExists, c.ID)
	}
	return err
}

const selectCase = `SELECT id, product, channel, owner, stage, percent, missing, uploaded, timeline, applicant, created_at FROM cases`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCase(row rowScanner) (*models.Case, error) {
	var c models.Case
	var stage string
	var cols caseColumns
	if err := row.Scan(&c.ID, &c.Product, &c.Channel, &c.Owner, &stage, &c.Percent,
		&cols.missing, &cols.uploaded, &cols.timeline, &cols.applicant, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Stage = models.Stage(stage)
	if err := decodeCase(&c, cols); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCase returns a case by ID.
func (s *SQLiteStorage) GetCase(ctx context.Context, id string) (*models.Case, error) {
	c, err := scanCase(s.db.QueryRowContext(ctx, selectCase+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, err
}

// UpdateCase overwrites every mutable column of an existing case.
func (s *SQLiteStorage) UpdateCase(ctx context.Context, c *models.Case) error {
	cols, err := encodeCase(c)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE cases SET product = ?, channel = ?, owner = ?, stage = ?, percent = ?,
		 missing = ?, uploaded = ?, timeline = ?, applicant = ?
		 WHERE id = ?`,
		c.Product, c.Channel, c.Owner, string(c.Stage), c.Percent,
		cols.missing, cols.uploaded, cols.timeline, cols.applicant, c.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, c.ID)
	}
	return nil
}

// ListCases returns all cases, newest first.
func (s *SQLiteStorage) ListCases(ctx context.Context) ([]*models.Case, error) {
	rows, err := s.db.QueryContext(ctx, selectCase+` ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCases returns the total number of cases.
func (s *SQLiteStorage) CountCases(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases`).Scan(&count)
	return count, err
}

// AppendChat inserts msg and returns the case's full history.
func (s *SQLiteStorage) AppendChat(ctx context.Context, caseID string, msg models.ChatMessage) ([]models.ChatMessage, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (case_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		caseID, msg.Role, msg.Content, msg.Timestamp,
	); err != nil {
		return nil, err
	}
	return s.GetChat(ctx, caseID)
}

// GetChat returns the chat history in insertion order.
func (s *SQLiteStorage) GetChat(ctx context.Context, caseID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM chat_messages WHERE case_id = ? ORDER BY seq`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
