package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateID is returned when a record is inserted with an existing ID.
var ErrDuplicateID = errors.New("record id already exists")

// Decision is one audited authorization.
type Decision struct {
	ID        string    `json:"id" yaml:"id"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	SessionID string    `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Tool      string    `json:"tool" yaml:"tool"`
	Decision  string    `json:"decision" yaml:"decision"`
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Subject is the command line or the file path.
	Subject string `json:"subject" yaml:"subject"`
	Cwd     string `json:"cwd,omitempty" yaml:"cwd,omitempty"`
	Rule    string `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// DecisionFilter narrows ListDecisions. Zero fields match everything.
type DecisionFilter struct {
	Tool     string
	Decision string
	Since    time.Time
	Limit    int
}

// RecordDecision inserts d, assigning an ID and timestamp when unset.
func (db *DB) RecordDecision(ctx context.Context, d *Decision) error {
	if d.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	if d.Decision == "" {
		return fmt.Errorf("decision is required")
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO decisions (id, created_at, session_id, tool, decision, reason, subject, cwd, rule)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.CreatedAt.UTC().Format(timeFormat), d.SessionID, d.Tool, d.Decision, d.Reason, d.Subject, d.Cwd, d.Rule)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("recording decision: %w", err)
	}
	return nil
}

// GetDecision returns the decision with id.
func (db *DB) GetDecision(ctx context.Context, id string) (*Decision, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, created_at, session_id, tool, decision, reason, subject, cwd, rule
		FROM decisions WHERE id = ?
	`, id)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// ListDecisions returns decisions oldest first.
func (db *DB) ListDecisions(ctx context.Context, f DecisionFilter) ([]*Decision, error) {
	var (
		where []string
		args  []any
	)
	if f.Tool != "" {
		where = append(where, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, f.Decision)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}
	q := `SELECT id, created_at, session_id, tool, decision, reason, subject, cwd, rule FROM decisions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at ASC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating decisions: %w", err)
	}
	return out, nil
}

// PruneDecisions deletes decisions older than before and returns how many
// were removed.
func (db *DB) PruneDecisions(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM decisions WHERE created_at < ?`, before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("pruning decisions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDecision(s scanner) (*Decision, error) {
	var (
		d         Decision
		createdAt string
	)
	if err := s.Scan(&d.ID, &createdAt, &d.SessionID, &d.Tool, &d.Decision, &d.Reason, &d.Subject, &d.Cwd, &d.Rule); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning decision: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return &d, nil
}
