package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProposalStatus is the review state of a mined rule.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ProposalStatus) Valid() bool {
	switch s {
	case ProposalPending, ProposalAccepted, ProposalRejected:
		return true
	}
	return false
}

// Proposal is a rule suggested by the miner. It never becomes a live rule
// by itself.
type Proposal struct {
	ID   string `json:"id" yaml:"id"`
	Rule string `json:"rule" yaml:"rule"`
	// List is "allow" or "deny".
	List       string         `json:"list" yaml:"list"`
	Tool       string         `json:"tool" yaml:"tool"`
	Count      int            `json:"count" yaml:"count"`
	Risk       float64        `json:"risk" yaml:"risk"`
	Confidence float64        `json:"confidence" yaml:"confidence"`
	Examples   []string       `json:"examples" yaml:"examples"`
	Status     ProposalStatus `json:"status" yaml:"status"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" yaml:"updated_at"`
}

// UpsertProposal inserts p or, when the same rule was proposed for the same
// list before, refreshes its statistics. A reviewed status is kept.
func (db *DB) UpsertProposal(ctx context.Context, p *Proposal) error {
	if p.Rule == "" {
		return fmt.Errorf("rule is required")
	}
	if p.List != "allow" && p.List != "deny" {
		return fmt.Errorf("list must be allow or deny, got %q", p.List)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.Status == "" {
		p.Status = ProposalPending
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	examples, err := json.Marshal(nonNil(p.Examples))
	if err != nil {
		return fmt.Errorf("encoding examples: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO proposals (id, rule, list, tool, count, risk, confidence, examples, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule, list) DO UPDATE SET
			count = excluded.count,
			risk = excluded.risk,
			confidence = excluded.confidence,
			examples = excluded.examples,
			updated_at = excluded.updated_at
	`, p.ID, p.Rule, p.List, p.Tool, p.Count, p.Risk, p.Confidence, string(examples), string(p.Status),
		p.CreatedAt.UTC().Format(timeFormat), p.UpdatedAt.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("upserting proposal: %w", err)
	}

	stored, err := db.proposalByRule(ctx, p.Rule, p.List)
	if err != nil {
		return err
	}
	*p = *stored
	return nil
}

// GetProposal returns the proposal with id.
func (db *DB) GetProposal(ctx context.Context, id string) (*Proposal, error) {
	return db.queryProposal(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE id = ?`, id)
}

func (db *DB) proposalByRule(ctx context.Context, rule, list string) (*Proposal, error) {
	return db.queryProposal(ctx, `SELECT `+proposalColumns+` FROM proposals WHERE rule = ? AND list = ?`, rule, list)
}

func (db *DB) queryProposal(ctx context.Context, q string, args ...any) (*Proposal, error) {
	p, err := scanProposal(db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListProposals returns proposals with status (all when empty), most
// confident first.
func (db *DB) ListProposals(ctx context.Context, status ProposalStatus) ([]*Proposal, error) {
	q := `SELECT ` + proposalColumns + ` FROM proposals`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY confidence DESC, count DESC, rule ASC`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying proposals: %w", err)
	}
	defer rows.Close()

	var out []*Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating proposals: %w", err)
	}
	return out, nil
}

// SetProposalStatus records a review outcome.
func (db *DB) SetProposalStatus(ctx context.Context, id string, status ProposalStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid proposal status %q", status)
	}
	res, err := db.ExecContext(ctx, `UPDATE proposals SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("updating proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const proposalColumns = `id, rule, list, tool, count, risk, confidence, examples, status, created_at, updated_at`

func scanProposal(s scanner) (*Proposal, error) {
	var (
		p                    Proposal
		examples, status     string
		createdAt, updatedAt string
	)
	err := s.Scan(&p.ID, &p.Rule, &p.List, &p.Tool, &p.Count, &p.Risk, &p.Confidence, &examples, &status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning proposal: %w", err)
	}
	if err := json.Unmarshal([]byte(examples), &p.Examples); err != nil {
		return nil, fmt.Errorf("decoding examples: %w", err)
	}
	p.Status = ProposalStatus(status)
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
