// Package auditlog persists audited batches to the audit_runs table.
// The engine itself stores nothing; the CLI and workers use this log as
// the caller-owned record of each run.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/otherjamesbrown/binaudit/pkg/batch"
)

// Schema creates the audit_runs table.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_runs (
	id                 BIGSERIAL PRIMARY KEY,
	request_id         TEXT NOT NULL DEFAULT '',
	batch_id           TEXT NOT NULL,
	organization_id    TEXT NOT NULL,
	transaction_ids    BIGINT[] NOT NULL,
	step_1_passed      INTEGER NOT NULL,
	step_1_failed      INTEGER NOT NULL,
	materials_audited  INTEGER NOT NULL,
	rejected           INTEGER NOT NULL,
	system_failures    INTEGER NOT NULL,
	input_tokens       INTEGER NOT NULL,
	output_tokens      INTEGER NOT NULL,
	judgment_seconds   DOUBLE PRECISION NOT NULL,
	record             JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_runs_org_created
	ON audit_runs (organization_id, created_at DESC);
`

// Run is one logged batch audit.
type Run struct {
	ID               int64           `json:"id"`
	RequestID        string          `json:"request_id,omitempty"`
	BatchID          string          `json:"batch_id"`
	OrganizationID   string          `json:"organization_id"`
	TransactionIDs   []int64         `json:"transaction_ids"`
	Step1Passed      int             `json:"step_1_passed"`
	Step1Failed      int             `json:"step_1_failed"`
	MaterialsAudited int             `json:"materials_audited"`
	Rejected         int             `json:"rejected"`
	SystemFailures   int             `json:"system_failures"`
	InputTokens      int             `json:"input_tokens"`
	OutputTokens     int             `json:"output_tokens"`
	JudgmentSeconds  float64         `json:"judgment_seconds"`
	Record           json.RawMessage `json:"record,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NewRun summarizes resp for logging.
func NewRun(requestID string, resp *batch.Response) (*Run, error) {
	rec := resp.Record()
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding audit record: %w", err)
	}
	return &Run{
		RequestID:        requestID,
		BatchID:          resp.BatchID,
		OrganizationID:   resp.OrganizationID,
		TransactionIDs:   rec.TransactionIDs,
		Step1Passed:      resp.Summary.Step1Passed,
		Step1Failed:      resp.Summary.Step1Failed,
		MaterialsAudited: resp.Summary.Step2MaterialsAudited,
		Rejected:         resp.Rejected(),
		SystemFailures:   resp.Failed(),
		InputTokens:      resp.TokenUsage.InputTokens,
		OutputTokens:     resp.TokenUsage.OutputTokens,
		JudgmentSeconds:  resp.Duration.JudgmentSeconds,
		Record:           raw,
	}, nil
}

// Store writes and reads audit runs.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with lib/pq.
func Open(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating audit_runs: %w", err)
	}
	return nil
}

// Insert stores run and fills in its ID and creation time.
func (s *Store) Insert(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO audit_runs (
			request_id, batch_id, organization_id, transaction_ids,
			step_1_passed, step_1_failed, materials_audited, rejected, system_failures,
			input_tokens, output_tokens, judgment_seconds, record
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		run.RequestID,
		run.BatchID,
		run.OrganizationID,
		pq.Array(run.TransactionIDs),
		run.Step1Passed,
		run.Step1Failed,
		run.MaterialsAudited,
		run.Rejected,
		run.SystemFailures,
		run.InputTokens,
		run.OutputTokens,
		run.JudgmentSeconds,
		[]byte(run.Record),
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting audit run: %w", err)
	}
	return nil
}

// RecordBatch logs an audited batch.
func (s *Store) RecordBatch(ctx context.Context, requestID string, resp *batch.Response) error {
	run, err := NewRun(requestID, resp)
	if err != nil {
		return err
	}
	return s.Insert(ctx, run)
}

// Recent returns an organization's latest runs, newest first. The full
// record is omitted.
func (s *Store) Recent(ctx context.Context, organizationID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, request_id, batch_id, organization_id, transaction_ids,
		       step_1_passed, step_1_failed, materials_audited, rejected, system_failures,
		       input_tokens, output_tokens, judgment_seconds, created_at
		FROM audit_runs
		WHERE organization_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.BatchID, &r.OrganizationID, pq.Array(&r.TransactionIDs),
			&r.Step1Passed, &r.Step1Failed, &r.MaterialsAudited, &r.Rejected, &r.SystemFailures,
			&r.InputTokens, &r.OutputTokens, &r.JudgmentSeconds, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit runs: %w", err)
	}
	return runs, nil
}
