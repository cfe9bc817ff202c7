package patterns

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
)

// Schema creates the response_patterns table.
const Schema = `
CREATE TABLE IF NOT EXISTS response_patterns (
	id              BIGSERIAL PRIMARY KEY,
	organization_id TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 1000,
	condition       TEXT NOT NULL,
	template        TEXT NOT NULL,
	is_active       BOOLEAN NOT NULL DEFAULT TRUE,
	expires_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_response_patterns_org
	ON response_patterns (organization_id, priority, created_at, id);
`

// PostgresRepository stores response patterns in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository over pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create response_patterns: %w", err)
	}
	return nil
}

// ListPatterns retrieves an organization's active, unexpired patterns.
func (r *PostgresRepository) ListPatterns(ctx context.Context, organizationID string) ([]ResponsePattern, error) {
	query := `
		SELECT id, organization_id, priority, condition, template, is_active, expires_at, created_at
		FROM response_patterns
		WHERE organization_id = $1
		  AND is_active = true
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT 1000
	`

	rows, err := r.pool.Query(ctx, query, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list response patterns: %w", err)
	}
	defer rows.Close()

	var patterns []ResponsePattern
	for rows.Next() {
		var p ResponsePattern
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.Priority, &p.Condition,
			&p.Template, &p.IsActive, &p.ExpiresAt, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan response pattern: %w", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating response patterns: %w", err)
	}

	return patterns, nil
}

// CreatePattern validates and inserts p. A zero priority becomes
// DefaultPriority.
func (r *PostgresRepository) CreatePattern(ctx context.Context, p ResponsePattern) (*ResponsePattern, error) {
	if p.OrganizationID == "" {
		return nil, fmt.Errorf("%w: organization_id is required", auerrors.ErrValidation)
	}
	if _, err := Compile(p); err != nil {
		return nil, fmt.Errorf("%w: %v", auerrors.ErrValidation, err)
	}
	if p.Priority == 0 {
		p.Priority = DefaultPriority
	}

	query := `
		INSERT INTO response_patterns (organization_id, priority, condition, template, is_active, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.pool.QueryRow(ctx, query,
		p.OrganizationID, p.Priority, p.Condition, p.Template, p.IsActive, p.ExpiresAt,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create response pattern: %w", err)
	}
	return &p, nil
}

// SetActive toggles a pattern's active flag.
func (r *PostgresRepository) SetActive(ctx context.Context, organizationID string, id int64, active bool) error {
	query := `
		UPDATE response_patterns SET is_active = $3
		WHERE organization_id = $1 AND id = $2
		RETURNING id
	`
	var got int64
	err := r.pool.QueryRow(ctx, query, organizationID, id, active).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("response pattern %d: %w", id, auerrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update response pattern: %w", err)
	}
	return nil
}
