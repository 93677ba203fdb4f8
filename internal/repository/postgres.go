// Package repository persists fusion's durable state: the seen-before
// pattern registry, pending approvals, case links and the routed-group
// audit log. Routed groups are retained for audit and future pattern
// learning, never hard-deleted.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/helixsec/fusion/internal/escalation"
	"github.com/helixsec/fusion/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// PostgresRepository implements the pattern registry, approval store, case
// link store and routed-group audit over PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// RunMigrations applies pending schema migrations from the given source
// (for example "file://migrations").
func RunMigrations(sourceURL, databaseURL string) error {
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// IsValidated reports whether a human has validated this key-class pattern.
func (r *PostgresRepository) IsValidated(ctx context.Context, keyClass string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM validated_patterns WHERE key_class = $1)`,
		keyClass,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check pattern validation: %w", err)
	}
	return exists, nil
}

// MarkValidated records a human validation for a key-class pattern. The
// first validation wins; entries are never cleared.
func (r *PostgresRepository) MarkValidated(ctx context.Context, keyClass, validatedBy string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO validated_patterns (key_class, validated_by, validated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_class) DO NOTHING
	`, keyClass, validatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark pattern validated: %w", err)
	}
	return nil
}

// Create inserts a pending approval.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Approval) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO approvals (id, group_id, key_class, tenant_id, action_type, target, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.GroupID, a.KeyClass, a.TenantID, a.ActionType, a.Target, a.State, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	return nil
}

// GetPending returns the pending approvals for a group.
func (r *PostgresRepository) GetPending(ctx context.Context, groupID string) ([]*models.Approval, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, key_class, tenant_id, action_type, target, state, created_at, expires_at
		FROM approvals
		WHERE group_id = $1 AND state = $2
		ORDER BY created_at
	`, groupID, models.ApprovalPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.Approval
	for rows.Next() {
		a := &models.Approval{}
		if err := rows.Scan(&a.ID, &a.GroupID, &a.KeyClass, &a.TenantID,
			&a.ActionType, &a.Target, &a.State, &a.CreatedAt, &a.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkExecuted transitions a pending approval to executed.
func (r *PostgresRepository) MarkExecuted(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE approvals SET state = $1 WHERE id = $2 AND state = $3
	`, models.ApprovalExecuted, id, models.ApprovalPending)
	if err != nil {
		return fmt.Errorf("failed to mark approval executed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpirePending transitions every overdue pending approval to expired and
// returns how many were affected.
func (r *PostgresRepository) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE approvals SET state = $1 WHERE state = $2 AND expires_at < $3
	`, models.ApprovalExpired, models.ApprovalPending, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approvals: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Get returns the case link for a group, nil when none exists.
func (r *PostgresRepository) Get(ctx context.Context, groupID string) (*models.CaseLink, error) {
	link := &models.CaseLink{}
	var children []byte
	err := r.pool.QueryRow(ctx, `
		SELECT group_id, idempotency_key, parent_case_id, child_case_ids, created_at
		FROM case_links WHERE group_id = $1
	`, groupID).Scan(&link.GroupID, &link.IdempotencyKey, &link.ParentCaseID, &children, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get case link: %w", err)
	}
	if err := json.Unmarshal(children, &link.ChildCaseIDs); err != nil {
		return nil, fmt.Errorf("failed to decode child case ids: %w", err)
	}
	return link, nil
}

// Save persists a case link. Replays of the same group are no-ops.
func (r *PostgresRepository) Save(ctx context.Context, link *models.CaseLink) error {
	children, err := json.Marshal(link.ChildCaseIDs)
	if err != nil {
		return fmt.Errorf("failed to encode child case ids: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO case_links (group_id, idempotency_key, parent_case_id, child_case_ids, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (group_id) DO NOTHING
	`, link.GroupID, link.IdempotencyKey, link.ParentCaseID, children, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save case link: %w", err)
	}
	return nil
}

// SaveRoutedGroup appends a routed group to the audit log. Replays after a
// crash are no-ops keyed by group ID.
func (r *PostgresRepository) SaveRoutedGroup(ctx context.Context, group *models.CorrelationGroup, score *models.ScoreRecord, decision *escalation.Decision) error {
	flags, err := json.Marshal(group.Flags)
	if err != nil {
		return fmt.Errorf("failed to encode flags: %w", err)
	}
	missing, err := json.Marshal(score.MissingEvidence)
	if err != nil {
		return fmt.Errorf("failed to encode missing evidence: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO routed_groups (
			group_id, correlation_key, key_class, window_start, window_end,
			member_count, tenant_count, total_score, band, disposition,
			flags, missing_evidence, routed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (group_id) DO NOTHING
	`, group.ID, group.CorrelationKey, group.KeyClass, group.WindowStart, group.WindowEnd,
		len(group.MemberAlertIDs), len(group.Tenants()), score.TotalScore,
		score.Band, decision.Disposition, flags, missing, decision.RoutedAt)
	if err != nil {
		return fmt.Errorf("failed to save routed group: %w", err)
	}
	return nil
}

// GetRoutedGroup returns one routed group's audit record.
func (r *PostgresRepository) GetRoutedGroup(ctx context.Context, groupID string) (*models.RoutedGroup, error) {
	rg := &models.RoutedGroup{}
	var flags, missing []byte
	err := r.pool.QueryRow(ctx, `
		SELECT group_id, correlation_key, key_class, window_start, window_end,
		       member_count, tenant_count, total_score, band, disposition,
		       flags, missing_evidence, routed_at
		FROM routed_groups WHERE group_id = $1
	`, groupID).Scan(&rg.GroupID, &rg.CorrelationKey, &rg.KeyClass, &rg.WindowStart, &rg.WindowEnd,
		&rg.MemberCount, &rg.TenantCount, &rg.TotalScore, &rg.Band, &rg.Disposition,
		&flags, &missing, &rg.RoutedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get routed group: %w", err)
	}
	if err := json.Unmarshal(flags, &rg.Flags); err != nil {
		return nil, fmt.Errorf("failed to decode flags: %w", err)
	}
	if err := json.Unmarshal(missing, &rg.MissingEvidence); err != nil {
		return nil, fmt.Errorf("failed to decode missing evidence: %w", err)
	}
	return rg, nil
}
