package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// QuotaRepository stores hard limits: project quotas, per-user overrides and
// quota classes.
type QuotaRepository interface {
	// ProjectLimits returns the project's limit rows keyed by resource.
	ProjectLimits(ctx context.Context, projectID string) (map[string]int64, error)
	// UserLimits returns the user's override rows keyed by resource.
	UserLimits(ctx context.Context, projectID, userID string) (map[string]int64, error)
	// ClassLimits returns the named quota class keyed by resource.
	ClassLimits(ctx context.Context, className string) (map[string]int64, error)
	// CreateLimit inserts a limit row. A nil userID creates a project quota,
	// otherwise a per-user override. Returns ErrQuotaExists on duplicates.
	CreateLimit(ctx context.Context, projectID string, userID *string, resource string, hardLimit int64) error
	// UpdateLimit updates an existing limit row. Returns ErrQuotaNotFound
	// when no matching row exists.
	UpdateLimit(ctx context.Context, projectID string, userID *string, resource string, hardLimit int64) error
	// DestroyAllByProject soft-deletes all quotas, per-user overrides, usage
	// rows and reservations of the project.
	DestroyAllByProject(ctx context.Context, projectID string) error
	// DestroyAllByProjectAndUser soft-deletes the user's overrides, usage
	// rows and reservations within the project.
	DestroyAllByProjectAndUser(ctx context.Context, projectID, userID string) error
}

type quotaRepo struct {
	pool *pgxpool.Pool
}

// NewQuotaRepo creates a new QuotaRepository.
func NewQuotaRepo(pool *pgxpool.Pool) QuotaRepository {
	return &quotaRepo{pool: pool}
}

func (r *quotaRepo) ProjectLimits(ctx context.Context, projectID string) (map[string]int64, error) {
	const q = `
		SELECT resource, hard_limit
		FROM quotas
		WHERE project_id = $1 AND deleted_at IS NULL`
	return r.limits(ctx, q, projectID)
}

func (r *quotaRepo) UserLimits(ctx context.Context, projectID, userID string) (map[string]int64, error) {
	const q = `
		SELECT resource, hard_limit
		FROM project_user_quotas
		WHERE project_id = $1 AND user_id = $2 AND deleted_at IS NULL`
	return r.limits(ctx, q, projectID, userID)
}

func (r *quotaRepo) ClassLimits(ctx context.Context, className string) (map[string]int64, error) {
	const q = `
		SELECT resource, hard_limit
		FROM quota_classes
		WHERE class_name = $1 AND deleted_at IS NULL`
	return r.limits(ctx, q, className)
}

func (r *quotaRepo) limits(ctx context.Context, q string, args ...any) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("reading limits: %w", err)
	}
	defer rows.Close()

	limits := make(map[string]int64)
	for rows.Next() {
		var resource string
		var hardLimit int64
		if err := rows.Scan(&resource, &hardLimit); err != nil {
			return nil, fmt.Errorf("scanning limit row: %w", err)
		}
		limits[resource] = hardLimit
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading limit rows: %w", err)
	}
	return limits, nil
}

func (r *quotaRepo) CreateLimit(ctx context.Context, projectID string, userID *string, resource string, hardLimit int64) error {
	var q string
	args := []any{projectID, resource, hardLimit}
	if userID == nil {
		q = `INSERT INTO quotas (project_id, resource, hard_limit) VALUES ($1, $2, $3)`
	} else {
		q = `INSERT INTO project_user_quotas (project_id, user_id, resource, hard_limit) VALUES ($1, $4, $2, $3)`
		args = append(args, *userID)
	}

	if _, err := r.pool.Exec(ctx, q, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("limit for %s/%s: %w", projectID, resource, ErrQuotaExists)
		}
		return fmt.Errorf("creating limit for %s/%s: %w", projectID, resource, err)
	}
	return nil
}

func (r *quotaRepo) UpdateLimit(ctx context.Context, projectID string, userID *string, resource string, hardLimit int64) error {
	var tag pgconn.CommandTag
	var err error
	if userID == nil {
		const q = `
			UPDATE quotas SET hard_limit = $1, updated_at = now()
			WHERE project_id = $2 AND resource = $3 AND deleted_at IS NULL`
		tag, err = r.pool.Exec(ctx, q, hardLimit, projectID, resource)
	} else {
		const q = `
			UPDATE project_user_quotas SET hard_limit = $1, updated_at = now()
			WHERE project_id = $2 AND user_id = $3 AND resource = $4 AND deleted_at IS NULL`
		tag, err = r.pool.Exec(ctx, q, hardLimit, projectID, *userID, resource)
	}
	if err != nil {
		return fmt.Errorf("updating limit for %s/%s: %w", projectID, resource, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("limit for %s/%s: %w", projectID, resource, ErrQuotaNotFound)
	}
	return nil
}

func (r *quotaRepo) DestroyAllByProject(ctx context.Context, projectID string) error {
	queries := []string{
		`UPDATE quotas SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND deleted_at IS NULL`,
		`UPDATE project_user_quotas SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND deleted_at IS NULL`,
		`UPDATE quota_usages SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND deleted_at IS NULL`,
		`UPDATE reservations SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND deleted_at IS NULL`,
	}
	return r.destroyAll(ctx, queries, projectID)
}

func (r *quotaRepo) DestroyAllByProjectAndUser(ctx context.Context, projectID, userID string) error {
	queries := []string{
		`UPDATE project_user_quotas SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		`UPDATE quota_usages SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		`UPDATE reservations SET deleted_at = now(), updated_at = now()
			WHERE project_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
	}
	return r.destroyAll(ctx, queries, projectID, userID)
}

func (r *quotaRepo) destroyAll(ctx context.Context, queries []string, args ...any) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting purge transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, q := range queries {
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("purging quota rows: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing purge: %w", err)
	}
	return nil
}
