package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SyncRepository recomputes authoritative in-use counts from the
// source-of-truth tables. The queries are pure reads of committed state; an
// empty userID means a project-only recount.
type SyncRepository interface {
	// InstanceUsage counts non-deleted instances and sums their vcpus and
	// memory for the project (and user, when given) in one pass.
	InstanceUsage(ctx context.Context, projectID, userID string) (instances, cores, ram int64, err error)
	FloatingIPCount(ctx context.Context, projectID string) (int64, error)
	FixedIPCount(ctx context.Context, projectID string) (int64, error)
	SecurityGroupCount(ctx context.Context, projectID, userID string) (int64, error)
	ServerGroupCount(ctx context.Context, projectID, userID string) (int64, error)
}

type syncRepo struct {
	pool *pgxpool.Pool
}

// NewSyncRepo creates a SyncRepository over the default source tables.
func NewSyncRepo(pool *pgxpool.Pool) SyncRepository {
	return &syncRepo{pool: pool}
}

func (r *syncRepo) InstanceUsage(ctx context.Context, projectID, userID string) (int64, int64, int64, error) {
	q := `
		SELECT COUNT(*), COALESCE(SUM(vcpus), 0), COALESCE(SUM(memory_mb), 0)
		FROM instances
		WHERE project_id = $1 AND deleted_at IS NULL`
	args := []any{projectID}
	if userID != "" {
		q += ` AND user_id = $2`
		args = append(args, userID)
	}

	var instances, cores, ram int64
	if err := r.pool.QueryRow(ctx, q, args...).Scan(&instances, &cores, &ram); err != nil {
		return 0, 0, 0, fmt.Errorf("counting instances for project %s: %w", projectID, err)
	}
	return instances, cores, ram, nil
}

func (r *syncRepo) FloatingIPCount(ctx context.Context, projectID string) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM floating_ips
		WHERE project_id = $1 AND deleted_at IS NULL`
	return r.count(ctx, q, projectID)
}

func (r *syncRepo) FixedIPCount(ctx context.Context, projectID string) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM fixed_ips
		WHERE project_id = $1 AND deleted_at IS NULL`
	return r.count(ctx, q, projectID)
}

func (r *syncRepo) SecurityGroupCount(ctx context.Context, projectID, userID string) (int64, error) {
	q := `
		SELECT COUNT(*) FROM security_groups
		WHERE project_id = $1 AND deleted_at IS NULL`
	args := []any{projectID}
	if userID != "" {
		q += ` AND user_id = $2`
		args = append(args, userID)
	}
	return r.count(ctx, q, args...)
}

func (r *syncRepo) ServerGroupCount(ctx context.Context, projectID, userID string) (int64, error) {
	q := `
		SELECT COUNT(*) FROM server_groups
		WHERE project_id = $1 AND deleted_at IS NULL`
	args := []any{projectID}
	if userID != "" {
		q += ` AND user_id = $2`
		args = append(args, userID)
	}
	return r.count(ctx, q, args...)
}

func (r *syncRepo) count(ctx context.Context, q string, args ...any) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}
