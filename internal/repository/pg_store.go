package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"quotad/internal/model"
)

// maxTxAttempts bounds the retry loop for deadlocks and lost races.
const maxTxAttempts = 5

type pgStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewStore creates a PostgreSQL-backed Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) Store {
	return &pgStore{
		pool:   pool,
		logger: logger.With().Str("repository", "store").Logger(),
	}
}

func (s *pgStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx UnitOfWork) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.runInTransaction(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
		s.logger.Warn().
			Int("attempt", attempt).
			Err(err).
			Msg("retrying transaction after conflict")
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, maxTxAttempts, lastErr)
}

func (s *pgStore) runInTransaction(ctx context.Context, fn func(ctx context.Context, tx UnitOfWork) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	// Rollback is a no-op once Commit succeeds; the deferred call covers
	// error returns and panics alike.
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgUnitOfWork{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isRetryable reports whether the error signals a lost race rather than a
// real failure: a zero-rows conditional update, a serialization failure
// (40001) or a deadlock (40P01).
func isRetryable(err error) bool {
	if errors.Is(err, ErrConcurrentUpdate) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func (s *pgStore) GetUsages(ctx context.Context, projectID, userID string) (map[string]model.Usage, error) {
	q := `
		SELECT resource, in_use, reserved
		FROM quota_usages
		WHERE project_id = $1 AND deleted_at IS NULL`
	args := []any{projectID}
	if userID != "" {
		q += ` AND (user_id = $2 OR user_id IS NULL)`
		args = append(args, userID)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("reading usages for project %s: %w", projectID, err)
	}
	defer rows.Close()

	usages := make(map[string]model.Usage)
	for rows.Next() {
		var resource string
		var inUse, reserved int64
		if err := rows.Scan(&resource, &inUse, &reserved); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		u := usages[resource]
		u.InUse += inUse
		u.Reserved += reserved
		usages[resource] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading usage rows: %w", err)
	}
	return usages, nil
}

func (s *pgStore) UsageOwners(ctx context.Context) ([]model.UsageOwner, error) {
	const q = `
		SELECT DISTINCT project_id, COALESCE(user_id, '')
		FROM quota_usages
		WHERE deleted_at IS NULL
		ORDER BY project_id, COALESCE(user_id, '')`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("listing usage owners: %w", err)
	}
	defer rows.Close()

	var owners []model.UsageOwner
	for rows.Next() {
		var o model.UsageOwner
		if err := rows.Scan(&o.ProjectID, &o.UserID); err != nil {
			return nil, fmt.Errorf("scanning usage owner: %w", err)
		}
		owners = append(owners, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading usage owners: %w", err)
	}
	return owners, nil
}
