package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"quotad/internal/model"
)

const usageColumns = `id, project_id, user_id, resource, in_use, reserved, until_refresh, created_at, updated_at`

const reservationColumns = `id, uuid, usage_id, project_id, user_id, resource, delta, expire, created_at, updated_at`

type pgUnitOfWork struct {
	tx pgx.Tx
}

func (w *pgUnitOfWork) LockUsages(ctx context.Context, projectID string) ([]*model.UsageRecord, error) {
	q := `
		SELECT ` + usageColumns + `
		FROM quota_usages
		WHERE project_id = $1 AND deleted_at IS NULL
		ORDER BY id ASC
		FOR UPDATE`

	rows, err := w.tx.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("locking usages for project %s: %w", projectID, err)
	}
	defer rows.Close()

	var usages []*model.UsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading locked usages: %w", err)
	}
	return usages, nil
}

func (w *pgUnitOfWork) CreateUsageIfMissing(ctx context.Context, projectID string, userID *string, resource string, untilRefresh *int64) (*model.UsageRecord, bool, error) {
	insertQ := `
		INSERT INTO quota_usages (project_id, user_id, resource, until_refresh)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
		RETURNING ` + usageColumns

	u, err := scanUsage(w.tx.QueryRow(ctx, insertQ, projectID, userID, resource, untilRefresh))
	if err == nil {
		return u, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("creating usage for %s/%s: %w", projectID, resource, err)
	}

	// Someone else created the row; take its lock and proceed.
	selectQ := `
		SELECT ` + usageColumns + `
		FROM quota_usages
		WHERE project_id = $1 AND user_id IS NOT DISTINCT FROM $2 AND resource = $3
		  AND deleted_at IS NULL
		FOR UPDATE`

	u, err = scanUsage(w.tx.QueryRow(ctx, selectQ, projectID, userID, resource))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("re-reading usage for %s/%s: %w", projectID, resource, ErrConcurrentUpdate)
	}
	if err != nil {
		return nil, false, fmt.Errorf("re-reading usage for %s/%s: %w", projectID, resource, err)
	}
	return u, false, nil
}

func (w *pgUnitOfWork) SaveUsage(ctx context.Context, usage *model.UsageRecord) error {
	const q = `
		UPDATE quota_usages
		SET in_use = $1, reserved = $2, until_refresh = $3, updated_at = now()
		WHERE id = $4 AND deleted_at IS NULL`

	tag, err := w.tx.Exec(ctx, q, usage.InUse, usage.Reserved, usage.UntilRefresh, usage.ID)
	if err != nil {
		return fmt.Errorf("saving usage %d: %w", usage.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saving usage %d: %w", usage.ID, ErrConcurrentUpdate)
	}
	return nil
}

func (w *pgUnitOfWork) AdjustReserved(ctx context.Context, usageID int64, delta int64) error {
	const q = `
		UPDATE quota_usages
		SET reserved = reserved + $1, updated_at = now()
		WHERE id = $2 AND deleted_at IS NULL`

	tag, err := w.tx.Exec(ctx, q, delta, usageID)
	if err != nil {
		return fmt.Errorf("adjusting reserved for usage %d: %w", usageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("adjusting reserved for usage %d: %w", usageID, ErrUsageNotFound)
	}
	return nil
}

func (w *pgUnitOfWork) CreateReservation(ctx context.Context, r *model.Reservation) error {
	const q = `
		INSERT INTO reservations (uuid, usage_id, project_id, user_id, resource, delta, expire)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	err := w.tx.QueryRow(ctx, q,
		r.UUID, r.UsageID, r.ProjectID, r.UserID, r.Resource, r.Delta, r.Expire,
	).Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating reservation for %s/%s: %w", r.ProjectID, r.Resource, err)
	}
	return nil
}

func (w *pgUnitOfWork) LockReservations(ctx context.Context, projectID string, uuids []string) ([]*model.Reservation, error) {
	q := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE uuid = ANY($1) AND project_id = $2 AND deleted_at IS NULL
		FOR UPDATE`

	rows, err := w.tx.Query(ctx, q, uuids, projectID)
	if err != nil {
		return nil, fmt.Errorf("locking reservations for project %s: %w", projectID, err)
	}
	return collectReservations(rows)
}

func (w *pgUnitOfWork) LockExpiredReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error) {
	q := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE expire < $1 AND deleted_at IS NULL
		FOR UPDATE SKIP LOCKED`

	rows, err := w.tx.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("locking expired reservations: %w", err)
	}
	return collectReservations(rows)
}

func (w *pgUnitOfWork) DeleteReservations(ctx context.Context, uuids []string) (int64, error) {
	const q = `
		UPDATE reservations
		SET deleted_at = now(), updated_at = now()
		WHERE uuid = ANY($1) AND deleted_at IS NULL`

	tag, err := w.tx.Exec(ctx, q, uuids)
	if err != nil {
		return 0, fmt.Errorf("deleting reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUsage(row pgx.Row) (*model.UsageRecord, error) {
	var u model.UsageRecord
	err := row.Scan(&u.ID, &u.ProjectID, &u.UserID, &u.Resource, &u.InUse,
		&u.Reserved, &u.UntilRefresh, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}
	return &u, nil
}

func collectReservations(rows pgx.Rows) ([]*model.Reservation, error) {
	defer rows.Close()

	var reservations []*model.Reservation
	for rows.Next() {
		var r model.Reservation
		err := rows.Scan(&r.ID, &r.UUID, &r.UsageID, &r.ProjectID, &r.UserID,
			&r.Resource, &r.Delta, &r.Expire, &r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation row: %w", err)
		}
		reservations = append(reservations, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading reservation rows: %w", err)
	}
	return reservations, nil
}
