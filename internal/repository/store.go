package repository

import (
	"context"
	"errors"
	"time"

	"quotad/internal/model"
)

var (
	// ErrConcurrentUpdate is returned when a conditional write affected zero
	// rows because another transaction won the race. The whole operation
	// should be retried in a fresh transaction.
	ErrConcurrentUpdate = errors.New("concurrent update lost the race")
	// ErrRetriesExhausted is returned when a transaction kept failing on
	// retryable conflicts for the maximum number of attempts.
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
	// ErrUsageNotFound is returned when a referenced usage row no longer exists.
	ErrUsageNotFound = errors.New("quota usage record not found")
	// ErrQuotaExists is returned when creating a limit that is already set.
	ErrQuotaExists = errors.New("quota already exists")
	// ErrQuotaNotFound is returned when updating a limit that is not set.
	ErrQuotaNotFound = errors.New("quota not found")
)

// Store is the transactional row-store the reservation engine runs against.
//
// WithinTransaction runs fn inside a single database transaction and
// guarantees commit-or-rollback on every exit path. Retryable conflicts
// (deadlock, serialization failure, ErrConcurrentUpdate) restart fn in a
// fresh transaction up to a bounded number of attempts; fn must therefore be
// safe to re-run from scratch.
type Store interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx UnitOfWork) error) error

	// GetUsages returns per-resource usage totals for the project without
	// locking; the view is eventually consistent. A non-empty userID
	// restricts the sum to that user's rows plus project-scoped rows.
	GetUsages(ctx context.Context, projectID, userID string) (map[string]model.Usage, error)

	// UsageOwners lists the distinct (project, user) pairs that have
	// tracked usage rows.
	UsageOwners(ctx context.Context) ([]model.UsageOwner, error)
}

// UnitOfWork is the set of row operations available inside one transaction.
//
// Lock ordering contract: usage row locks must always be acquired before any
// reservation row locks. Callers take LockUsages first; reservation rows are
// then either newly created (no lock needed) or locked afterwards.
type UnitOfWork interface {
	// LockUsages reads all non-deleted usage rows of the project in stable
	// id order under SELECT ... FOR UPDATE. The locks serialize concurrent
	// reservations against the same project for the rest of the transaction.
	LockUsages(ctx context.Context, projectID string) ([]*model.UsageRecord, error)

	// CreateUsageIfMissing idempotently ensures a usage row with zero
	// counters exists and returns it together with a flag telling whether it
	// was newly created. A duplicate-key race with a concurrent creator is
	// resolved by re-reading the winner's row.
	CreateUsageIfMissing(ctx context.Context, projectID string, userID *string, resource string, untilRefresh *int64) (*model.UsageRecord, bool, error)

	// SaveUsage writes the row's counters back. Zero rows affected yields
	// ErrConcurrentUpdate.
	SaveUsage(ctx context.Context, usage *model.UsageRecord) error

	// AdjustReserved adds delta to the reserved counter of the usage row.
	AdjustReserved(ctx context.Context, usageID int64, delta int64) error

	CreateReservation(ctx context.Context, r *model.Reservation) error

	// LockReservations loads the named non-deleted reservations of the
	// project under row locks. Missing ids are simply absent from the result.
	LockReservations(ctx context.Context, projectID string, uuids []string) ([]*model.Reservation, error)

	// LockExpiredReservations loads all non-deleted reservations whose
	// expiry has passed, skipping rows locked by concurrent sweeps.
	LockExpiredReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error)

	// DeleteReservations soft-deletes the named reservations and reports how
	// many rows were actually transitioned.
	DeleteReservations(ctx context.Context, uuids []string) (int64, error)
}
