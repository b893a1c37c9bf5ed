package service

import (
	"errors"
	"fmt"
	"strings"

	"quotad/internal/model"
)

var (
	// ErrUnknownResource is returned when an operation names a resource that
	// has no definition.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrNoSyncRoutine is returned when a resource's recount routine is not
	// registered.
	ErrNoSyncRoutine = errors.New("no sync routine registered")
)

// OverQuotaError is returned by Reserve when one or more resources would
// exceed their limits. It carries enough detail for the caller to build a
// meaningful "too many X" message.
type OverQuotaError struct {
	// Overs lists the offending resources in sorted order.
	Overs []string
	// Quotas holds the limits the request was checked against.
	Quotas map[string]int64
	// Usages is the usage snapshot at the time of the check.
	Usages map[string]model.Usage
}

func (e *OverQuotaError) Error() string {
	return fmt.Sprintf("quota exceeded for resources: %s", strings.Join(e.Overs, ", "))
}

// ReservationNotFoundError is returned when commit or rollback is given ids
// that no longer exist: already committed, rolled back or expired. Double
// application of a reservation must never happen, so stale ids are an error,
// not a no-op.
type ReservationNotFoundError struct {
	UUIDs []string
}

func (e *ReservationNotFoundError) Error() string {
	return fmt.Sprintf("reservations not found: %s", strings.Join(e.UUIDs, ", "))
}
