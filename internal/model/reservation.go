package model

import "time"

// Reservation is a provisional, time-bounded claim on a single resource
// delta. A batch of deltas reserved together yields a batch of reservations
// sharing one transaction. Commit, rollback and expiry are mutually
// exclusive terminal transitions, all expressed as a soft delete.
type Reservation struct {
	ID        int64      `db:"id" json:"id"`
	UUID      string     `db:"uuid" json:"uuid"`
	UsageID   int64      `db:"usage_id" json:"usage_id"`
	ProjectID string     `db:"project_id" json:"project_id"`
	UserID    *string    `db:"user_id" json:"user_id,omitempty"`
	Resource  string     `db:"resource" json:"resource"`
	Delta     int64      `db:"delta" json:"delta"`
	Expire    time.Time  `db:"expire" json:"expire"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
