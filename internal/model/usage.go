package model

import "time"

// UsageRecord is one tracked usage counter: one row per (project, resource)
// and, for per-user resources, per user. A nil UserID means the row is the
// project-level aggregate for a per-project-only resource.
type UsageRecord struct {
	ID           int64      `db:"id" json:"id"`
	ProjectID    string     `db:"project_id" json:"project_id"`
	UserID       *string    `db:"user_id" json:"user_id,omitempty"`
	Resource     string     `db:"resource" json:"resource"`
	InUse        int64      `db:"in_use" json:"in_use"`
	Reserved     int64      `db:"reserved" json:"reserved"`
	UntilRefresh *int64     `db:"until_refresh" json:"until_refresh,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// Total is the projected consumption of the row: committed plus reserved.
func (u *UsageRecord) Total() int64 {
	return u.InUse + u.Reserved
}

// Usage is the read-model view of a resource's consumption.
type Usage struct {
	InUse    int64 `json:"in_use"`
	Reserved int64 `json:"reserved"`
}

// UsageTotal aggregates usage rows across users of a project.
type UsageTotal struct {
	InUse    int64 `json:"in_use"`
	Reserved int64 `json:"reserved"`
	Total    int64 `json:"total"`
}

// UsageOwner identifies one (project, user) pair with tracked usage. An empty
// UserID means the usage rows are project-scoped.
type UsageOwner struct {
	ProjectID string `db:"project_id" json:"project_id"`
	UserID    string `db:"user_id" json:"user_id,omitempty"`
}
