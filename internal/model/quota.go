package model

import "time"

// DefaultQuotaClassName is the quota class consulted for default limits.
const DefaultQuotaClassName = "default"

// Unlimited is the conventional hard limit meaning "no limit".
const Unlimited int64 = -1

// Quota is a project-level hard limit for one resource.
type Quota struct {
	ID        int64      `db:"id" json:"id"`
	ProjectID string     `db:"project_id" json:"project_id"`
	Resource  string     `db:"resource" json:"resource"`
	HardLimit int64      `db:"hard_limit" json:"hard_limit"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// ProjectUserQuota is a per-user override of a project's hard limit.
// Per-project-only resources never carry such an override.
type ProjectUserQuota struct {
	ID        int64      `db:"id" json:"id"`
	ProjectID string     `db:"project_id" json:"project_id"`
	UserID    string     `db:"user_id" json:"user_id"`
	Resource  string     `db:"resource" json:"resource"`
	HardLimit int64      `db:"hard_limit" json:"hard_limit"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// QuotaClass is a named default limit template. Classes are a read-only
// source of defaults and are not part of the reservation hot path.
type QuotaClass struct {
	ID        int64      `db:"id" json:"id"`
	ClassName string     `db:"class_name" json:"class_name"`
	Resource  string     `db:"resource" json:"resource"`
	HardLimit int64      `db:"hard_limit" json:"hard_limit"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}
