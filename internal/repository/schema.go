package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the quota tables, and the source-of-truth tables the
// default recount queries read, if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const q = `
		CREATE TABLE IF NOT EXISTS quota_usages (
			id            BIGSERIAL PRIMARY KEY,
			project_id    TEXT NOT NULL,
			user_id       TEXT,
			resource      TEXT NOT NULL,
			in_use        BIGINT NOT NULL DEFAULT 0,
			reserved      BIGINT NOT NULL DEFAULT 0,
			until_refresh BIGINT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at    TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS quota_usages_owner_resource_idx
			ON quota_usages (project_id, resource, COALESCE(user_id, ''))
			WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS reservations (
			id         BIGSERIAL PRIMARY KEY,
			uuid       TEXT NOT NULL UNIQUE,
			usage_id   BIGINT NOT NULL REFERENCES quota_usages (id),
			project_id TEXT NOT NULL,
			user_id    TEXT,
			resource   TEXT NOT NULL,
			delta      BIGINT NOT NULL,
			expire     TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS reservations_expire_idx
			ON reservations (expire)
			WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS quotas (
			id         BIGSERIAL PRIMARY KEY,
			project_id TEXT NOT NULL,
			resource   TEXT NOT NULL,
			hard_limit BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS quotas_project_resource_idx
			ON quotas (project_id, resource)
			WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS project_user_quotas (
			id         BIGSERIAL PRIMARY KEY,
			project_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			resource   TEXT NOT NULL,
			hard_limit BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS project_user_quotas_owner_resource_idx
			ON project_user_quotas (project_id, user_id, resource)
			WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS quota_classes (
			id         BIGSERIAL PRIMARY KEY,
			class_name TEXT NOT NULL,
			resource   TEXT NOT NULL,
			hard_limit BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);
		CREATE UNIQUE INDEX IF NOT EXISTS quota_classes_name_resource_idx
			ON quota_classes (class_name, resource)
			WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS instances (
			id         BIGSERIAL PRIMARY KEY,
			uuid       TEXT NOT NULL UNIQUE,
			project_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			vcpus      BIGINT NOT NULL DEFAULT 1,
			memory_mb  BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS floating_ips (
			id         BIGSERIAL PRIMARY KEY,
			address    TEXT NOT NULL,
			project_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS fixed_ips (
			id         BIGSERIAL PRIMARY KEY,
			address    TEXT NOT NULL,
			project_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS security_groups (
			id         BIGSERIAL PRIMARY KEY,
			name       TEXT NOT NULL,
			project_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS server_groups (
			id         BIGSERIAL PRIMARY KEY,
			uuid       TEXT NOT NULL,
			project_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			deleted_at TIMESTAMPTZ
		);`

	if _, err := pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
