package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quotad/internal/model"
	"quotad/internal/notify"
	"quotad/internal/repository"
)

// usageRefresher decides when a cached usage counter can no longer be
// trusted and overwrites it from the authoritative recount routines.
type usageRefresher struct {
	resources    model.Resources
	syncs        *SyncRegistry
	untilRefresh int64
	maxAge       time.Duration
	logger       zerolog.Logger
	events       *notify.Emitter
}

func newUsageRefresher(resources model.Resources, syncs *SyncRegistry, untilRefresh int64, maxAge time.Duration, logger zerolog.Logger, events *notify.Emitter) *usageRefresher {
	return &usageRefresher{
		resources:    resources,
		syncs:        syncs,
		untilRefresh: untilRefresh,
		maxAge:       maxAge,
		logger:       logger.With().Str("component", "usage-refresher").Logger(),
		events:       events,
	}
}

// refreshIfNeeded brings the working set up to date for the named resources,
// mutating it in place. A row is due when it was just created, its in_use is
// negative, its until_refresh countdown ran out, or it aged past maxAge —
// or unconditionally when force is set. A recount routine may resolve
// several resources at once; every resource it returns is dropped from the
// remaining work so nothing is synced twice.
//
// The caller must hold the project's usage row locks for the duration.
func (r *usageRefresher) refreshIfNeeded(ctx context.Context, tx repository.UnitOfWork, set *usageSet, names []string, projectID, userID string, force bool) error {
	work := make(map[string]struct{}, len(names))
	for _, name := range names {
		work[name] = struct{}{}
	}

	for len(work) > 0 {
		var resource string
		for resource = range work {
			break
		}
		delete(work, resource)

		created, err := r.ensureRow(ctx, tx, set, resource, projectID, userID)
		if err != nil {
			return err
		}
		if !force && !created && !r.refreshNeeded(set.get(resource)) {
			continue
		}

		def := r.resources[resource]
		if def.Sync == "" {
			return fmt.Errorf("%w for resource %s", ErrNoSyncRoutine, resource)
		}
		fn, err := r.syncs.Func(def.Sync)
		if err != nil {
			return err
		}
		counts, err := fn(ctx, projectID, userID)
		if err != nil {
			return fmt.Errorf("recounting %s for project %s: %w", resource, projectID, err)
		}

		for res, inUse := range counts {
			if _, err := r.ensureRow(ctx, tx, set, res, projectID, userID); err != nil {
				return err
			}
			r.overwrite(ctx, set.get(res), inUse)
			delete(work, res)
		}
	}
	return nil
}

// ensureRow makes sure the working set holds a usage row for the resource,
// creating a zero-counter row when none exists. The created flag signals
// that the row is necessarily stale.
func (r *usageRefresher) ensureRow(ctx context.Context, tx repository.UnitOfWork, set *usageSet, resource, projectID, userID string) (bool, error) {
	if set.has(resource) {
		return false, nil
	}
	def, ok := r.resources[resource]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownResource, resource)
	}
	var uid *string
	if !def.PerProject && userID != "" {
		uid = &userID
	}
	u, created, err := tx.CreateUsageIfMissing(ctx, projectID, uid, resource, r.untilRefreshValue())
	if err != nil {
		return false, err
	}
	set.put(u)
	return created, nil
}

func (r *usageRefresher) refreshNeeded(u *model.UsageRecord) bool {
	switch {
	case u.InUse < 0:
		// Negative in_use indicates a desync; heal it.
		r.logger.Debug().
			Str("resource", u.Resource).
			Int64("in_use", u.InUse).
			Msg("in_use dropped below 0, forcing refresh")
		return true
	case u.UntilRefresh != nil:
		// The decrement is persisted when the caller saves the working set.
		*u.UntilRefresh--
		return *u.UntilRefresh <= 0
	case r.maxAge > 0:
		return time.Since(u.UpdatedAt) >= r.maxAge
	}
	return false
}

func (r *usageRefresher) overwrite(ctx context.Context, u *model.UsageRecord, inUse int64) {
	if u.InUse != inUse {
		r.logger.Info().
			Str("project_id", u.ProjectID).
			Str("user_id", derefUserID(u.UserID)).
			Str("resource", u.Resource).
			Int64("tracked", u.InUse).
			Int64("actual", inUse).
			Msg("usage out of sync, updating")
		r.events.UsageDesynced(ctx, u.ProjectID, derefUserID(u.UserID), u.Resource, u.InUse, inUse)
	} else {
		r.logger.Debug().
			Str("resource", u.Resource).
			Msg("usage unchanged, refresh unnecessary")
	}
	u.InUse = inUse
	u.UntilRefresh = r.untilRefreshValue()
}

func (r *usageRefresher) untilRefreshValue() *int64 {
	if r.untilRefresh <= 0 {
		return nil
	}
	v := r.untilRefresh
	return &v
}

func derefUserID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}
