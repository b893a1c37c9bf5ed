package service

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quotad/internal/model"
	"quotad/internal/notify"
	"quotad/internal/repository"
)

// ReservationService provisionally reserves resource deltas against quota
// limits and settles the reservations later: commit, rollback or expiry.
type ReservationService interface {
	// Reserve checks the deltas against the effective limits and, when they
	// all fit, creates one reservation per delta and returns their ids.
	// Returns *OverQuotaError when one or more resources would exceed their
	// limit.
	Reserve(ctx context.Context, projectID, userID string, deltas map[string]int64, expire time.Time) ([]string, error)

	// Commit applies the named reservations to in_use and retires them.
	Commit(ctx context.Context, projectID, userID string, ids []string) error

	// Rollback releases the named reservations without touching in_use.
	Rollback(ctx context.Context, projectID, userID string, ids []string) error

	// ExpireReservations releases every reservation whose expiry has passed
	// and reports how many it retired. Safe to re-run; intended as a
	// periodic sweep.
	ExpireReservations(ctx context.Context) (int64, error)

	// GetUsage returns per-resource usage for the project, or for one user
	// of the project when userID is non-empty. Lock-free and eventually
	// consistent.
	GetUsage(ctx context.Context, projectID, userID string) (map[string]model.Usage, error)

	// RefreshUsage forces a recount of the named resources regardless of
	// staleness. Administrative.
	RefreshUsage(ctx context.Context, projectID, userID string, resources []string) error
}

// Options tunes usage staleness detection.
type Options struct {
	// UntilRefresh is the number of reservations after which a usage
	// counter is recounted. Zero disables the countdown.
	UntilRefresh int64
	// MaxAge is the age past which a usage counter is recounted. Zero
	// disables age-based refresh.
	MaxAge time.Duration
}

type reservationService struct {
	store     repository.Store
	limits    LimitsService
	resources model.Resources
	refresher *usageRefresher
	logger    zerolog.Logger
	events    *notify.Emitter
}

// NewReservationService wires the reservation engine. events may be nil.
func NewReservationService(store repository.Store, limits LimitsService, syncs *SyncRegistry, resources model.Resources, opts Options, logger zerolog.Logger, events *notify.Emitter) ReservationService {
	return &reservationService{
		store:     store,
		limits:    limits,
		resources: resources,
		refresher: newUsageRefresher(resources, syncs, opts.UntilRefresh, opts.MaxAge, logger, events),
		logger:    logger.With().Str("service", "ReservationService").Logger(),
		events:    events,
	}
}

func (s *reservationService) Reserve(ctx context.Context, projectID, userID string, deltas map[string]int64, expire time.Time) ([]string, error) {
	projectLimits, userLimits, err := s.limits.GetLimits(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving limits: %w", err)
	}

	names := make([]string, 0, len(deltas))
	for resource := range deltas {
		names = append(names, resource)
	}

	var (
		ids     []string
		overErr *OverQuotaError
	)
	err = s.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.UnitOfWork) error {
		ids, overErr = nil, nil

		// The usage row locks taken here are held until the transaction
		// ends. Reservation rows are only ever created below, never locked,
		// so the usage-before-reservation lock order holds.
		projectUsages, userUsages, err := s.lockUsages(ctx, tx, projectID, userID)
		if err != nil {
			return err
		}
		if err := s.refresher.refreshIfNeeded(ctx, tx, userUsages, names, projectID, userID, false); err != nil {
			return err
		}

		// Decrements that would push usage negative are recorded but never
		// block: correcting an existing desync must always be possible.
		var unders []string
		for resource, delta := range deltas {
			if delta >= 0 {
				continue
			}
			if u := userUsages.get(resource); u != nil && delta+u.InUse < 0 {
				unders = append(unders, resource)
			}
		}

		// Per-project-only resources have no project aggregate of their
		// own; copy their rows into the project totals before the check.
		for resource, u := range userUsages.rows {
			if _, ok := projectUsages[resource]; !ok {
				projectUsages[resource] = model.UsageTotal{
					InUse:    u.InUse,
					Reserved: u.Reserved,
					Total:    u.Total(),
				}
			}
		}

		overs := s.calculateOverquota(projectLimits, userLimits, deltas, projectUsages, userUsages)

		if len(overs) == 0 {
			for resource, delta := range deltas {
				u := userUsages.get(resource)
				r := &model.Reservation{
					UUID:      uuid.NewString(),
					UsageID:   u.ID,
					ProjectID: projectID,
					Resource:  resource,
					Delta:     delta,
					Expire:    expire,
				}
				if userID != "" {
					uid := userID
					r.UserID = &uid
				}
				if err := tx.CreateReservation(ctx, r); err != nil {
					return err
				}
				ids = append(ids, r.UUID)
				// Only positive deltas are pre-reserved. A negative delta
				// is reflected at commit time, so a failed shrink cannot
				// strand usage below its real value.
				if delta > 0 {
					u.Reserved += delta
				}
			}
		}

		// The refresh writes above are kept even when the request is over
		// quota: refreshed usage is ground truth regardless of this call's
		// outcome. The transaction therefore commits and the over-quota
		// failure is surfaced after it.
		if err := saveUsages(ctx, tx, userUsages); err != nil {
			return err
		}

		if len(unders) > 0 {
			sort.Strings(unders)
			s.logger.Warn().
				Str("project_id", projectID).
				Strs("resources", unders).
				Msg("change will make usage less than 0")
		}
		if len(overs) > 0 {
			sort.Strings(overs)
			overErr = &OverQuotaError{
				Overs:  overs,
				Quotas: userLimits,
				Usages: usageSnapshot(projectLimits, userLimits, projectUsages, userUsages),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if overErr != nil {
		s.logger.Debug().
			Str("project_id", projectID).
			Str("user_id", userID).
			Strs("overs", overErr.Overs).
			Interface("deltas", deltas).
			Msg("reservation rejected over quota")
		s.events.QuotaExceeded(ctx, projectID, userID, overErr.Overs)
		return nil, overErr
	}
	return ids, nil
}

// lockUsages reads and locks all usage rows of the project, aggregates them
// into per-resource project totals, and collects the rows that belong to the
// given user (or to the project itself, for per-project-only resources) into
// the working set.
func (s *reservationService) lockUsages(ctx context.Context, tx repository.UnitOfWork, projectID, userID string) (map[string]model.UsageTotal, *usageSet, error) {
	rows, err := tx.LockUsages(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	project := make(map[string]model.UsageTotal)
	user := newUsageSet()
	for _, row := range rows {
		t := project[row.Resource]
		t.InUse += row.InUse
		t.Reserved += row.Reserved
		t.Total += row.Total()
		project[row.Resource] = t
		if row.UserID == nil || *row.UserID == userID {
			user.put(row)
		}
	}
	return project, user, nil
}

// calculateOverquota returns the resources whose positive deltas would push
// projected usage past the project or user limit. The two checks are
// independent; a resource appears in the result once even when both fail.
// Negative limits are unlimited and never trigger; decrements never trigger.
func (s *reservationService) calculateOverquota(projectQuotas, userQuotas map[string]int64, deltas map[string]int64, projectUsages map[string]model.UsageTotal, userUsages *usageSet) []string {
	var overs []string
	for resource, delta := range deltas {
		if delta < 0 {
			continue
		}
		over := false
		if limit, ok := projectQuotas[resource]; ok && 0 <= limit && limit < delta+projectUsages[resource].Total {
			s.logger.Debug().
				Str("resource", resource).
				Int64("limit", limit).
				Int64("delta", delta).
				Int64("total", projectUsages[resource].Total).
				Msg("request is over project quota")
			over = true
		}
		if limit, ok := userQuotas[resource]; ok && 0 <= limit && limit < delta+userUsages.total(resource) {
			s.logger.Debug().
				Str("resource", resource).
				Int64("limit", limit).
				Int64("delta", delta).
				Int64("total", userUsages.total(resource)).
				Msg("request is over user quota")
			over = true
		}
		if over {
			overs = append(overs, resource)
		}
	}
	return overs
}

func (s *reservationService) Commit(ctx context.Context, projectID, userID string, ids []string) error {
	return s.settle(ctx, projectID, userID, ids, true)
}

func (s *reservationService) Rollback(ctx context.Context, projectID, userID string, ids []string) error {
	return s.settle(ctx, projectID, userID, ids, false)
}

// settle retires the named reservations. Committing adds each delta to
// in_use; rolling back leaves in_use untouched. Either way a non-negative
// delta releases its pre-reserved amount. Usage row locks are taken before
// the reservation row locks.
func (s *reservationService) settle(ctx context.Context, projectID, userID string, ids []string, commit bool) error {
	return s.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.UnitOfWork) error {
		_, userUsages, err := s.lockUsages(ctx, tx, projectID, userID)
		if err != nil {
			return err
		}
		reservations, err := tx.LockReservations(ctx, projectID, ids)
		if err != nil {
			return err
		}
		if len(reservations) != len(ids) {
			return &ReservationNotFoundError{UUIDs: missingUUIDs(ids, reservations)}
		}

		for _, r := range reservations {
			u := userUsages.get(r.Resource)
			if u == nil {
				return fmt.Errorf("%w: %s/%s", repository.ErrUsageNotFound, projectID, r.Resource)
			}
			if r.Delta >= 0 {
				u.Reserved -= r.Delta
			}
			if commit {
				u.InUse += r.Delta
			}
		}
		if err := saveUsages(ctx, tx, userUsages); err != nil {
			return err
		}

		n, err := tx.DeleteReservations(ctx, ids)
		if err != nil {
			return err
		}
		if n != int64(len(ids)) {
			return fmt.Errorf("retiring reservations: %w", repository.ErrConcurrentUpdate)
		}
		return nil
	})
}

func (s *reservationService) ExpireReservations(ctx context.Context) (int64, error) {
	var expired int64
	err := s.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.UnitOfWork) error {
		expired = 0
		reservations, err := tx.LockExpiredReservations(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if len(reservations) == 0 {
			return nil
		}
		uuids := make([]string, 0, len(reservations))
		for _, r := range reservations {
			uuids = append(uuids, r.UUID)
			// Mirrors rollback: an expired reservation was never committed,
			// so only the pre-reserved amount is released.
			if r.Delta >= 0 {
				if err := tx.AdjustReserved(ctx, r.UsageID, -r.Delta); err != nil {
					return err
				}
			}
		}
		expired, err = tx.DeleteReservations(ctx, uuids)
		return err
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info().Int64("expired", expired).Msg("expired reservations reclaimed")
		s.events.ReservationsExpired(ctx, expired)
	}
	return expired, nil
}

func (s *reservationService) GetUsage(ctx context.Context, projectID, userID string) (map[string]model.Usage, error) {
	return s.store.GetUsages(ctx, projectID, userID)
}

func (s *reservationService) RefreshUsage(ctx context.Context, projectID, userID string, resources []string) error {
	return s.store.WithinTransaction(ctx, func(ctx context.Context, tx repository.UnitOfWork) error {
		_, userUsages, err := s.lockUsages(ctx, tx, projectID, userID)
		if err != nil {
			return err
		}
		if err := s.refresher.refreshIfNeeded(ctx, tx, userUsages, resources, projectID, userID, true); err != nil {
			return err
		}
		return saveUsages(ctx, tx, userUsages)
	})
}

func saveUsages(ctx context.Context, tx repository.UnitOfWork, set *usageSet) error {
	for _, u := range set.rows {
		if err := tx.SaveUsage(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// usageSnapshot picks the usage view reported with an over-quota failure:
// the project aggregate when project and user limits coincide, the user's
// own rows otherwise.
func usageSnapshot(projectLimits, userLimits map[string]int64, projectUsages map[string]model.UsageTotal, userUsages *usageSet) map[string]model.Usage {
	usages := make(map[string]model.Usage)
	if maps.Equal(projectLimits, userLimits) {
		for resource, t := range projectUsages {
			usages[resource] = model.Usage{InUse: t.InUse, Reserved: t.Reserved}
		}
		return usages
	}
	for resource, u := range userUsages.rows {
		usages[resource] = model.Usage{InUse: u.InUse, Reserved: u.Reserved}
	}
	return usages
}

func missingUUIDs(ids []string, found []*model.Reservation) []string {
	present := make(map[string]struct{}, len(found))
	for _, r := range found {
		present[r.UUID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}
