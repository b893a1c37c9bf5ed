package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"quotad/internal/model"
	"quotad/internal/repository"
)

// memStore is an in-memory Store used by the engine tests. A single mutex
// held for the whole transaction stands in for the database's row locking,
// and a snapshot taken at transaction start stands in for rollback.
type memStore struct {
	mu           sync.Mutex
	nextID       int64
	usages       []*model.UsageRecord
	reservations []*model.Reservation
}

func newMemStore() *memStore {
	return &memStore{}
}

// seedUsage inserts a usage row directly, bypassing the engine.
func (s *memStore) seedUsage(projectID string, userID *string, resource string, inUse, reserved int64, untilRefresh *int64) *model.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := &model.UsageRecord{
		ID:           s.nextID,
		ProjectID:    projectID,
		UserID:       userID,
		Resource:     resource,
		InUse:        inUse,
		Reserved:     reserved,
		UntilRefresh: untilRefresh,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	s.usages = append(s.usages, u)
	return cloneUsage(u)
}

// findUsage returns the first live usage row for the resource.
func (s *memStore) findUsage(projectID, resource string) *model.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usages {
		if u.ProjectID == projectID && u.Resource == resource && u.DeletedAt == nil {
			return cloneUsage(u)
		}
	}
	return nil
}

// touchUsage backdates a row's UpdatedAt to simulate age.
func (s *memStore) touchUsage(id int64, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usages {
		if u.ID == id {
			u.UpdatedAt = updatedAt
		}
	}
}

func (s *memStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx repository.UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	usageSnap := make([]*model.UsageRecord, len(s.usages))
	for i, u := range s.usages {
		usageSnap[i] = cloneUsage(u)
	}
	resSnap := make([]*model.Reservation, len(s.reservations))
	for i, r := range s.reservations {
		resSnap[i] = cloneReservation(r)
	}
	idSnap := s.nextID

	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.usages = usageSnap
		s.reservations = resSnap
		s.nextID = idSnap
		return err
	}
	return nil
}

func (s *memStore) GetUsages(ctx context.Context, projectID, userID string) (map[string]model.Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usages := make(map[string]model.Usage)
	for _, row := range s.usages {
		if row.ProjectID != projectID || row.DeletedAt != nil {
			continue
		}
		if userID != "" && row.UserID != nil && *row.UserID != userID {
			continue
		}
		u := usages[row.Resource]
		u.InUse += row.InUse
		u.Reserved += row.Reserved
		usages[row.Resource] = u
	}
	return usages, nil
}

func (s *memStore) UsageOwners(ctx context.Context) ([]model.UsageOwner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[model.UsageOwner]struct{})
	var owners []model.UsageOwner
	for _, row := range s.usages {
		if row.DeletedAt != nil {
			continue
		}
		o := model.UsageOwner{ProjectID: row.ProjectID, UserID: derefUserID(row.UserID)}
		if _, ok := seen[o]; !ok {
			seen[o] = struct{}{}
			owners = append(owners, o)
		}
	}
	return owners, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) LockUsages(ctx context.Context, projectID string) ([]*model.UsageRecord, error) {
	var rows []*model.UsageRecord
	for _, u := range t.store.usages {
		if u.ProjectID == projectID && u.DeletedAt == nil {
			rows = append(rows, cloneUsage(u))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (t *memTx) CreateUsageIfMissing(ctx context.Context, projectID string, userID *string, resource string, untilRefresh *int64) (*model.UsageRecord, bool, error) {
	for _, u := range t.store.usages {
		if u.ProjectID == projectID && u.Resource == resource && u.DeletedAt == nil && sameUserID(u.UserID, userID) {
			return cloneUsage(u), false, nil
		}
	}
	t.store.nextID++
	u := &model.UsageRecord{
		ID:           t.store.nextID,
		ProjectID:    projectID,
		UserID:       copyUserID(userID),
		Resource:     resource,
		UntilRefresh: copyCount(untilRefresh),
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	t.store.usages = append(t.store.usages, u)
	return cloneUsage(u), true, nil
}

func (t *memTx) SaveUsage(ctx context.Context, usage *model.UsageRecord) error {
	for _, u := range t.store.usages {
		if u.ID == usage.ID && u.DeletedAt == nil {
			u.InUse = usage.InUse
			u.Reserved = usage.Reserved
			u.UntilRefresh = copyCount(usage.UntilRefresh)
			u.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repository.ErrConcurrentUpdate
}

func (t *memTx) AdjustReserved(ctx context.Context, usageID int64, delta int64) error {
	for _, u := range t.store.usages {
		if u.ID == usageID && u.DeletedAt == nil {
			u.Reserved += delta
			u.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return repository.ErrUsageNotFound
}

func (t *memTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	t.store.nextID++
	r.ID = t.store.nextID
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	t.store.reservations = append(t.store.reservations, cloneReservation(r))
	return nil
}

func (t *memTx) LockReservations(ctx context.Context, projectID string, uuids []string) ([]*model.Reservation, error) {
	wanted := make(map[string]struct{}, len(uuids))
	for _, id := range uuids {
		wanted[id] = struct{}{}
	}
	var rows []*model.Reservation
	for _, r := range t.store.reservations {
		if _, ok := wanted[r.UUID]; ok && r.ProjectID == projectID && r.DeletedAt == nil {
			rows = append(rows, cloneReservation(r))
		}
	}
	return rows, nil
}

func (t *memTx) LockExpiredReservations(ctx context.Context, now time.Time) ([]*model.Reservation, error) {
	var rows []*model.Reservation
	for _, r := range t.store.reservations {
		if r.DeletedAt == nil && r.Expire.Before(now) {
			rows = append(rows, cloneReservation(r))
		}
	}
	return rows, nil
}

func (t *memTx) DeleteReservations(ctx context.Context, uuids []string) (int64, error) {
	wanted := make(map[string]struct{}, len(uuids))
	for _, id := range uuids {
		wanted[id] = struct{}{}
	}
	var n int64
	now := time.Now().UTC()
	for _, r := range t.store.reservations {
		if _, ok := wanted[r.UUID]; ok && r.DeletedAt == nil {
			deleted := now
			r.DeletedAt = &deleted
			r.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func cloneUsage(u *model.UsageRecord) *model.UsageRecord {
	c := *u
	c.UserID = copyUserID(u.UserID)
	c.UntilRefresh = copyCount(u.UntilRefresh)
	return &c
}

func cloneReservation(r *model.Reservation) *model.Reservation {
	c := *r
	c.UserID = copyUserID(r.UserID)
	return &c
}

func sameUserID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func copyUserID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyCount(n *int64) *int64 {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}
