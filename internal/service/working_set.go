package service

import "quotad/internal/model"

// usageSet is the working set of usage rows touched by one transaction,
// keyed by resource. It holds the user's rows plus project-scoped rows for
// per-project-only resources. The set is owned by the current transaction's
// call stack and is never shared across goroutines; helpers mutate the rows
// in place and the caller persists every row when the transaction ends.
type usageSet struct {
	rows map[string]*model.UsageRecord
}

func newUsageSet() *usageSet {
	return &usageSet{rows: make(map[string]*model.UsageRecord)}
}

func (s *usageSet) get(resource string) *model.UsageRecord {
	return s.rows[resource]
}

func (s *usageSet) put(u *model.UsageRecord) {
	s.rows[u.Resource] = u
}

func (s *usageSet) has(resource string) bool {
	_, ok := s.rows[resource]
	return ok
}

// total is the projected consumption for the resource; zero when the
// resource has no row yet.
func (s *usageSet) total(resource string) int64 {
	u, ok := s.rows[resource]
	if !ok {
		return 0
	}
	return u.Total()
}
