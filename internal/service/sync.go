package service

import (
	"context"
	"fmt"

	"quotad/internal/model"
	"quotad/internal/repository"
)

// SyncFunc recomputes authoritative in-use counts for one or more resources.
// A single call may return counts for several related resources; instances,
// cores and ram are resolved by one counting pass. An empty userID requests
// a project-only recount.
type SyncFunc func(ctx context.Context, projectID, userID string) (map[string]int64, error)

// SyncRegistry maps sync names to their recount routines. Registration
// happens at initialization; lookups are read-only afterwards.
type SyncRegistry struct {
	funcs map[model.SyncName]SyncFunc
}

// NewSyncRegistry creates an empty registry.
func NewSyncRegistry() *SyncRegistry {
	return &SyncRegistry{funcs: make(map[model.SyncName]SyncFunc)}
}

// Register binds a recount routine to a sync name.
func (r *SyncRegistry) Register(name model.SyncName, fn SyncFunc) {
	r.funcs[name] = fn
}

// Func returns the routine registered under name.
func (r *SyncRegistry) Func(name model.SyncName) (SyncFunc, error) {
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSyncRoutine, name)
	}
	return fn, nil
}

// NewDefaultSyncRegistry builds the registry over the standard source-table
// counters.
func NewDefaultSyncRegistry(counts repository.SyncRepository) *SyncRegistry {
	r := NewSyncRegistry()
	r.Register(model.SyncInstances, func(ctx context.Context, projectID, userID string) (map[string]int64, error) {
		instances, cores, ram, err := counts.InstanceUsage(ctx, projectID, userID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{
			model.ResourceInstances: instances,
			model.ResourceCores:     cores,
			model.ResourceRAM:       ram,
		}, nil
	})
	r.Register(model.SyncFloatingIPs, func(ctx context.Context, projectID, userID string) (map[string]int64, error) {
		n, err := counts.FloatingIPCount(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{model.ResourceFloatingIPs: n}, nil
	})
	r.Register(model.SyncFixedIPs, func(ctx context.Context, projectID, userID string) (map[string]int64, error) {
		n, err := counts.FixedIPCount(ctx, projectID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{model.ResourceFixedIPs: n}, nil
	})
	r.Register(model.SyncSecurityGroups, func(ctx context.Context, projectID, userID string) (map[string]int64, error) {
		n, err := counts.SecurityGroupCount(ctx, projectID, userID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{model.ResourceSecurityGroups: n}, nil
	})
	r.Register(model.SyncServerGroups, func(ctx context.Context, projectID, userID string) (map[string]int64, error) {
		n, err := counts.ServerGroupCount(ctx, projectID, userID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{model.ResourceServerGroups: n}, nil
	})
	return r
}
