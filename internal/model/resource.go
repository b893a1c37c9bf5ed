package model

// Quota-tracked resource names.
const (
	ResourceInstances      = "instances"
	ResourceCores          = "cores"
	ResourceRAM            = "ram"
	ResourceFloatingIPs    = "floating_ips"
	ResourceFixedIPs       = "fixed_ips"
	ResourceNetworks       = "networks"
	ResourceSecurityGroups = "security_groups"
	ResourceServerGroups   = "server_groups"
	ResourceKeyPairs       = "key_pairs"
)

// SyncName identifies a registered usage recount routine. A single routine
// may recount several related resources in one pass (instances, cores and
// ram share one counting query).
type SyncName string

const (
	SyncInstances      SyncName = "instances"
	SyncFloatingIPs    SyncName = "floating_ips"
	SyncFixedIPs       SyncName = "fixed_ips"
	SyncSecurityGroups SyncName = "security_groups"
	SyncServerGroups   SyncName = "server_groups"
)

// ResourceDef describes one quota-tracked resource.
type ResourceDef struct {
	Name string
	// Sync names the recount routine for the resource. Empty when no
	// routine exists and tracked usage is the only source.
	Sync SyncName
	// PerProject marks resources tracked at project granularity only.
	// Such resources never have per-user usage rows or per-user limits.
	PerProject bool
	// DefaultLimit applies when neither the default quota class nor a
	// project quota sets a limit. Negative means unlimited.
	DefaultLimit int64
}

// Resources maps resource names to their definitions.
type Resources map[string]ResourceDef

// SyncedNames returns the names of all resources that have a recount routine.
func (r Resources) SyncedNames() []string {
	names := make([]string, 0, len(r))
	for name, def := range r {
		if def.Sync != "" {
			names = append(names, name)
		}
	}
	return names
}

// DefaultResources returns the standard resource set with its default limits.
func DefaultResources() Resources {
	defs := []ResourceDef{
		{Name: ResourceInstances, Sync: SyncInstances, DefaultLimit: 10},
		{Name: ResourceCores, Sync: SyncInstances, DefaultLimit: 20},
		{Name: ResourceRAM, Sync: SyncInstances, DefaultLimit: 50 * 1024},
		{Name: ResourceFloatingIPs, Sync: SyncFloatingIPs, PerProject: true, DefaultLimit: 10},
		{Name: ResourceFixedIPs, Sync: SyncFixedIPs, PerProject: true, DefaultLimit: Unlimited},
		{Name: ResourceNetworks, PerProject: true, DefaultLimit: 3},
		{Name: ResourceSecurityGroups, Sync: SyncSecurityGroups, DefaultLimit: 10},
		{Name: ResourceServerGroups, Sync: SyncServerGroups, DefaultLimit: 10},
		{Name: ResourceKeyPairs, DefaultLimit: 100},
	}
	resources := make(Resources, len(defs))
	for _, def := range defs {
		resources[def.Name] = def
	}
	return resources
}
