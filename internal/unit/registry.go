package unit

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// Registry holds units by canonical id and every alias, plus the live job
// table. All access happens from the manager's single event-loop task,
// but the mutex guards against the rare case of a background
// goroutine (e.g. the bus connector's reconnect loop) reading state
// concurrently with the loop.
type Registry struct {
	mu sync.Mutex

	names map[string]*Unit // alias-aware: every name maps to its unit
	units map[string]*Unit // canonical id -> unit, one entry per real unit

	jobs   map[uint32]*Job
	nextID uint32

	// loadQueue holds stub units created by Load but not yet fed through
	// the fragment loader.
	loadQueue []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]*Unit),
		units: make(map[string]*Unit),
		jobs:  make(map[uint32]*Job),
	}
}

// Get performs an alias-aware lookup; it does not create anything.
func (r *Registry) Get(name string) (*Unit, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.names[name]
	return u, ok
}

// Load returns the unit for name, creating and enqueuing a stub if absent.
func (r *Registry) Load(name string) *Unit {
	r.mu.Lock()
	defer r.mu.Unlock()

	if u, ok := r.names[name]; ok {
		return u
	}
	u := NewStub(name)
	r.names[name] = u
	r.units[u.ID] = u
	r.loadQueue = append(r.loadQueue, name)
	return u
}

// PopLoadQueue drains and returns the names queued by Load since the last
// call, for the fragment loader to process.
func (r *Registry) PopLoadQueue() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.loadQueue
	r.loadQueue = nil
	return q
}

// Units returns every distinct unit currently registered (merged-away
// units are excluded since they're no longer reachable under their own
// id).
func (r *Registry) Units() []*Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Unit, 0, len(r.units))
	for _, u := range r.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RegisterAlias adds name as an additional alias of u, satisfying
// invariant (a): every alias-map entry resolves to a unit whose Names
// contains that name.
func (r *Registry) RegisterAlias(u *Unit, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[name] = u
	u.Names[name] = true
}

// AddDependency installs a forward edge source->target of the given kind,
// and — unless addReverse is false — the matching reverse edge on target.
// It is idempotent and rejects self-edges.
func (r *Registry) AddDependency(source, target *Unit, kind DependencyKind, addReverse bool) error {
	if source == target || source.ID == target.ID {
		return fmt.Errorf("unit: self-dependency not allowed (%s %s %s)", source.ID, kind, target.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	addEdge(source, kind, target.ID)

	if addReverse {
		if rev, ok := reverseKind[kind]; ok {
			addEdge(target, rev, source.ID)
		}
	}
	return nil
}

func addEdge(u *Unit, kind DependencyKind, targetID string) {
	if u.Dependencies == nil {
		u.Dependencies = make(map[DependencyKind]map[string]bool)
	}
	set, ok := u.Dependencies[kind]
	if !ok {
		set = make(map[string]bool)
		u.Dependencies[kind] = set
	}
	set[targetID] = true
}

// RemoveDependency removes a forward edge and its maintained reverse.
func (r *Registry) RemoveDependency(source, target *Unit, kind DependencyKind) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := source.Dependencies[kind]; ok {
		delete(set, target.ID)
	}
	if rev, ok := reverseKind[kind]; ok {
		if set, ok := target.Dependencies[rev]; ok {
			delete(set, source.ID)
		}
	}
}

// Merge moves all aliases, dependency edges, and config from "from" into
// "into", then marks "from" as merged and redirects its alias-map entries.
// Merging fails if both sides are already loaded with genuinely
// incompatible config (left to the caller, typically the fragment loader,
// to detect — Merge itself only performs the mechanical move and reports
// a warning-worthy "lossy" condition via the returned bool: the first
// loaded side wins and divergent configuration surfaces as a warning
// rather than an error).
func (r *Registry) Merge(into, from *Unit) (lossy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if into.LoadState == LoadLoaded && from.LoadState == LoadLoaded && from.FragmentPath != into.FragmentPath && from.FragmentPath != "" {
		lossy = true
	}

	for name := range from.Names {
		r.names[name] = into
		into.Names[name] = true
	}

	for kind, set := range from.Dependencies {
		for targetID := range set {
			if targetID == into.ID {
				continue
			}
			addEdge(into, kind, targetID)
			// Rewrite the reverse edge on the far side to point at into
			// instead of from.
			if target, ok := r.units[targetID]; ok {
				if rev, ok := reverseKind[kind]; ok {
					if s, ok := target.Dependencies[rev]; ok {
						delete(s, from.ID)
					}
					addEdge(target, rev, into.ID)
				}
			}
		}
	}

	if into.Description == "" {
		into.Description = from.Description
	}
	if len(into.Conditions) == 0 {
		into.Conditions = from.Conditions
	}

	from.LoadState = LoadMerged
	from.MergedInto = into.ID
	delete(r.units, from.ID)

	return lossy
}

// Forget removes u and all of its aliases from the registry. Dependency
// edges must already have been removed by the caller; Forget only drops
// the index entries.
func (r *Registry) Forget(u *Unit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range u.Names {
		if r.names[name] == u {
			delete(r.names, name)
		}
	}
	delete(r.units, u.ID)
}

// InstallJob assigns a monotonic id to j, records it in the job table, and
// sets it as j.Unit's installed job. It does not enforce the "at most one
// job per unit" invariant — callers (the transaction builder) must cancel
// or merge any existing job first.
func (r *Registry) InstallJob(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	j.ID = r.nextID
	r.jobs[j.ID] = j
	j.Unit.Job = j
}

// RemoveJob detaches j from the job table and its unit, satisfying the
// rule that a finished job is reachable from neither once JobRemoved
// fires.
func (r *Registry) RemoveJob(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, j.ID)
	if j.Unit.Job == j {
		j.Unit.Job = nil
	}
}

// GetJob looks a job up by id.
func (r *Registry) GetJob(id uint32) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Jobs returns every currently installed job.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ClearJobs cancels every installed job, the way the ClearJobs RPC method
// does.
func (r *Registry) ClearJobs() {
	r.mu.Lock()
	jobs := maps.Values(r.jobs)
	r.jobs = make(map[uint32]*Job)
	r.mu.Unlock()

	for _, j := range jobs {
		j.Unit.Job = nil
		j.Finish(ResultCancelled)
	}
}

// NNames and NJobs back the bus properties of the same name.
func (r *Registry) NNames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

func (r *Registry) NJobs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// CheckInvariants validates the structural invariants the registry is
// built on and returns the first violation found, or nil. It's intended
// for tests and for the manager's controlled-shutdown diagnostic dump.
func (r *Registry) CheckInvariants() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, u := range r.names {
		if !u.Names[name] {
			return fmt.Errorf("alias soundness violated: %q maps to unit %q which doesn't list it", name, u.ID)
		}
	}

	for _, u := range r.units {
		for kind, set := range u.Dependencies {
			rev, ok := reverseKind[kind]
			if !ok {
				continue
			}
			for targetID := range set {
				target, ok := r.units[targetID]
				if !ok {
					return fmt.Errorf("edge symmetry violated: %s %s %s points at unknown unit", u.ID, kind, targetID)
				}
				if !target.Dependencies[rev][u.ID] {
					return fmt.Errorf("edge symmetry violated: %s %s %s has no reverse %s edge", u.ID, kind, targetID, rev)
				}
			}
		}
	}

	for id, j := range r.jobs {
		if j.ID != id {
			return fmt.Errorf("unique job violated: job table key %d does not match job.ID %d", id, j.ID)
		}
		if j.Unit.Job != j {
			return fmt.Errorf("unique job violated: unit %s back-pointer does not match installed job %d", j.Unit.ID, id)
		}
	}

	return nil
}
