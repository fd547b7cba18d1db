// Package unit holds the core data model shared by every other component:
// the Unit itself, its dependency graph, the job it owns, and the registry
// that indexes all of it by name. Keeping Unit and Registry together
// avoids splitting closely coupled state across packages that would
// otherwise import each other in a cycle.
package unit

import (
	"time"

	"github.com/initcore/initcore/internal/condition"
	"github.com/initcore/initcore/internal/unitname"
)

// Type identifies which of the ten unit kinds a Unit is.
type Type string

const (
	TypeService   Type = "service"
	TypeSocket    Type = "socket"
	TypeTarget    Type = "target"
	TypeDevice    Type = "device"
	TypeMount     Type = "mount"
	TypeAutomount Type = "automount"
	TypeTimer     Type = "timer"
	TypePath      Type = "path"
	TypeSnapshot  Type = "snapshot"
	TypeSwap      Type = "swap"
)

// LoadState tracks how far a unit has come through fragment loading.
type LoadState string

const (
	LoadStub     LoadState = "stub"
	LoadLoaded   LoadState = "loaded"
	LoadMerged   LoadState = "merged"
	LoadMasked   LoadState = "masked"
	LoadError    LoadState = "error"
	LoadNotFound LoadState = "not-found"
)

// ActiveState is a unit's coarse active-state, derived from its
// type-specific sub-state.
type ActiveState string

const (
	Inactive     ActiveState = "inactive"
	Activating   ActiveState = "activating"
	Active       ActiveState = "active"
	Deactivating ActiveState = "deactivating"
	Failed       ActiveState = "failed"
	Reloading    ActiveState = "reloading"
	Maintenance  ActiveState = "maintenance"
)

// DependencyKind enumerates every edge kind a unit may carry. Reverse kinds
// are auto-maintained by Registry.AddDependency and never set directly by
// callers.
type DependencyKind string

const (
	Requires             DependencyKind = "Requires"
	RequiresOverridable  DependencyKind = "RequiresOverridable"
	Requisite            DependencyKind = "Requisite"
	RequisiteOverridable DependencyKind = "RequisiteOverridable"
	Wants                DependencyKind = "Wants"
	BindsTo              DependencyKind = "BindsTo"
	Conflicts            DependencyKind = "Conflicts"
	Before               DependencyKind = "Before"
	After                DependencyKind = "After"
	OnFailure            DependencyKind = "OnFailure"
	Triggers             DependencyKind = "Triggers"
	TriggeredBy          DependencyKind = "TriggeredBy"
	PropagatesReloadTo   DependencyKind = "PropagatesReloadTo"
	ReloadPropagatedFrom DependencyKind = "ReloadPropagatedFrom"

	// Reverse edges, auto-maintained.
	RequiredBy             DependencyKind = "RequiredBy"
	RequiredByOverridable  DependencyKind = "RequiredByOverridable"
	RequisiteOf            DependencyKind = "RequisiteOf"
	RequisiteOfOverridable DependencyKind = "RequisiteOfOverridable"
	WantedBy               DependencyKind = "WantedBy"
	BoundBy                DependencyKind = "BoundBy"
	ConflictedBy           DependencyKind = "ConflictedBy"
	// Before/After are each other's reverse.
)

// reverseKind maps every forward kind (and Before/After, which are mutual)
// to its auto-maintained reverse. Kinds not present here have no reverse.
var reverseKind = map[DependencyKind]DependencyKind{
	Requires:             RequiredBy,
	RequiresOverridable:  RequiredByOverridable,
	Requisite:            RequisiteOf,
	RequisiteOverridable: RequisiteOfOverridable,
	Wants:                WantedBy,
	BindsTo:              BoundBy,
	Conflicts:            ConflictedBy,
	Before:               After,
	After:                Before,
	PropagatesReloadTo:   ReloadPropagatedFrom,
	ReloadPropagatedFrom: PropagatesReloadTo,
	Triggers:             TriggeredBy,
	TriggeredBy:          Triggers,

	RequiredBy:             Requires,
	RequiredByOverridable:  RequiresOverridable,
	RequisiteOf:            Requisite,
	RequisiteOfOverridable: RequisiteOverridable,
	WantedBy:               Wants,
	BoundBy:                BindsTo,
	ConflictedBy:           Conflicts,
}

// essentialKinds are the dependency kinds strong enough to be "essential"
// when the transaction builder deletes ordering cycles:
// a job pulled in by one of these is never deleted to break a cycle; if a
// cycle has no other non-anchor job to delete, the transaction fails.
var essentialKinds = map[DependencyKind]bool{
	Requires:             true,
	RequiresOverridable:  true,
	Requisite:            true,
	RequisiteOverridable: true,
	BindsTo:              true,
}

// Essential reports whether kind is strong enough that the transaction
// builder must not silently drop an edge of this kind while breaking a
// cycle.
func Essential(kind DependencyKind) bool { return essentialKinds[kind] }

// Unit is the fundamental managed entity.
type Unit struct {
	ID    string
	Names map[string]bool
	Type  Type

	LoadState   LoadState
	ActiveState ActiveState
	SubState    string

	// Dependencies maps a dependency kind to the set of unit ids on the
	// far side of that edge.
	Dependencies map[DependencyKind]map[string]bool

	Conditions []condition.Condition

	FragmentPath  string
	FragmentMtime time.Time

	Description string

	// JobTimeout bounds how long any job installed on this unit may run
	// before the engine escalates and finishes it with result=timeout.
	// Zero means no deadline.
	JobTimeout time.Duration

	// Job is the single currently-installed job for this unit, or nil.
	Job *Job

	// MergedInto is set once this unit has been merged into another; its
	// LoadState is then LoadMerged and all further lookups should resolve
	// through the registry's alias map, not this pointer, since the
	// registry is what keeps the alias map authoritative.
	MergedInto string

	// Flags controlling which transaction-level operations are valid for
	// this unit's type.
	AllowIsolate bool
	NoRequires   bool // isolate-style units can't be pulled in via Requires
	NoInstances  bool // "@" instantiation is not permitted for this type
	NoSnapshots  bool // excluded from CreateSnapshot's unit set

	// Config is the type-specific configuration parsed by the fragment
	// loader; its concrete type depends on Type (e.g. *unittype.ServiceConfig).
	Config interface{}

	// State is the type-specific runtime state machine driving SubState
	// and ActiveState; its concrete type depends on Type.
	State interface{}
}

// NewStub creates an unloaded placeholder unit for id, the way
// Registry.Load does before a fragment has been read.
func NewStub(id string) *Unit {
	t, _ := unitname.TypeOf(id)
	typ := Type(t)
	u := &Unit{
		ID:           id,
		Names:        map[string]bool{id: true},
		Type:         typ,
		LoadState:    LoadStub,
		ActiveState:  Inactive,
		Dependencies: make(map[DependencyKind]map[string]bool),
	}
	switch typ {
	case TypeTarget:
		u.AllowIsolate = true
	case TypeSnapshot:
		u.AllowIsolate = true
		u.NoRequires = true
		u.NoInstances = true
		u.NoSnapshots = true
	case TypeDevice:
		u.NoInstances = true
		u.NoSnapshots = true
	case TypeMount, TypeAutomount, TypeSwap:
		u.NoInstances = true
	}
	return u
}

// HasName reports whether name is one of u's known aliases.
func (u *Unit) HasName(name string) bool { return u.Names[name] }

// DependencyTargets returns the set of unit ids u points at via kind, or
// nil if there are none.
func (u *Unit) DependencyTargets(kind DependencyKind) []string {
	set := u.Dependencies[kind]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsActive reports whether u's active state is the settled "active" state.
func (u *Unit) IsActive() bool { return u.ActiveState == Active }

// IsInactiveOrFailed reports whether u has settled into a non-running
// state that stop jobs treat as "done".
func (u *Unit) IsInactiveOrFailed() bool {
	return u.ActiveState == Inactive || u.ActiveState == Failed
}
