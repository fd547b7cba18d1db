package manager

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"

	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unittype"
)

// ErrSnapshotExists is returned when CreateSnapshot's name is already
// taken by a non-snapshot unit or a live snapshot.
var ErrSnapshotExists = errors.New("manager: snapshot name already in use")

// CreateSnapshot captures the set of currently active units as a synthetic
// snapshot unit. An empty name auto-generates one. With cleanup set, the
// snapshot removes itself once every unit it references has gone
// inactive.
func (m *Manager) CreateSnapshot(name string, cleanup bool) (*unit.Unit, error) {
	if name == "" {
		id, err := uuid.GenerateUUID()
		if err != nil {
			return nil, errors.Wrap(err, "generating snapshot name")
		}
		name = fmt.Sprintf("snapshot-%s.snapshot", id[:8])
	}
	if !strings.HasSuffix(name, ".snapshot") {
		return nil, errors.Errorf("manager: snapshot name %q must end in .snapshot", name)
	}
	if _, taken := m.Registry.Get(name); taken {
		return nil, errors.Wrap(ErrSnapshotExists, name)
	}

	u := m.Registry.Load(name)
	m.Registry.PopLoadQueue() // synthetic; nothing to read from disk
	u.LoadState = unit.LoadLoaded
	u.Description = "Snapshot " + name
	u.Config = &unittype.SnapshotConfig{Cleanup: cleanup}
	snap := unittype.New(u, m.machineDeps()).(*unittype.Snapshot)

	var saved []string
	for _, active := range m.Registry.Units() {
		if active == u || active.NoSnapshots || !active.IsActive() {
			continue
		}
		saved = append(saved, active.ID)
		// Wants (not Requires) so that isolating back to the snapshot
		// restarts what was running without failing on units that have
		// since become unstartable.
		if err := m.Registry.AddDependency(u, active, unit.Wants, true); err != nil {
			m.log.Warn("skipping snapshot dependency", "unit", active.ID, "error", err)
		}
	}
	snap.Record(saved)

	m.emit(Event{Kind: "unit-new", UnitID: u.ID})
	return u, nil
}

// maybeCleanupSnapshots removes every cleanup-enabled snapshot whose
// referenced units have all gone inactive.
func (m *Manager) maybeCleanupSnapshots() {
	for _, u := range m.Registry.Units() {
		snap, ok := u.State.(*unittype.Snapshot)
		if !ok || !u.IsActive() || !snap.Cleanup() {
			continue
		}
		allDown := true
		for id := range snap.Saved {
			if ref, ok := m.Registry.Get(id); ok && !ref.IsInactiveOrFailed() {
				allDown = false
				break
			}
		}
		if allDown {
			m.RemoveSnapshot(u)
		}
	}
}

// RemoveSnapshot deactivates and forgets a snapshot unit.
func (m *Manager) RemoveSnapshot(u *unit.Unit) {
	if snap, ok := u.State.(*unittype.Snapshot); ok {
		_ = snap.Stop()
	}
	m.forgetUnit(u)
}

// forgetUnit removes u and its edges from the registry entirely.
func (m *Manager) forgetUnit(u *unit.Unit) {
	for kind, set := range u.Dependencies {
		for id := range set {
			if target, ok := m.Registry.Get(id); ok {
				m.Registry.RemoveDependency(u, target, kind)
			}
		}
	}
	m.Registry.Forget(u)
	m.emit(Event{Kind: "unit-removed", UnitID: u.ID})
}
