package unittype

import "github.com/initcore/initcore/internal/unit"

// Snapshot is synthesized at runtime by CreateSnapshot, never loaded from
// a fragment. It is born active and records which units were running when
// it was taken; stopping it (or, with Cleanup set, all of its referenced
// units going inactive) removes it.
type Snapshot struct {
	base
	cfg *SnapshotConfig

	// Saved maps unit id -> whether the unit was active at snapshot time.
	Saved map[string]bool
}

func newSnapshot(u *unit.Unit, deps Deps) *Snapshot {
	cfg, _ := u.Config.(*SnapshotConfig)
	if cfg == nil {
		cfg = &SnapshotConfig{}
	}
	return &Snapshot{base: base{unit: u, deps: deps}, cfg: cfg, Saved: make(map[string]bool)}
}

// Record marks the snapshot as taken over the given active unit ids and
// activates it.
func (s *Snapshot) Record(activeUnits []string) {
	for _, id := range activeUnits {
		s.Saved[id] = true
	}
	s.setState(unit.Active, "active")
}

// Cleanup reports whether the snapshot asked to be removed automatically
// once every referenced unit is inactive.
func (s *Snapshot) Cleanup() bool { return s.cfg.Cleanup }

func (s *Snapshot) Start() error { return ErrNotSupported }

func (s *Snapshot) Stop() error {
	s.setState(unit.Inactive, "dead")
	return nil
}

func (s *Snapshot) Reload() error { return ErrNotSupported }

func (s *Snapshot) SigChld(int, bool)                {}
func (s *Snapshot) Serialize() map[string]string     { return s.serializeState() }
func (s *Snapshot) Deserialize(kv map[string]string) { s.deserializeState(kv) }
