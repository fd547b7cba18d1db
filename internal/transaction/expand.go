package transaction

import "github.com/initcore/initcore/internal/unit"

// expand performs Phase 1: starting from u with verb, pull in every
// unit reachable via a dependency-strength edge, assigning each the job
// type its edge kind implies, and recursing into whatever was newly added.
// anchor marks the unit this call originated from transitively from the
// original Build request, which is always essential regardless of mode.
func (b *Builder) expand(tx *Transaction, verb unit.JobType, u *unit.Unit, mode unit.Mode, anchor bool) error {
	if err := tx.add(u, verb, anchor); err != nil {
		return err
	}

	if mode == unit.ModeIgnoreDependencies {
		return nil
	}

	switch verb {
	case unit.JobStart, unit.JobRestart, unit.JobReloadOrStart, unit.JobTryRestart:
		return b.expandStart(tx, u, mode)
	case unit.JobStop:
		return b.expandStop(tx, u, mode)
	case unit.JobReload, unit.JobVerifyActive:
		return nil
	}
	return nil
}

// expandStart pulls in the forward closure of a start: Requires/
// RequiresOverridable/Wants/BindsTo as start jobs, Requisite/
// RequisiteOverridable as verify-active, Conflicts as stop. Only newly
// visited units recurse, so a diamond-shaped dependency graph is expanded
// exactly once per unit.
func (b *Builder) expandStart(tx *Transaction, u *unit.Unit, mode unit.Mode) error {
	pulls := []struct {
		kind    unit.DependencyKind
		jobType unit.JobType
	}{
		{unit.Requires, unit.JobStart},
		{unit.RequiresOverridable, unit.JobStart},
		{unit.Wants, unit.JobStart},
		{unit.BindsTo, unit.JobStart},
		{unit.Requisite, unit.JobVerifyActive},
		{unit.RequisiteOverridable, unit.JobVerifyActive},
	}
	if mode != unit.ModeIgnoreRequirements {
		for _, p := range pulls {
			for _, id := range u.DependencyTargets(p.kind) {
				target, ok := b.Registry.Get(id)
				if !ok {
					continue
				}
				if target.NoRequires && unit.Essential(p.kind) {
					// Snapshot-style units cannot be pulled in as a
					// requirement of anything.
					continue
				}
				_, already := tx.jobs[target.ID]
				essential := unit.Essential(p.kind)
				if err := tx.add(target, p.jobType, essential); err != nil {
					return err
				}
				if !already && p.jobType != unit.JobVerifyActive {
					if err := b.expand(tx, unit.JobStart, target, mode, false); err != nil {
						return err
					}
				}
			}
		}
	}

	for _, id := range u.DependencyTargets(unit.Conflicts) {
		target, ok := b.Registry.Get(id)
		if !ok {
			continue
		}
		_, already := tx.jobs[target.ID]
		if err := tx.add(target, unit.JobStop, false); err != nil {
			return err
		}
		if !already {
			if err := b.expand(tx, unit.JobStop, target, mode, false); err != nil {
				return err
			}
		}
	}

	return nil
}

// expandStop pulls in the reverse closure of a stop: anything that
// RequiredBy/BoundBy depends on u must stop first, since its requirement
// is about to disappear.
func (b *Builder) expandStop(tx *Transaction, u *unit.Unit, mode unit.Mode) error {
	for _, kind := range []unit.DependencyKind{unit.RequiredBy, unit.RequiredByOverridable, unit.BoundBy} {
		for _, id := range u.DependencyTargets(kind) {
			target, ok := b.Registry.Get(id)
			if !ok {
				continue
			}
			_, already := tx.jobs[target.ID]
			if err := tx.add(target, unit.JobStop, unit.Essential(reverseOf(kind))); err != nil {
				return err
			}
			if !already {
				if err := b.expand(tx, unit.JobStop, target, mode, false); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func reverseOf(kind unit.DependencyKind) unit.DependencyKind {
	switch kind {
	case unit.RequiredBy:
		return unit.Requires
	case unit.RequiredByOverridable:
		return unit.RequiresOverridable
	case unit.BoundBy:
		return unit.BindsTo
	}
	return kind
}

// expandIsolate adds a stop job for every active unit not already present
// in tx (the "keep" set computed by the forward start expansion).
func (b *Builder) expandIsolate(tx *Transaction, anchor *unit.Unit) error {
	for _, u := range b.Registry.Units() {
		if u.ID == anchor.ID {
			continue
		}
		if _, keep := tx.jobs[u.ID]; keep {
			continue
		}
		if u.IsInactiveOrFailed() {
			continue
		}
		if err := tx.add(u, unit.JobStop, false); err != nil {
			return err
		}
	}
	return nil
}
