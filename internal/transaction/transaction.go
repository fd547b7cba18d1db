// Package transaction implements the transaction builder: turning an
// external (verb, unit, mode) request into a consistent, conflict-free set
// of jobs with a valid ordering.
package transaction

import (
	"github.com/pkg/errors"

	"github.com/initcore/initcore/internal/unit"
)

// Error kinds returned by Build, one per failure mode.
var (
	ErrMasked              = errors.New("transaction: unit is masked")
	ErrJobsConflict        = errors.New("transaction: candidate jobs for a unit cannot be merged")
	ErrOrderingCycle       = errors.New("transaction: unbreakable ordering cycle among installed jobs")
	ErrIsolateForbidden    = errors.New("transaction: isolate requested for a unit whose type forbids it")
	ErrJobConflictWithLive = errors.New("transaction: candidate job conflicts with an already-installed job")
)

// candidate is a job proposed during expansion, before it is committed to
// the registry.
type candidate struct {
	unit      *unit.Unit
	jobType   unit.JobType
	essential bool // pulled in via a Requires-strength edge; never dropped to break a cycle
}

// Transaction is the ephemeral per-request working set.
type Transaction struct {
	jobs   map[string]*candidate // unit id -> candidate
	anchor string                // unit id of the anchor
}

// Hooks let the owner of the Builder observe commit-time effects: newly
// installed jobs (to enqueue them on the run-queue and emit JobNew) and
// live jobs displaced by a replace-mode transaction (JobRemoved with
// result=cancelled).
type Hooks struct {
	OnInstall func(*unit.Job)
	OnCancel  func(*unit.Job)
}

// Builder computes and commits transactions against a Registry.
type Builder struct {
	Registry *unit.Registry
	Hooks    Hooks
}

// NewBuilder returns a Builder bound to reg.
func NewBuilder(reg *unit.Registry) *Builder {
	return &Builder{Registry: reg}
}

// Build computes and commits a transaction for (verb, target, mode,
// override), returning the anchor job. On any error, no side effects
// persist.
func (b *Builder) Build(verb unit.JobType, target *unit.Unit, mode unit.Mode, override bool) (*unit.Job, error) {
	if target.LoadState == unit.LoadMasked {
		return nil, ErrMasked
	}

	if mode == unit.ModeIsolate && !target.AllowIsolate {
		return nil, ErrIsolateForbidden
	}

	tx := &Transaction{jobs: make(map[string]*candidate), anchor: target.ID}

	if err := b.expand(tx, verb, target, mode, true); err != nil {
		return nil, err
	}

	if mode == unit.ModeIsolate {
		if err := b.expandIsolate(tx, target); err != nil {
			return nil, err
		}
	}

	if err := b.deleteCycles(tx); err != nil {
		return nil, err
	}

	b.dropRedundant(tx, override)

	reused, err := b.mergeWithLive(tx, mode, override)
	if err != nil {
		return nil, err
	}

	return b.commit(tx, mode, override, reused), nil
}

// add proposes jobType for u, merging with whatever candidate is already
// present for u per the fixed merge table. Returns an error if the merge
// is impossible.
func (tx *Transaction) add(u *unit.Unit, jobType unit.JobType, essential bool) error {
	existing, ok := tx.jobs[u.ID]
	if !ok {
		tx.jobs[u.ID] = &candidate{unit: u, jobType: jobType, essential: essential}
		return nil
	}
	merged, ok := unit.MergeJobType(existing.jobType, jobType)
	if !ok {
		return errors.Wrapf(ErrJobsConflict, "unit %s: %s vs %s", u.ID, existing.jobType, jobType)
	}
	existing.jobType = merged
	existing.essential = existing.essential || essential
	return nil
}
