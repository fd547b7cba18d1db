package transaction

import (
	"github.com/pkg/errors"

	"github.com/initcore/initcore/internal/unit"
)

// dropRedundant implements Phase 3: a candidate whose unit is
// already in the job's target active state is dropped, unless the
// transaction was built with override or the candidate is the anchor.
func (b *Builder) dropRedundant(tx *Transaction, override bool) {
	if override {
		return
	}
	for id, c := range tx.jobs {
		if id == tx.anchor {
			continue
		}
		if redundant(c) {
			delete(tx.jobs, id)
		}
	}
}

func redundant(c *candidate) bool {
	switch c.jobType {
	case unit.JobStart, unit.JobVerifyActive:
		return c.unit.IsActive()
	case unit.JobStop:
		return c.unit.IsInactiveOrFailed()
	}
	// reload/restart family jobs always have an effect.
	return false
}

// mergeWithLive implements Phase 4: reconcile each candidate with
// the job already installed on its unit, if any. Candidates that merge
// cleanly reuse the live job; unmergeable candidates abort the whole
// transaction under mode=fail, or displace the live job otherwise. The
// conflict check runs to completion before anything is mutated, so a
// failing transaction leaves no side effects.
func (b *Builder) mergeWithLive(tx *Transaction, mode unit.Mode, override bool) (map[string]*unit.Job, error) {
	for id, c := range tx.jobs {
		live := c.unit.Job
		if live == nil {
			continue
		}
		if _, ok := unit.MergeJobType(live.Type, c.jobType); !ok && mode == unit.ModeFail {
			return nil, errors.Wrapf(ErrJobConflictWithLive, "unit %s: installed %s vs new %s", id, live.Type, c.jobType)
		}
	}

	reused := make(map[string]*unit.Job)
	for id, c := range tx.jobs {
		live := c.unit.Job
		if live == nil {
			continue
		}
		if merged, ok := unit.MergeJobType(live.Type, c.jobType); ok {
			live.Type = merged
			live.Override = live.Override || override
			reused[id] = live
			continue
		}
		// Displace: the live job's waiters learn they were cancelled; the
		// unit's state is not reverted; the new job drives it from
		// wherever it is.
		b.Registry.RemoveJob(live)
		live.Finish(unit.ResultCancelled)
		if b.Hooks.OnCancel != nil {
			b.Hooks.OnCancel(live)
		}
	}
	return reused, nil
}

// commit implements Phase 5: assign ids, install every remaining
// candidate on its unit, hand each new job to the engine via the OnInstall
// hook, and return the anchor job. By this point nothing can fail.
func (b *Builder) commit(tx *Transaction, mode unit.Mode, override bool, reused map[string]*unit.Job) *unit.Job {
	var anchorJob *unit.Job

	for id, c := range tx.jobs {
		j, ok := reused[id]
		if !ok {
			j = unit.NewJob(c.jobType, c.unit, mode, override)
			b.Registry.InstallJob(j)
			if b.Hooks.OnInstall != nil {
				b.Hooks.OnInstall(j)
			}
		}
		if id == tx.anchor {
			anchorJob = j
		}
	}
	return anchorJob
}
