package jobengine

import "github.com/initcore/initcore/internal/unit"

// finish completes j: the job leaves its unit and the job table, waiters
// and the bus learn the result, failures cascade to dependent jobs, and a
// run-queue rescan is requested since the completion may have unblocked
// ordering successors.
func (e *Engine) finish(j *unit.Job, result unit.Result) {
	e.stopTimeout(j)
	e.dequeue(j)
	e.reg.RemoveJob(j)
	j.Finish(result)
	if e.OnJobFinished != nil {
		e.OnJobFinished(j, result)
	}

	switch result {
	case unit.ResultDone:
		if j.Type == unit.JobReload || j.Type == unit.JobReloadOrStart {
			e.propagateReload(j.Unit)
		}
	case unit.ResultFailed, unit.ResultTimeout, unit.ResultDependency:
		e.propagateFailure(j.Unit)
	}

	if e.running {
		e.rescan = true
	} else {
		e.Run()
	}
}

// propagateFailure: a failed job on U fails every waiting
// start-family job on a unit that Requires, RequiresOverridable or
// BindsTo U, with result=dependency.
// Wants does not propagate. Cascades recurse through finish.
func (e *Engine) propagateFailure(u *unit.Unit) {
	for _, kind := range []unit.DependencyKind{unit.RequiredBy, unit.RequiredByOverridable, unit.BoundBy} {
		for _, id := range u.DependencyTargets(kind) {
			dep, ok := e.reg.Get(id)
			if !ok || dep.Job == nil {
				continue
			}
			k := dep.Job
			if k.State != unit.JobWaiting {
				continue
			}
			switch k.Type {
			case unit.JobStart, unit.JobVerifyActive, unit.JobReloadOrStart, unit.JobRestart:
				e.log.Info("job failed through dependency", "unit", dep.ID, "failed-dependency", u.ID)
				e.finish(k, unit.ResultDependency)
			}
		}
	}
}

// propagateReload: a completed reload on U enqueues
// a reload for every active PropagatesReloadTo target.
func (e *Engine) propagateReload(u *unit.Unit) {
	if e.EnqueueRequest == nil {
		return
	}
	for _, id := range u.DependencyTargets(unit.PropagatesReloadTo) {
		target, ok := e.reg.Get(id)
		if !ok || !target.IsActive() {
			continue
		}
		e.EnqueueRequest(unit.JobReload, target, unit.ModeReplace)
	}
}

// NotifyActiveStateChange is the registry-propagation entry point:
// every unit state machine reports its active-state transitions here, and
// the engine translates them into job completions and dependency side
// effects.
func (e *Engine) NotifyActiveStateChange(u *unit.Unit, old, new unit.ActiveState) {
	if j := u.Job; j != nil && j.State == unit.JobRunning {
		e.reconcileJob(j, old, new)
	}

	if new == unit.Failed {
		e.startOnFailureUnits(u)
	}

	if new == unit.Inactive || new == unit.Failed {
		e.stopBoundUnits(u)
	}

	if e.running {
		e.rescan = true
	} else {
		e.Run()
	}
}

// reconcileJob decides whether the state transition completes the running
// job on the unit.
func (e *Engine) reconcileJob(j *unit.Job, old, new unit.ActiveState) {
	switch j.Type {
	case unit.JobStart, unit.JobVerifyActive:
		switch new {
		case unit.Active:
			e.finish(j, unit.ResultDone)
		case unit.Failed:
			e.finish(j, unit.ResultFailed)
		case unit.Inactive:
			if old == unit.Activating || old == unit.Deactivating {
				e.finish(j, unit.ResultFailed)
			}
		}
	case unit.JobStop:
		if new == unit.Inactive || new == unit.Failed {
			e.finish(j, unit.ResultDone)
		}
	case unit.JobReload, unit.JobReloadOrStart:
		switch new {
		case unit.Active:
			if old == unit.Reloading || old == unit.Activating {
				e.finish(j, unit.ResultDone)
			}
		case unit.Failed:
			e.finish(j, unit.ResultFailed)
		case unit.Inactive:
			e.finish(j, unit.ResultFailed)
		}
	case unit.JobRestart, unit.JobTryRestart:
		switch new {
		case unit.Inactive, unit.Failed:
			// The teardown half is done; transmute into the start half and
			// requeue so ordering is re-checked.
			j.Type = unit.JobStart
			j.State = unit.JobWaiting
			e.Add(j)
		}
	}
}

// startOnFailureUnits starts every OnFailure target of a failed unit.
func (e *Engine) startOnFailureUnits(u *unit.Unit) {
	if e.EnqueueRequest == nil {
		return
	}
	for _, id := range u.DependencyTargets(unit.OnFailure) {
		target, ok := e.reg.Get(id)
		if !ok {
			continue
		}
		e.log.Info("activating OnFailure unit", "failed", u.ID, "unit", target.ID)
		e.EnqueueRequest(unit.JobStart, target, unit.ModeReplace)
	}
}

// stopBoundUnits stops the units bound to u, which cannot outlive
// it.
func (e *Engine) stopBoundUnits(u *unit.Unit) {
	if e.EnqueueRequest == nil {
		return
	}
	for _, id := range u.DependencyTargets(unit.BoundBy) {
		dep, ok := e.reg.Get(id)
		if !ok || dep.IsInactiveOrFailed() {
			continue
		}
		e.EnqueueRequest(unit.JobStop, dep, unit.ModeReplace)
	}
}

// Trigger is the event-side activation path: a socket connection,
// timer elapse, path hit or automount access pulls the unit's Triggers
// targets active.
func (e *Engine) Trigger(u *unit.Unit) {
	if e.EnqueueRequest == nil {
		return
	}
	for _, id := range u.DependencyTargets(unit.Triggers) {
		target, ok := e.reg.Get(id)
		if !ok || target.IsActive() {
			continue
		}
		e.EnqueueRequest(unit.JobStart, target, unit.ModeReplace)
	}
}
