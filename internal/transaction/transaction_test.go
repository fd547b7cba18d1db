package transaction

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/initcore/initcore/internal/unit"
)

func setup() (*unit.Registry, *Builder) {
	reg := unit.NewRegistry()
	return reg, NewBuilder(reg)
}

func mustDep(t *testing.T, reg *unit.Registry, src, dst *unit.Unit, kind unit.DependencyKind) {
	t.Helper()
	if err := reg.AddDependency(src, dst, kind, true); err != nil {
		t.Fatal(err)
	}
}

func TestLinearChainPullsWholeClosure(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")
	c := reg.Load("c.service")

	mustDep(t, reg, a, bb, unit.Requires)
	mustDep(t, reg, a, bb, unit.After)
	mustDep(t, reg, bb, c, unit.Requires)
	mustDep(t, reg, bb, c, unit.After)

	anchor, err := b.Build(unit.JobStart, a, unit.ModeReplace, false)
	if err != nil {
		t.Fatal(err)
	}
	if anchor == nil || anchor.Unit != a || anchor.Type != unit.JobStart {
		t.Fatalf("anchor = %+v, want start job on a.service", anchor)
	}

	for _, u := range []*unit.Unit{a, bb, c} {
		if u.Job == nil || u.Job.Type != unit.JobStart {
			t.Fatalf("unit %s has no start job installed", u.ID)
		}
	}
	if n := reg.NJobs(); n != 3 {
		t.Fatalf("NJobs = %d, want 3", n)
	}
	if err := reg.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestConflictsAddStopJob(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")
	bb.ActiveState = unit.Active

	mustDep(t, reg, a, bb, unit.Conflicts)

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}

	if a.Job == nil || a.Job.Type != unit.JobStart {
		t.Fatal("a should get a start job")
	}
	if bb.Job == nil || bb.Job.Type != unit.JobStop {
		t.Fatal("conflicting active unit should get a stop job")
	}
}

func TestMaskedUnitRejectedWithoutSideEffect(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	a.LoadState = unit.LoadMasked

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); !errors.Is(err, ErrMasked) {
		t.Fatalf("err = %v, want ErrMasked", err)
	}
	if reg.NJobs() != 0 {
		t.Fatal("masked start must leave no jobs behind")
	}
}

func TestBreakableCycleDropsWantsJob(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")

	mustDep(t, reg, a, bb, unit.Wants)
	mustDep(t, reg, a, bb, unit.After)
	mustDep(t, reg, bb, a, unit.Wants)
	mustDep(t, reg, bb, a, unit.After)

	anchor, err := b.Build(unit.JobStart, a, unit.ModeReplace, false)
	if err != nil {
		t.Fatal(err)
	}
	if anchor.Unit != a {
		t.Fatal("anchor must survive cycle deletion")
	}
	if bb.Job != nil {
		t.Fatal("non-essential job should have been deleted to break the cycle")
	}
}

func TestUnbreakableCycleFailsWithoutSideEffect(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")

	mustDep(t, reg, a, bb, unit.Requires)
	mustDep(t, reg, a, bb, unit.After)
	mustDep(t, reg, bb, a, unit.Requires)
	mustDep(t, reg, bb, a, unit.After)

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); !errors.Is(err, ErrOrderingCycle) {
		t.Fatalf("err = %v, want ErrOrderingCycle", err)
	}
	if reg.NJobs() != 0 {
		t.Fatal("failed transaction must leave no jobs behind")
	}
}

func TestSecondIdenticalTransactionIsNoOp(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")
	mustDep(t, reg, a, bb, unit.Requires)

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}
	first := reg.NJobs()

	// Same request again: every candidate merges with the identical live
	// job, so nothing new is installed and nothing is cancelled.
	cancelled := 0
	b.Hooks.OnCancel = func(*unit.Job) { cancelled++ }
	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}
	if reg.NJobs() != first {
		t.Fatalf("NJobs changed from %d to %d on identical transaction", first, reg.NJobs())
	}
	if cancelled != 0 {
		t.Fatal("identical transaction should not cancel anything")
	}
}

func TestRedundantJobsDropped(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")
	mustDep(t, reg, a, bb, unit.Requires)
	bb.ActiveState = unit.Active

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}
	if bb.Job != nil {
		t.Fatal("already-active dependency should be dropped as redundant")
	}
	if a.Job == nil {
		t.Fatal("anchor must never be dropped")
	}
}

func TestModeFailRejectsConflictWithLive(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}
	startJob := a.Job

	if _, err := b.Build(unit.JobStop, a, unit.ModeFail, false); !errors.Is(err, ErrJobConflictWithLive) {
		t.Fatalf("err = %v, want ErrJobConflictWithLive", err)
	}
	if a.Job != startJob {
		t.Fatal("failed transaction must not displace the live job")
	}
}

func TestModeReplaceCancelsLiveJob(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")

	if _, err := b.Build(unit.JobStart, a, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}
	old := a.Job

	result := make(chan unit.Result, 1)
	old.Wait(result)

	var cancelled *unit.Job
	b.Hooks.OnCancel = func(j *unit.Job) { cancelled = j }

	stopJob, err := b.Build(unit.JobStop, a, unit.ModeReplace, false)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled != old {
		t.Fatal("OnCancel should fire for the displaced job")
	}
	if got := <-result; got != unit.ResultCancelled {
		t.Fatalf("displaced job result = %s, want cancelled", got)
	}
	if a.Job != stopJob || stopJob.Type != unit.JobStop {
		t.Fatal("new stop job should be installed")
	}
}

func TestIsolateForbiddenForPlainService(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	if _, err := b.Build(unit.JobStart, a, unit.ModeIsolate, false); !errors.Is(err, ErrIsolateForbidden) {
		t.Fatalf("err = %v, want ErrIsolateForbidden", err)
	}
}

func TestIsolateStopsUnreachableActiveUnits(t *testing.T) {
	reg, b := setup()
	target := reg.Load("multi-user.target")
	target.AllowIsolate = true
	wanted := reg.Load("wanted.service")
	stray := reg.Load("stray.service")
	idle := reg.Load("idle.service")

	mustDep(t, reg, target, wanted, unit.Wants)
	wanted.ActiveState = unit.Active
	stray.ActiveState = unit.Active
	// idle stays inactive and must be left alone.

	if _, err := b.Build(unit.JobStart, target, unit.ModeIsolate, false); err != nil {
		t.Fatal(err)
	}

	if stray.Job == nil || stray.Job.Type != unit.JobStop {
		t.Fatal("active unit outside the isolation closure should get a stop job")
	}
	if idle.Job != nil {
		t.Fatal("inactive unit should not be touched by isolate")
	}
	if wanted.Job != nil {
		t.Fatal("already-active wanted unit is redundant, not stopped")
	}
	if target.Job == nil || target.Job.Type != unit.JobStart {
		t.Fatal("isolation target must get its start job")
	}
}

func TestIgnoreDependenciesAffectsOnlyAnchor(t *testing.T) {
	reg, b := setup()
	a := reg.Load("a.service")
	bb := reg.Load("b.service")
	mustDep(t, reg, a, bb, unit.Requires)

	if _, err := b.Build(unit.JobStart, a, unit.ModeIgnoreDependencies, false); err != nil {
		t.Fatal(err)
	}
	if bb.Job != nil {
		t.Fatal("ignore-dependencies must not pull in requirements")
	}
	if a.Job == nil {
		t.Fatal("anchor job missing")
	}
}

func TestStopCascadesToRequiredBy(t *testing.T) {
	reg, b := setup()
	app := reg.Load("app.service")
	db := reg.Load("db.service")
	mustDep(t, reg, app, db, unit.Requires)
	app.ActiveState = unit.Active
	db.ActiveState = unit.Active

	if _, err := b.Build(unit.JobStop, db, unit.ModeReplace, false); err != nil {
		t.Fatal(err)
	}
	if app.Job == nil || app.Job.Type != unit.JobStop {
		t.Fatal("stopping a required unit should cascade a stop to its dependents")
	}
}
