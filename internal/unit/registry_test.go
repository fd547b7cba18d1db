package unit

import "testing"

func TestLoadCreatesStubAndQueues(t *testing.T) {
	r := NewRegistry()
	u := r.Load("a.service")
	if u.LoadState != LoadStub {
		t.Fatalf("new unit should be a stub, got %s", u.LoadState)
	}
	q := r.PopLoadQueue()
	if len(q) != 1 || q[0] != "a.service" {
		t.Fatalf("load queue = %v, want [a.service]", q)
	}
	if len(r.PopLoadQueue()) != 0 {
		t.Fatal("load queue should drain on pop")
	}
}

func TestAddDependencyMaintainsReverse(t *testing.T) {
	r := NewRegistry()
	a := r.Load("a.service")
	b := r.Load("b.service")

	if err := r.AddDependency(a, b, Requires, true); err != nil {
		t.Fatal(err)
	}

	if !a.Dependencies[Requires][b.ID] {
		t.Fatal("forward edge missing")
	}
	if !b.Dependencies[RequiredBy][a.ID] {
		t.Fatal("reverse edge missing")
	}
	if err := r.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestAddDependencyRejectsSelfEdge(t *testing.T) {
	r := NewRegistry()
	a := r.Load("a.service")
	if err := r.AddDependency(a, a, Requires, true); err == nil {
		t.Fatal("self-edge should be rejected")
	}
}

func TestAddDependencyIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.Load("a.service")
	b := r.Load("b.service")
	r.AddDependency(a, b, Wants, true)
	r.AddDependency(a, b, Wants, true)
	if len(a.Dependencies[Wants]) != 1 {
		t.Fatalf("expected one target after idempotent add, got %d", len(a.Dependencies[Wants]))
	}
}

func TestMergeRedirectsAliasesAndEdges(t *testing.T) {
	r := NewRegistry()
	into := r.Load("canonical.service")
	from := r.Load("alias-origin.service")
	other := r.Load("dep.service")

	r.AddDependency(from, other, Requires, true)

	r.Merge(into, from)

	if r.names["alias-origin.service"] != into {
		t.Fatal("alias was not redirected to into")
	}
	if !into.Dependencies[Requires][other.ID] {
		t.Fatal("edge was not moved to into")
	}
	if !other.Dependencies[RequiredBy][into.ID] {
		t.Fatal("reverse edge not rewritten to into")
	}
	if other.Dependencies[RequiredBy][from.ID] {
		t.Fatal("stale reverse edge to from should be removed")
	}
	if from.LoadState != LoadMerged {
		t.Fatalf("from.LoadState = %s, want merged", from.LoadState)
	}
	if err := r.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
}

func TestInstallAndRemoveJobUniqueness(t *testing.T) {
	r := NewRegistry()
	a := r.Load("a.service")
	j := NewJob(JobStart, a, ModeReplace, false)
	r.InstallJob(j)

	if j.ID == 0 {
		t.Fatal("job id should be assigned")
	}
	if a.Job != j {
		t.Fatal("unit back-pointer not set")
	}
	got, ok := r.GetJob(j.ID)
	if !ok || got != j {
		t.Fatal("GetJob did not return installed job")
	}

	r.RemoveJob(j)
	if _, ok := r.GetJob(j.ID); ok {
		t.Fatal("job should be gone from table after RemoveJob")
	}
	if a.Job != nil {
		t.Fatal("unit back-pointer should be cleared after RemoveJob")
	}
}

func TestMergeJobTypeTable(t *testing.T) {
	cases := []struct {
		a, b, want JobType
		ok         bool
	}{
		{JobStart, JobVerifyActive, JobStart, true},
		{JobReload, JobStart, JobReloadOrStart, true},
		{JobStart, JobReload, JobReloadOrStart, true},
		{JobRestart, JobTryRestart, JobRestart, true},
	}
	for _, c := range cases {
		got, ok := MergeJobType(c.a, c.b)
		if ok != c.ok || got != c.want {
			t.Errorf("MergeJobType(%s, %s) = (%s, %v), want (%s, %v)", c.a, c.b, got, ok, c.want, c.ok)
		}
	}

	if _, ok := MergeJobType(JobStart, JobStop); ok {
		t.Error("start/stop must conflict, not merge")
	}
}
