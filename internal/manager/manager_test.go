package manager

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/initcore/initcore/internal/unit"
)

func writeUnits(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func newTestManager(t *testing.T, files map[string]string) *Manager {
	t.Helper()
	dir := writeUnits(t, files)
	return New(Options{LookupPath: []string{dir}})
}

func TestStartUnitPullsDependencyChain(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Unit]\nDescription=A\nRequires=b.service\nAfter=b.service\n\n[Service]\nExecStart=/bin/a\n",
		"b.service": "[Unit]\nDescription=B\n\n[Service]\nExecStart=/bin/b\n",
	})

	j, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)
	require.NotNil(t, j)

	a, _ := m.GetUnit("a.service")
	b, _ := m.GetUnit("b.service")
	require.Equal(t, unit.Active, a.ActiveState)
	require.Equal(t, unit.Active, b.ActiveState)
	require.Equal(t, 0, m.Registry.NJobs(), "all jobs should have completed")
	require.NoError(t, m.Registry.CheckInvariants())
}

func TestStartUnknownUnitFails(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.StartUnit("ghost.service", unit.ModeReplace)
	require.Error(t, err)
}

func TestStartMaskedUnitFails(t *testing.T) {
	m := newTestManager(t, map[string]string{"masked.service": ""})
	_, err := m.StartUnit("masked.service", unit.ModeReplace)
	require.Error(t, err)
	u, ok := m.GetUnit("masked.service")
	require.True(t, ok)
	require.Equal(t, unit.LoadMasked, u.LoadState)
	require.Equal(t, 0, m.Registry.NJobs())
}

func TestSetAndUnsetEnvironment(t *testing.T) {
	m := newTestManager(t, nil)
	m.SetEnvironment([]string{"FOO=bar", "BAZ=qux"})
	require.Equal(t, []string{"FOO=bar", "BAZ=qux"}, m.Environment())

	m.SetEnvironment([]string{"FOO=replaced"})
	require.Equal(t, []string{"BAZ=qux", "FOO=replaced"}, m.Environment())

	m.UnsetEnvironment([]string{"BAZ"})
	require.Equal(t, []string{"FOO=replaced"}, m.Environment())
}

func TestSubscribeReceivesJobSignals(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Service]\nExecStart=/bin/a\n",
	})
	id, ch := m.Subscribe()
	defer m.Unsubscribe(id)

	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)

	var kinds []string
	for len(ch) > 0 {
		kinds = append(kinds, (<-ch).Kind)
	}
	require.Contains(t, kinds, "unit-new")
	require.Contains(t, kinds, "job-new")
	require.Contains(t, kinds, "job-removed")
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	files := map[string]string{
		"a.service": "[Service]\nExecStart=/bin/a\n",
		"b.target":  "[Unit]\nDescription=B\n",
	}
	m := newTestManager(t, files)
	m.SetEnvironment([]string{"FOO=bar"})
	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)
	_, err = m.StartUnit("b.target", unit.ModeReplace)
	require.NoError(t, err)

	var blob bytes.Buffer
	require.NoError(t, m.Serialize(&blob))

	dir := writeUnits(t, files)
	m2 := New(Options{LookupPath: []string{dir}})
	require.NoError(t, m2.Deserialize(bytes.NewReader(blob.Bytes())))

	require.Equal(t, []string{"FOO=bar"}, m2.Environment())
	a, ok := m2.GetUnit("a.service")
	require.True(t, ok)
	require.Equal(t, unit.Active, a.ActiveState)
	b, ok := m2.GetUnit("b.target")
	require.True(t, ok)
	require.Equal(t, unit.Active, b.ActiveState)
}

func TestCreateSnapshotRecordsActiveUnits(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Service]\nExecStart=/bin/a\n",
	})
	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)

	snap, err := m.CreateSnapshot("before-test.snapshot", false)
	require.NoError(t, err)
	require.Equal(t, unit.Active, snap.ActiveState)
	require.True(t, snap.Dependencies[unit.Wants]["a.service"])

	_, err = m.CreateSnapshot("before-test.snapshot", false)
	require.Error(t, err, "duplicate snapshot names are rejected")
}

func TestSnapshotAutoNameAndCleanup(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Service]\nExecStart=/bin/a\n",
	})
	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)

	snap, err := m.CreateSnapshot("", true)
	require.NoError(t, err)
	require.Contains(t, snap.ID, ".snapshot")

	_, err = m.StopUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)
	// The stop is waiting on SIGTERM delivery; reap the fake main pid so
	// the service settles to dead.
	m.routeChildExit(ChildExit{PID: 1<<20 + 1, Clean: true})

	_, stillThere := m.GetUnit(snap.ID)
	require.False(t, stillThere, "cleanup snapshot should vanish once its units are down")
	require.NoError(t, m.Registry.CheckInvariants())
}

func TestChildExitDrivesServiceFailure(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Service]\nExecStart=/bin/a\n",
	})
	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)
	a, _ := m.GetUnit("a.service")
	require.Equal(t, unit.Active, a.ActiveState)

	// The logging spawner's fake pids start above 1<<20; the first spawn
	// got the first one.
	m.routeChildExit(ChildExit{PID: 1<<20 + 1, Clean: false})
	require.Equal(t, unit.Failed, a.ActiveState)
}

func TestAutoRestartPolicy(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Service]\nExecStart=/bin/a\nRestart=always\n",
	})
	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)
	a, _ := m.GetUnit("a.service")

	m.routeChildExit(ChildExit{PID: 1<<20 + 1, Clean: false})
	require.Equal(t, unit.Active, a.ActiveState, "Restart=always should bring the service back")
}

func TestDumpListsUnitsAndState(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Unit]\nDescription=The A service\n\n[Service]\nExecStart=/bin/a\n",
	})
	_, err := m.StartUnit("a.service", unit.ModeReplace)
	require.NoError(t, err)

	dump := m.Dump()
	require.Contains(t, dump, "Unit a.service")
	require.Contains(t, dump, "The A service")
	require.Contains(t, dump, "active (running)")
}

func TestReloadReplyOrdering(t *testing.T) {
	m := newTestManager(t, map[string]string{
		"a.service": "[Unit]\nDescription=original\n\n[Service]\nExecStart=/bin/a\n",
	})
	_, err := m.LoadUnit("a.service")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	order := make(chan string, 8)

	m.Dispatch(func() { order <- "before" })
	m.Reload(func(err error) {
		require.NoError(t, err)
		order <- "reload-reply"
	})
	m.Dispatch(func() {
		// Handlers queued behind the reload still see a working registry.
		_, ok := m.GetUnit("a.service")
		require.True(t, ok)
		order <- "after"
		cancel()
	})

	done := make(chan Directive, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case d := <-done:
		require.Equal(t, DirectiveExit, d)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not exit")
	}

	require.Equal(t, "before", <-order)
	require.Equal(t, "reload-reply", <-order, "the reply must not overtake the reload")
	require.Equal(t, "after", <-order)
}

func TestExitDirective(t *testing.T) {
	m := newTestManager(t, nil)
	m.Exit()
	done := make(chan Directive, 1)
	go func() { done <- m.Run(context.Background()) }()
	select {
	case d := <-done:
		require.Equal(t, DirectiveExit, d)
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not honor Exit")
	}
}
