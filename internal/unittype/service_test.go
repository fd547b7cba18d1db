package unittype

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/initcore/initcore/internal/unit"
)

type fakeSpawner struct {
	nextPID  int
	spawned  []ExecCommand
	killed   []int
	failPath string
}

func (f *fakeSpawner) Spawn(cmd ExecCommand, env []string) (int, error) {
	if cmd.Path == f.failPath {
		return 0, fmt.Errorf("spawn refused for %s", cmd.Path)
	}
	f.nextPID++
	f.spawned = append(f.spawned, cmd)
	return f.nextPID, nil
}

func (f *fakeSpawner) Kill(pid, sig int) error {
	f.killed = append(f.killed, pid)
	return nil
}

type recorder struct {
	transitions []string
}

func (r *recorder) notify(u *unit.Unit, old, new unit.ActiveState) {
	r.transitions = append(r.transitions, string(old)+"->"+string(new))
}

func newTestService(t *testing.T, cfg *ServiceConfig) (*Service, *fakeSpawner, *recorder) {
	t.Helper()
	u := unit.NewStub("app.service")
	u.Config = cfg
	sp := &fakeSpawner{}
	rec := &recorder{}
	m := New(u, Deps{Notify: rec.notify, Spawner: sp})
	svc, ok := m.(*Service)
	require.True(t, ok)
	return svc, sp, rec
}

func TestSimpleServiceStartStop(t *testing.T) {
	svc, sp, rec := newTestService(t, &ServiceConfig{
		Type:      "simple",
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
	})

	require.NoError(t, svc.Start())
	require.Equal(t, unit.Active, svc.unit.ActiveState)
	require.Equal(t, "running", svc.unit.SubState)
	require.Len(t, sp.spawned, 1)
	require.Equal(t, []string{"inactive->activating", "activating->active"}, rec.transitions)

	require.NoError(t, svc.Stop())
	require.Equal(t, unit.Deactivating, svc.unit.ActiveState)
	require.Equal(t, "stop-sigterm", svc.unit.SubState)
	require.Len(t, sp.killed, 1)

	svc.SigChld(sp.killed[0], true)
	require.Equal(t, unit.Inactive, svc.unit.ActiveState)
	require.Equal(t, "dead", svc.unit.SubState)
}

func TestStartPreRunsBeforeMain(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStartPre: []ExecCommand{{Path: "/bin/pre1"}, {Path: "/bin/pre2"}},
		ExecStart:    []ExecCommand{{Path: "/bin/app"}},
	})

	require.NoError(t, svc.Start())
	require.Equal(t, "start-pre", svc.unit.SubState)
	require.Equal(t, "/bin/pre1", sp.spawned[0].Path)

	svc.SigChld(1, true) // pre1 done
	require.Equal(t, "/bin/pre2", sp.spawned[1].Path)
	svc.SigChld(2, true) // pre2 done

	require.Equal(t, unit.Active, svc.unit.ActiveState)
	require.Equal(t, "/bin/app", sp.spawned[2].Path)
}

func TestStartPreFailureGoesFailed(t *testing.T) {
	svc, _, _ := newTestService(t, &ServiceConfig{
		ExecStartPre: []ExecCommand{{Path: "/bin/pre"}},
		ExecStart:    []ExecCommand{{Path: "/bin/app"}},
	})

	require.NoError(t, svc.Start())
	svc.SigChld(1, false)

	require.Equal(t, unit.Failed, svc.unit.ActiveState)
	require.Equal(t, "failed", svc.unit.SubState)
}

func TestIgnorableStartPreFailureContinues(t *testing.T) {
	svc, _, _ := newTestService(t, &ServiceConfig{
		ExecStartPre: []ExecCommand{{Path: "/bin/pre", Ignore: true}},
		ExecStart:    []ExecCommand{{Path: "/bin/app"}},
	})

	require.NoError(t, svc.Start())
	svc.SigChld(1, false)
	require.Equal(t, unit.Active, svc.unit.ActiveState)
}

func TestMainExitUncleanFails(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
	})
	require.NoError(t, svc.Start())
	svc.SigChld(sp.nextPID, false)
	require.Equal(t, unit.Failed, svc.unit.ActiveState)
	require.True(t, svc.AutoRestart() == false)
}

func TestRestartPolicyOnFailure(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
		Restart:   "on-failure",
	})
	require.NoError(t, svc.Start())
	svc.SigChld(sp.nextPID, false)
	require.True(t, svc.AutoRestart())
}

func TestOneshotWaitsForExit(t *testing.T) {
	svc, sp, rec := newTestService(t, &ServiceConfig{
		Type:      "oneshot",
		ExecStart: []ExecCommand{{Path: "/bin/once"}},
	})
	require.NoError(t, svc.Start())
	require.Equal(t, unit.Activating, svc.unit.ActiveState)

	svc.SigChld(sp.nextPID, true)
	require.Equal(t, unit.Inactive, svc.unit.ActiveState)
	// The activating->active edge must have been visible so a start job
	// can complete before the unit settles back to dead.
	require.Contains(t, rec.transitions, "activating->active")
}

func TestRemainAfterExitStaysActive(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		Type:            "oneshot",
		ExecStart:       []ExecCommand{{Path: "/bin/once"}},
		RemainAfterExit: true,
	})
	require.NoError(t, svc.Start())
	svc.SigChld(sp.nextPID, true)
	require.Equal(t, unit.Active, svc.unit.ActiveState)
	require.Equal(t, "exited", svc.unit.SubState)
}

func TestExecStopRunsThenSigterm(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
		ExecStop:  []ExecCommand{{Path: "/bin/stopper"}},
	})
	require.NoError(t, svc.Start())
	mainPID := sp.nextPID

	require.NoError(t, svc.Stop())
	require.Equal(t, "stop", svc.unit.SubState)
	stopPID := sp.nextPID

	svc.SigChld(stopPID, true)
	require.Equal(t, "stop-sigterm", svc.unit.SubState)
	require.Equal(t, []int{mainPID}, sp.killed)

	svc.SigChld(mainPID, true)
	require.Equal(t, unit.Inactive, svc.unit.ActiveState)
}

func TestEscalateSigkillsAndFails(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
	})
	require.NoError(t, svc.Start())
	mainPID := sp.nextPID

	require.NoError(t, svc.Stop())
	svc.Escalate()
	require.Equal(t, "stop-sigkill", svc.unit.SubState)

	svc.SigChld(mainPID, false)
	require.Equal(t, unit.Failed, svc.unit.ActiveState)
}

func TestReloadRunsExecReload(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStart:  []ExecCommand{{Path: "/bin/app"}},
		ExecReload: []ExecCommand{{Path: "/bin/reloader"}},
	})
	require.NoError(t, svc.Start())

	require.NoError(t, svc.Reload())
	require.Equal(t, unit.Reloading, svc.unit.ActiveState)

	svc.SigChld(sp.nextPID, true)
	require.Equal(t, unit.Active, svc.unit.ActiveState)
	require.Equal(t, "running", svc.unit.SubState)
}

func TestReloadWithoutExecReloadNotSupported(t *testing.T) {
	svc, _, _ := newTestService(t, &ServiceConfig{
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
	})
	require.NoError(t, svc.Start())
	require.ErrorIs(t, svc.Reload(), ErrNotSupported)
}

func TestSpawnFailureFailsUnit(t *testing.T) {
	svc, sp, _ := newTestService(t, &ServiceConfig{
		ExecStart: []ExecCommand{{Path: "/bin/app"}},
	})
	sp.failPath = "/bin/app"
	require.NoError(t, svc.Start())
	require.Equal(t, unit.Failed, svc.unit.ActiveState)
}
