package unittype

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/initcore/initcore/internal/unit"
)

func TestTimerMonotonicNextElapse(t *testing.T) {
	u := unit.NewStub("job.timer")
	u.Config = &TimerConfig{OnActiveSec: 5 * time.Minute}
	tm := New(u, Deps{}).(*Timer)

	require.True(t, tm.NextElapse(time.Now()).IsZero(), "inactive timer has no next elapse")

	require.NoError(t, tm.Start())
	next := tm.NextElapse(time.Now())
	require.False(t, next.IsZero())
	require.WithinDuration(t, time.Now().Add(5*time.Minute), next, time.Second)

	tm.Elapsed(next)
	require.True(t, tm.NextElapse(next).IsZero(), "monotonic timer fires once")
}

func TestTimerCalendarSchedule(t *testing.T) {
	u := unit.NewStub("nightly.timer")
	u.Config = &TimerConfig{OnCalendar: []string{"0 3 * * *"}}
	tm := New(u, Deps{}).(*Timer)
	require.NoError(t, tm.Start())

	now := time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC)
	next := tm.NextElapse(now)
	require.Equal(t, 3, next.Hour())
	require.True(t, next.After(now))

	// Calendar timers keep recurring after each firing.
	tm.Elapsed(next)
	again := tm.NextElapse(next.Add(time.Minute))
	require.True(t, again.After(next))
}

func TestTimerFiresTrigger(t *testing.T) {
	u := unit.NewStub("job.timer")
	u.Config = &TimerConfig{OnActiveSec: time.Second}
	var fired *unit.Unit
	tm := New(u, Deps{Trigger: func(tu *unit.Unit) { fired = tu }}).(*Timer)
	require.NoError(t, tm.Start())
	tm.Elapsed(time.Now())
	require.Equal(t, u, fired)
}

func TestTargetStartStop(t *testing.T) {
	u := unit.NewStub("multi-user.target")
	m := New(u, Deps{})
	require.NoError(t, m.Start())
	require.Equal(t, unit.Active, u.ActiveState)
	require.NoError(t, m.Stop())
	require.Equal(t, unit.Inactive, u.ActiveState)
}

func TestDeviceFollowsUevents(t *testing.T) {
	u := unit.NewStub("dev-sda1.device")
	d := New(u, Deps{}).(*Device)
	require.ErrorIs(t, d.Start(), ErrNotSupported)
	d.Plugged()
	require.Equal(t, unit.Active, u.ActiveState)
	require.Equal(t, "plugged", u.SubState)
	d.Unplugged()
	require.Equal(t, unit.Inactive, u.ActiveState)
}

func TestMountLifecycle(t *testing.T) {
	u := unit.NewStub("mnt-data.mount")
	u.Config = &MountConfig{What: "/dev/sdb1", Where: "/mnt/data", Type: "ext4"}
	sp := &fakeSpawner{}
	m := New(u, Deps{Spawner: sp}).(*Mount)

	require.NoError(t, m.Start())
	require.Equal(t, "mounting", u.SubState)
	require.Equal(t, "/bin/mount", sp.spawned[0].Path)

	m.SigChld(sp.nextPID, true)
	require.Equal(t, unit.Active, u.ActiveState)
	require.Equal(t, "mounted", u.SubState)

	require.NoError(t, m.Stop())
	m.SigChld(sp.nextPID, true)
	require.Equal(t, unit.Inactive, u.ActiveState)
}

func TestMountFailure(t *testing.T) {
	u := unit.NewStub("bad.mount")
	u.Config = &MountConfig{What: "/dev/nope", Where: "/bad"}
	sp := &fakeSpawner{}
	m := New(u, Deps{Spawner: sp}).(*Mount)
	require.NoError(t, m.Start())
	m.SigChld(sp.nextPID, false)
	require.Equal(t, unit.Failed, u.ActiveState)
}

func TestSocketTriggersService(t *testing.T) {
	u := unit.NewStub("web.socket")
	var fired *unit.Unit
	s := New(u, Deps{Trigger: func(tu *unit.Unit) { fired = tu }}).(*Socket)
	require.NoError(t, s.Start())
	require.Equal(t, "listening", u.SubState)

	s.ConnectionReceived()
	require.Equal(t, u, fired)
	require.Equal(t, "running", u.SubState)

	s.ServiceSettled()
	require.Equal(t, "listening", u.SubState)
}

func TestSnapshotRecordsAndStops(t *testing.T) {
	u := unit.NewStub("before-upgrade.snapshot")
	u.Config = &SnapshotConfig{Cleanup: true}
	s := New(u, Deps{}).(*Snapshot)

	s.Record([]string{"a.service", "b.service"})
	require.Equal(t, unit.Active, u.ActiveState)
	require.True(t, s.Saved["a.service"])
	require.True(t, s.Cleanup())

	require.ErrorIs(t, s.Start(), ErrNotSupported)
	require.NoError(t, s.Stop())
	require.Equal(t, unit.Inactive, u.ActiveState)
}
