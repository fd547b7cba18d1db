package manager

import (
	"context"
	"time"

	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unitname"
	"github.com/initcore/initcore/internal/unittype"
)

// directive tells Run's caller what to do once the loop stops.
type directive int

const (
	directiveNone directive = iota
	// DirectiveExit asks the caller to exit the process.
	DirectiveExit
	// DirectiveReexecute asks the caller to serialize and exec itself.
	DirectiveReexecute
)

// Directive is the public alias for loop outcomes.
type Directive = directive

// Dispatch marshals f onto the event-loop task. Everything that mutates
// manager state from outside the loop (RPC handlers, timer callbacks) goes
// through here, which is what lets the components themselves stay
// lock-free.
func (m *Manager) Dispatch(f func()) {
	m.requests <- f
}

// ChildExited feeds one reaped child into the loop.
func (m *Manager) ChildExited(pid int, clean bool) {
	m.childExits <- ChildExit{PID: pid, Clean: clean}
}

// Exit asks the loop to wind down and the process to exit.
func (m *Manager) Exit() {
	m.Dispatch(func() { m.directive = DirectiveExit })
}

// Reexecute asks the loop to stop so the caller can serialize and re-exec.
func (m *Manager) Reexecute() {
	m.Dispatch(func() { m.directive = DirectiveReexecute })
}

// Reload rescans every loaded fragment. The reply callback is stashed and
// invoked only after rescanning completes, so an RPC reply cannot overtake
// the side effect it reports.
func (m *Manager) Reload(reply func(error)) {
	m.Dispatch(func() {
		err := m.reloadFragments()
		if reply != nil {
			reply(err)
		}
	})
}

// reloadFragments re-reads the fragment of every unit that has one,
// keeping runtime state (active states, jobs) intact.
func (m *Manager) reloadFragments() error {
	m.log.Info("reloading unit fragments")
	var firstErr error
	for _, u := range m.Registry.Units() {
		if u.LoadState != unit.LoadLoaded && u.LoadState != unit.LoadError {
			continue
		}
		u.Dependencies = make(map[unit.DependencyKind]map[string]bool)
		u.Conditions = nil
		if _, err := m.Loader.Load(u.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	// Dependency directives may have queued new stubs.
	for {
		queued := m.Registry.PopLoadQueue()
		if len(queued) == 0 {
			break
		}
		for _, dep := range queued {
			if du, err := m.Loader.Load(dep); err == nil {
				m.attachMachine(du)
			}
		}
	}
	return firstErr
}

// Run is the manager loop. It owns every state mutation; event
// sources funnel in through channels and are handled to completion before
// the next event is taken. It returns the directive the loop was stopped
// with.
func (m *Manager) Run(ctx context.Context) Directive {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		if m.directive != directiveNone {
			d := m.directive
			m.directive = directiveNone
			return d
		}

		if err := m.Registry.CheckInvariants(); err != nil {
			m.crash.Crash(err.Error())
			return DirectiveExit
		}

		m.armTimers(timer)

		select {
		case <-ctx.Done():
			return DirectiveExit

		case f := <-m.requests:
			f()

		case exit := <-m.childExits:
			m.routeChildExit(exit)

		case ev, ok := <-m.uevents.Events():
			if ok {
				m.routeUevent(ev.SysPath, ev.Plugged)
			}

		case now := <-timer.C:
			m.elapseTimers(now)
		}
	}
}

// routeChildExit delivers a reaped pid to every machine; each machine
// recognizes its own pids and ignores the rest.
func (m *Manager) routeChildExit(exit ChildExit) {
	for _, u := range m.Registry.Units() {
		if machine, ok := u.State.(unittype.Machine); ok {
			machine.SigChld(exit.PID, exit.Clean)
		}
	}
}

// routeUevent maps a sysfs path to its device unit and flips its plug
// state.
func (m *Manager) routeUevent(sysPath string, plugged bool) {
	name := unitname.NameFromPath(sysPath, ".device")
	u, ok := m.Registry.Get(name)
	if !ok {
		if !plugged {
			return
		}
		u = m.Registry.Load(name)
		m.Registry.PopLoadQueue() // devices have no fragment to load
		m.attachMachine(u)
		m.emit(Event{Kind: "unit-new", UnitID: u.ID})
	}
	dev, ok := u.State.(*unittype.Device)
	if !ok {
		return
	}
	if plugged {
		dev.Plugged()
	} else {
		dev.Unplugged()
	}
}

// armTimers points the loop's wakeup at the earliest timer-unit elapse.
func (m *Manager) armTimers(timer *time.Timer) {
	next := m.nextTimerElapse(time.Now())
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if next.IsZero() {
		timer.Reset(time.Hour)
		return
	}
	d := time.Until(next)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (m *Manager) nextTimerElapse(now time.Time) time.Time {
	var next time.Time
	for _, u := range m.Registry.Units() {
		tm, ok := u.State.(*unittype.Timer)
		if !ok {
			continue
		}
		n := tm.NextElapse(now)
		if n.IsZero() {
			continue
		}
		if next.IsZero() || n.Before(next) {
			next = n
		}
	}
	return next
}

func (m *Manager) elapseTimers(now time.Time) {
	for _, u := range m.Registry.Units() {
		tm, ok := u.State.(*unittype.Timer)
		if !ok {
			continue
		}
		n := tm.NextElapse(now)
		if !n.IsZero() && !n.After(now) {
			tm.Elapsed(now)
		}
	}
}
