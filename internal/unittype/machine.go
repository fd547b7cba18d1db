package unittype

import (
	"github.com/pkg/errors"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/initcore/initcore/internal/unit"
)

// ErrNotSupported is returned by a machine operation that is structurally
// invalid for the unit type (e.g. starting a device by hand). The job
// engine finishes such jobs with result=skipped.
var ErrNotSupported = errors.New("unittype: operation not supported for this unit type")

// Notify is how a machine reports an active-state transition to the rest
// of the manager; the registry-side dependency effects hang off it.
type Notify func(u *unit.Unit, old, new unit.ActiveState)

// Spawner is the narrow process-execution capability the service, mount
// and swap machines delegate to. Real spawning (fork/exec, cgroup
// placement) is outside the engine; capability.LoggingSpawner is the
// default stand-in and tests inject fakes.
type Spawner interface {
	// Spawn launches cmd with the given environment and returns its pid.
	// Completion is reported asynchronously through Machine.SigChld.
	Spawn(cmd ExecCommand, env []string) (pid int, err error)
	// Kill delivers a signal to a previously spawned process.
	Kill(pid int, signal int) error
}

// Trigger is invoked by the event-driven machines (socket, timer, path,
// automount) when their external stimulus fires; the manager responds by
// starting the unit's Triggers targets.
type Trigger func(u *unit.Unit)

// Deps carries everything a machine needs from its owner.
type Deps struct {
	Log     hclog.Logger
	Notify  Notify
	Spawner Spawner
	Trigger Trigger
}

// Machine is the per-type capability set. SigChld is only
// meaningful for machines that spawn processes; others ignore it.
type Machine interface {
	Start() error
	Stop() error
	Reload() error
	SigChld(pid int, exitedCleanly bool)

	// Serialize/Deserialize contribute to the re-execution blob.
	Serialize() map[string]string
	Deserialize(map[string]string)
}

// Escalator is implemented by machines that distinguish a polite stop from
// a forced one; the job engine calls Escalate on job timeout.
type Escalator interface {
	Escalate()
}

// base is the embedded common part of every machine: the unit whose
// ActiveState/SubState it drives and the notification callback.
type base struct {
	unit *unit.Unit
	deps Deps
}

// setState records the new sub-state and, when the derived active-state
// changed, notifies the owner. Notification happens after the unit fields
// are updated so observers see a consistent snapshot.
func (b *base) setState(active unit.ActiveState, sub string) {
	old := b.unit.ActiveState
	b.unit.ActiveState = active
	b.unit.SubState = sub
	if old != active && b.deps.Notify != nil {
		b.deps.Notify(b.unit, old, active)
	}
}

func (b *base) trigger() {
	if b.deps.Trigger != nil {
		b.deps.Trigger(b.unit)
	}
}

func (b *base) serializeState() map[string]string {
	return map[string]string{
		"active-state": string(b.unit.ActiveState),
		"sub-state":    b.unit.SubState,
	}
}

func (b *base) deserializeState(kv map[string]string) {
	if v, ok := kv["active-state"]; ok {
		b.unit.ActiveState = unit.ActiveState(v)
	}
	if v, ok := kv["sub-state"]; ok {
		b.unit.SubState = v
	}
}

// New builds the machine for u's type, stores it on u.State, and returns
// it. Deps.Log may be nil.
func New(u *unit.Unit, deps Deps) Machine {
	if deps.Log == nil {
		deps.Log = hclog.NewNullLogger()
	}
	deps.Log = deps.Log.Named(string(u.Type))

	var m Machine
	switch u.Type {
	case unit.TypeService:
		m = newService(u, deps)
	case unit.TypeSocket:
		m = newSocket(u, deps)
	case unit.TypeTarget:
		m = newTarget(u, deps)
	case unit.TypeDevice:
		m = newDevice(u, deps)
	case unit.TypeMount:
		m = newMount(u, deps)
	case unit.TypeAutomount:
		m = newAutomount(u, deps)
	case unit.TypeTimer:
		m = newTimer(u, deps)
	case unit.TypePath:
		m = newPath(u, deps)
	case unit.TypeSnapshot:
		m = newSnapshot(u, deps)
	case unit.TypeSwap:
		m = newSwap(u, deps)
	default:
		m = newTarget(u, deps) // unknown suffixes behave as inert targets
	}
	u.State = m
	return m
}
