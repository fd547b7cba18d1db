package unittype

import (
	"strconv"

	"github.com/initcore/initcore/internal/unit"
)

// Mount delegates the actual mount(8)/umount(8) work to child processes
// through the Spawner, the same way long operations against mounts are
// kept out of the event loop everywhere else.
type Mount struct {
	base
	cfg        *MountConfig
	controlPID int
	unmounting bool
}

func newMount(u *unit.Unit, deps Deps) *Mount {
	cfg, _ := u.Config.(*MountConfig)
	if cfg == nil {
		cfg = &MountConfig{}
	}
	return &Mount{base: base{unit: u, deps: deps}, cfg: cfg}
}

func (m *Mount) Start() error {
	if m.unit.IsActive() {
		return nil
	}
	args := []string{}
	if m.cfg.Type != "" {
		args = append(args, "-t", m.cfg.Type)
	}
	if m.cfg.Options != "" {
		args = append(args, "-o", m.cfg.Options)
	}
	args = append(args, m.cfg.What, m.cfg.Where)

	m.unmounting = false
	m.setState(unit.Activating, "mounting")
	pid, err := m.deps.Spawner.Spawn(ExecCommand{Path: "/bin/mount", Args: args}, nil)
	if err != nil {
		m.setState(unit.Failed, "failed")
		return err
	}
	m.controlPID = pid
	return nil
}

func (m *Mount) Stop() error {
	if m.unit.IsInactiveOrFailed() {
		return nil
	}
	m.unmounting = true
	m.setState(unit.Deactivating, "unmounting")
	pid, err := m.deps.Spawner.Spawn(ExecCommand{Path: "/bin/umount", Args: []string{m.cfg.Where}}, nil)
	if err != nil {
		m.setState(unit.Failed, "failed")
		return err
	}
	m.controlPID = pid
	return nil
}

func (m *Mount) Reload() error { return ErrNotSupported }

func (m *Mount) SigChld(pid int, exitedCleanly bool) {
	if pid != m.controlPID {
		return
	}
	m.controlPID = 0
	switch {
	case !exitedCleanly:
		m.setState(unit.Failed, "failed")
	case m.unmounting:
		m.setState(unit.Inactive, "dead")
	default:
		m.setState(unit.Active, "mounted")
	}
}

func (m *Mount) Serialize() map[string]string {
	kv := m.serializeState()
	if m.controlPID != 0 {
		kv["control-pid"] = strconv.Itoa(m.controlPID)
	}
	return kv
}

func (m *Mount) Deserialize(kv map[string]string) {
	m.deserializeState(kv)
	if v, ok := kv["control-pid"]; ok {
		if pid, err := strconv.Atoi(v); err == nil {
			m.controlPID = pid
		}
	}
}
