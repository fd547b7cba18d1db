package unittype

import (
	"strconv"

	"github.com/initcore/initcore/internal/unit"
)

// Swap mirrors Mount: swapon/swapoff run as children, completion arrives
// via SigChld.
type Swap struct {
	base
	cfg          *SwapConfig
	controlPID   int
	deactivating bool
}

func newSwap(u *unit.Unit, deps Deps) *Swap {
	cfg, _ := u.Config.(*SwapConfig)
	if cfg == nil {
		cfg = &SwapConfig{}
	}
	return &Swap{base: base{unit: u, deps: deps}, cfg: cfg}
}

func (s *Swap) Start() error {
	if s.unit.IsActive() {
		return nil
	}
	args := []string{}
	if s.cfg.Priority != 0 {
		args = append(args, "-p", strconv.Itoa(s.cfg.Priority))
	}
	args = append(args, s.cfg.What)

	s.deactivating = false
	s.setState(unit.Activating, "activating")
	pid, err := s.deps.Spawner.Spawn(ExecCommand{Path: "/sbin/swapon", Args: args}, nil)
	if err != nil {
		s.setState(unit.Failed, "failed")
		return err
	}
	s.controlPID = pid
	return nil
}

func (s *Swap) Stop() error {
	if s.unit.IsInactiveOrFailed() {
		return nil
	}
	s.deactivating = true
	s.setState(unit.Deactivating, "deactivating")
	pid, err := s.deps.Spawner.Spawn(ExecCommand{Path: "/sbin/swapoff", Args: []string{s.cfg.What}}, nil)
	if err != nil {
		s.setState(unit.Failed, "failed")
		return err
	}
	s.controlPID = pid
	return nil
}

func (s *Swap) Reload() error { return ErrNotSupported }

func (s *Swap) SigChld(pid int, exitedCleanly bool) {
	if pid != s.controlPID {
		return
	}
	s.controlPID = 0
	switch {
	case !exitedCleanly:
		s.setState(unit.Failed, "failed")
	case s.deactivating:
		s.setState(unit.Inactive, "dead")
	default:
		s.setState(unit.Active, "active")
	}
}

func (s *Swap) Serialize() map[string]string     { return s.serializeState() }
func (s *Swap) Deserialize(kv map[string]string) { s.deserializeState(kv) }
