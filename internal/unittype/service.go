package unittype

import (
	"sort"
	"strconv"

	"github.com/initcore/initcore/internal/unit"
)

const (
	sigTERM = 15
	sigKILL = 9
)

// serviceStep tracks which part of the exec pipeline the service is in.
// It is finer-grained than the reported sub-state: stop-sigterm and
// stop-sigkill both sit in stepStopSignal, distinguished by the sub-state
// string alone.
type serviceStep int

const (
	stepIdle serviceStep = iota
	stepStartPre
	stepStart
	stepStartPost
	stepRunning
	stepReload
	stepStopExec
	stepStopSignal
	stepStopPost
)

// Service drives the dead → start-pre → start → start-post → running →
// stop → stop-sigterm → stop-post → dead lifecycle. Process completion is
// fed in through SigChld by the manager loop's child-exit source.
type Service struct {
	base
	cfg *ServiceConfig

	step       serviceStep
	cmds       []ExecCommand // command list for the current control step
	cmdIndex   int
	mainPID    int
	controlPID int
	failed     bool
}

func newService(u *unit.Unit, deps Deps) *Service {
	cfg, _ := u.Config.(*ServiceConfig)
	if cfg == nil {
		cfg = &ServiceConfig{Restart: "no"}
	}
	return &Service{base: base{unit: u, deps: deps}, cfg: cfg}
}

func (s *Service) env() []string {
	out := make([]string, 0, len(s.cfg.Environment))
	for k, v := range s.cfg.Environment {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// runControl spawns the next command of the current control step. A spawn
// error for a non-ignorable command aborts into the failure path.
func (s *Service) runControl() {
	cmd := s.cmds[s.cmdIndex]
	pid, err := s.deps.Spawner.Spawn(cmd, s.env())
	if err != nil {
		s.deps.Log.Error("control process spawn failed", "unit", s.unit.ID, "path", cmd.Path, "error", err)
		if !cmd.Ignore {
			s.failed = true
			s.enterStopPost()
			return
		}
		s.controlFinished(true)
		return
	}
	s.controlPID = pid
}

func (s *Service) Start() error {
	if s.unit.IsActive() {
		return nil
	}
	s.failed = false
	if len(s.cfg.ExecStartPre) > 0 {
		s.step = stepStartPre
		s.cmds = s.cfg.ExecStartPre
		s.cmdIndex = 0
		s.setState(unit.Activating, "start-pre")
		s.runControl()
		return nil
	}
	s.enterStart()
	return nil
}

func (s *Service) enterStart() {
	if len(s.cfg.ExecStart) == 0 {
		// Nothing to run: the unit is its own side effect, like a stamp
		// service carrying only dependencies.
		s.step = stepRunning
		s.setState(unit.Active, "exited")
		return
	}
	cmd := s.cfg.ExecStart[0]
	s.step = stepStart
	s.setState(unit.Activating, "start")
	pid, err := s.deps.Spawner.Spawn(cmd, s.env())
	if err != nil {
		s.deps.Log.Error("main process spawn failed", "unit", s.unit.ID, "path", cmd.Path, "error", err)
		s.failed = true
		s.enterStopPost()
		return
	}
	s.mainPID = pid

	if s.cfg.Type == "oneshot" {
		return // stays activating until the main process exits
	}
	// simple (and the readiness-protocol types, whose protocols live in
	// out-of-scope collaborators) count as started once forked.
	s.enterStartPost()
}

func (s *Service) enterStartPost() {
	if len(s.cfg.ExecStartPost) > 0 {
		s.step = stepStartPost
		s.cmds = s.cfg.ExecStartPost
		s.cmdIndex = 0
		s.setState(unit.Activating, "start-post")
		s.runControl()
		return
	}
	s.enterRunning()
}

func (s *Service) enterRunning() {
	s.step = stepRunning
	if s.mainPID == 0 {
		s.setState(unit.Active, "exited")
		return
	}
	s.setState(unit.Active, "running")
}

func (s *Service) Stop() error {
	if s.unit.IsInactiveOrFailed() {
		return nil
	}
	if len(s.cfg.ExecStop) > 0 {
		s.step = stepStopExec
		s.cmds = s.cfg.ExecStop
		s.cmdIndex = 0
		s.setState(unit.Deactivating, "stop")
		s.runControl()
		return nil
	}
	s.enterStopSignal(sigTERM, "stop-sigterm")
	return nil
}

func (s *Service) enterStopSignal(sig int, sub string) {
	if s.mainPID == 0 {
		s.enterStopPost()
		return
	}
	s.step = stepStopSignal
	s.setState(unit.Deactivating, sub)
	kill := s.cfg.KillSignal
	if sub == "stop-sigkill" || kill == 0 {
		kill = sig
	}
	if err := s.deps.Spawner.Kill(s.mainPID, kill); err != nil {
		s.deps.Log.Warn("kill failed, giving up on main process", "unit", s.unit.ID, "pid", s.mainPID, "error", err)
		s.mainPID = 0
		s.enterStopPost()
	}
}

// Escalate is the timeout path: SIGTERM was ignored, move to SIGKILL.
func (s *Service) Escalate() {
	s.failed = true
	s.enterStopSignal(sigKILL, "stop-sigkill")
}

func (s *Service) enterStopPost() {
	s.mainPID = 0
	if len(s.cfg.ExecStopPost) > 0 {
		s.step = stepStopPost
		s.cmds = s.cfg.ExecStopPost
		s.cmdIndex = 0
		s.setState(unit.Deactivating, "stop-post")
		s.runControl()
		return
	}
	s.finishStop()
}

func (s *Service) finishStop() {
	s.step = stepIdle
	s.cmds = nil
	if s.failed {
		s.setState(unit.Failed, "failed")
		return
	}
	s.setState(unit.Inactive, "dead")
}

func (s *Service) Reload() error {
	if !s.unit.IsActive() {
		return ErrNotSupported
	}
	if len(s.cfg.ExecReload) == 0 {
		return ErrNotSupported
	}
	s.step = stepReload
	s.cmds = s.cfg.ExecReload
	s.cmdIndex = 0
	s.setState(unit.Reloading, "reload")
	s.runControl()
	return nil
}

// SigChld routes a child exit to whichever role the pid held.
func (s *Service) SigChld(pid int, exitedCleanly bool) {
	switch pid {
	case s.controlPID:
		s.controlPID = 0
		s.controlFinished(exitedCleanly)
	case s.mainPID:
		s.mainPID = 0
		s.mainFinished(exitedCleanly)
	}
}

func (s *Service) controlFinished(clean bool) {
	if !clean && !s.cmds[s.cmdIndex].Ignore {
		switch s.step {
		case stepStartPre, stepStartPost:
			s.failed = true
			s.enterStopPost()
			return
		case stepReload:
			s.deps.Log.Error("reload command failed", "unit", s.unit.ID)
			s.enterRunning()
			return
		}
		// stop/stop-post command failures are logged but don't derail the
		// shutdown sequence.
		s.deps.Log.Warn("stop command failed", "unit", s.unit.ID)
	}

	s.cmdIndex++
	if s.cmdIndex < len(s.cmds) {
		s.runControl()
		return
	}

	switch s.step {
	case stepStartPre:
		s.enterStart()
	case stepStartPost:
		s.enterRunning()
	case stepReload:
		s.enterRunning()
	case stepStopExec:
		s.enterStopSignal(sigTERM, "stop-sigterm")
	case stepStopPost:
		s.finishStop()
	}
}

func (s *Service) mainFinished(clean bool) {
	switch s.step {
	case stepRunning, stepStart:
		if clean && s.cfg.RemainAfterExit {
			s.step = stepRunning
			s.setState(unit.Active, "exited")
			return
		}
		if s.step == stepStart && s.cfg.Type == "oneshot" && clean {
			// A finished oneshot reaches active first, so its start job
			// completes, then goes straight back to dead unless
			// RemainAfterExit holds it in "exited".
			s.step = stepRunning
			s.setState(unit.Active, "exited")
			if !s.cfg.RemainAfterExit {
				s.enterStopPost()
			}
			return
		}
		if !clean {
			s.failed = true
		}
		s.enterStopPost()
	case stepStopExec:
		// Main died while ExecStop was still running; stop-post happens
		// once the control command finishes.
	case stepStopSignal:
		s.enterStopPost()
	}
}

// AutoRestart reports whether the configured Restart= policy asks for a
// restart after the most recent exit. The manager consults it when a
// service settles without a stop job installed.
func (s *Service) AutoRestart() bool {
	switch s.cfg.Restart {
	case "always":
		return true
	case "on-failure", "on-abnormal", "on-abort", "on-watchdog":
		return s.failed
	case "on-success":
		return !s.failed
	}
	return false
}

func (s *Service) Serialize() map[string]string {
	kv := s.serializeState()
	if s.mainPID != 0 {
		kv["main-pid"] = strconv.Itoa(s.mainPID)
	}
	if s.controlPID != 0 {
		kv["control-pid"] = strconv.Itoa(s.controlPID)
	}
	return kv
}

func (s *Service) Deserialize(kv map[string]string) {
	s.deserializeState(kv)
	if v, ok := kv["main-pid"]; ok {
		if pid, err := strconv.Atoi(v); err == nil {
			s.mainPID = pid
		}
	}
	if v, ok := kv["control-pid"]; ok {
		if pid, err := strconv.Atoi(v); err == nil {
			s.controlPID = pid
		}
	}
	if s.unit.ActiveState == unit.Active {
		s.step = stepRunning
	}
}
