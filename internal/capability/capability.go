// Package capability holds the narrow interfaces behind which the
// supervisor's external collaborators live: process spawning, cgroup
// writes, kernel uevent enumeration, crash handling. The engine only ever
// talks to these interfaces; the default implementations here log and
// report benign results, so the core can run (and be tested) without any
// of the privileged machinery present.
package capability

import (
	"os"
	"strings"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/initcore/initcore/internal/unittype"
)

// LoggingSpawner satisfies unittype.Spawner without ever forking. Each
// Spawn hands out a fake pid so the calling state machine can track the
// "process"; the manager's test harnesses complete them via SigChld.
type LoggingSpawner struct {
	Log     hclog.Logger
	nextPID int
}

// NewLoggingSpawner returns a LoggingSpawner. Fake pids start high so they
// never collide with real ones in logs.
func NewLoggingSpawner(log hclog.Logger) *LoggingSpawner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &LoggingSpawner{Log: log.Named("spawn"), nextPID: 1 << 20}
}

func (s *LoggingSpawner) Spawn(cmd unittype.ExecCommand, env []string) (int, error) {
	s.nextPID++
	s.Log.Info("would spawn", "path", cmd.Path, "args", strings.Join(cmd.Args, " "), "pid", s.nextPID)
	return s.nextPID, nil
}

func (s *LoggingSpawner) Kill(pid, signal int) error {
	s.Log.Info("would kill", "pid", pid, "signal", signal)
	return nil
}

// CGroupWriter abstracts control-group filesystem writes.
type CGroupWriter interface {
	CreateGroup(unitID string) error
	RemoveGroup(unitID string) error
}

// LoggingCGroupWriter is the default no-op CGroupWriter.
type LoggingCGroupWriter struct{ Log hclog.Logger }

func (w LoggingCGroupWriter) CreateGroup(unitID string) error {
	w.Log.Debug("would create cgroup", "unit", unitID)
	return nil
}

func (w LoggingCGroupWriter) RemoveGroup(unitID string) error {
	w.Log.Debug("would remove cgroup", "unit", unitID)
	return nil
}

// Uevent is one kernel device event. SysPath identifies the
// device node; Plugged is false for removal.
type Uevent struct {
	SysPath string
	Plugged bool
}

// UeventSource is implemented by the device-enumeration collaborator.
type UeventSource interface {
	Events() <-chan Uevent
	Close() error
}

// NullUeventSource never delivers anything; the device component treats an
// absent stream as "no devices managed".
type NullUeventSource struct{}

func (NullUeventSource) Events() <-chan Uevent { return nil }
func (NullUeventSource) Close() error          { return nil }

// CrashHandler is invoked on registry-invariant corruption (a programming
// error) before controlled shutdown.
type CrashHandler interface {
	Crash(diagnostic string)
}

// LoggingCrashHandler records the diagnostic and nothing else; the real
// handler (signal plumbing, crash shell, chvt) lives outside the core.
type LoggingCrashHandler struct{ Log hclog.Logger }

func (h LoggingCrashHandler) Crash(diagnostic string) {
	h.Log.Error("fatal state corruption", "diagnostic", diagnostic)
}

// OSHost is the real condition.HostEnvironment: filesystem probes against
// the live system, the kernel command line from /proc/cmdline, and
// statically injected virtualization/security facts (their detection is a
// collaborator concern, so the values arrive from outside).
type OSHost struct {
	CmdlinePath      string
	VirtualizationID string
	Security         []string
	ACPowerPath      string
}

// NewOSHost returns an OSHost reading the conventional kernel paths.
func NewOSHost() *OSHost {
	return &OSHost{
		CmdlinePath: "/proc/cmdline",
		ACPowerPath: "/sys/class/power_supply",
	}
}

func (h *OSHost) Stat(path string) (os.FileInfo, error)      { return os.Stat(path) }
func (h *OSHost) ReadDir(path string) ([]os.DirEntry, error) { return os.ReadDir(path) }

func (h *OSHost) KernelCmdline() []string {
	data, err := os.ReadFile(h.CmdlinePath)
	if err != nil {
		return nil
	}
	return strings.Fields(string(data))
}

func (h *OSHost) Virtualization() string    { return h.VirtualizationID }
func (h *OSHost) SecurityModules() []string { return h.Security }

// ACPowerOnline scans the power-supply class for an online AC supply;
// a host without the sysfs tree at all counts as on AC power, so
// desktops and servers read as mains-powered.
func (h *OSHost) ACPowerOnline() bool {
	entries, err := os.ReadDir(h.ACPowerPath)
	if err != nil {
		return true
	}
	found := false
	for _, e := range entries {
		tpe, err := os.ReadFile(h.ACPowerPath + "/" + e.Name() + "/type")
		if err != nil || strings.TrimSpace(string(tpe)) != "Mains" {
			continue
		}
		found = true
		online, err := os.ReadFile(h.ACPowerPath + "/" + e.Name() + "/online")
		if err == nil && strings.TrimSpace(string(online)) == "1" {
			return true
		}
	}
	return !found
}
