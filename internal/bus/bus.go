// Package bus is the narrow interface to the out-of-scope RPC transport:
// it shapes the manager's control surface the way a message-bus peer sees
// it — object paths, method signatures, signal vocabulary — without
// requiring a bus daemon in-process. Server answers method calls against a
// Manager; Connector (connector.go) attaches the whole thing to a real
// message bus when one is available.
package bus

import (
	"fmt"
	"strconv"

	"github.com/godbus/dbus/v5"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/initcore/initcore/internal/manager"
	"github.com/initcore/initcore/internal/unit"
)

const (
	// BusName is the well-known name the manager claims.
	BusName = "org.freedesktop.systemd1"
	// ManagerPath is the manager object's path.
	ManagerPath dbus.ObjectPath = "/org/freedesktop/systemd1"

	unitPathPrefix = "/org/freedesktop/systemd1/unit/"
	jobPathPrefix  = "/org/freedesktop/systemd1/job/"
)

// UnitStatus is one row of ListUnits.
type UnitStatus struct {
	ID          string
	Description string
	LoadState   string
	ActiveState string
	SubState    string
	UnitPath    dbus.ObjectPath
	JobID       uint32
	JobType     string
	JobPath     dbus.ObjectPath
}

// JobStatus is one row of ListJobs.
type JobStatus struct {
	ID       uint32
	UnitID   string
	JobType  string
	State    string
	JobPath  dbus.ObjectPath
	UnitPath dbus.ObjectPath
}

// Properties mirrors the manager's bus-visible property set.
type Properties struct {
	Version       string
	RunningAs     string
	BootTimestamp int64
	LogLevel      string
	LogTarget     string
	NNames        uint32
	NJobs         uint32
	Environment   []string
}

// Signal is one emitted bus signal: UnitNew, UnitRemoved, JobNew or
// JobRemoved, with Result set only for JobRemoved.
type Signal struct {
	Name   string
	ID     string
	Path   dbus.ObjectPath
	Result string
}

// Server answers the manager's RPC surface. All handler methods must run
// on the manager loop; Connector takes care of dispatching onto it.
type Server struct {
	m   *manager.Manager
	log hclog.Logger

	LogLevel  string
	LogTarget string
}

// NewServer returns a Server over m.
func NewServer(m *manager.Manager, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Server{m: m, log: logger.Named("bus")}
}

// UnitPath encodes a unit id into its object path, escaping every byte
// outside [A-Za-z0-9] as _xx the way bus object paths require.
func UnitPath(id string) dbus.ObjectPath {
	return dbus.ObjectPath(unitPathPrefix + pathEscape(id))
}

// JobPath encodes a job id into its object path.
func JobPath(id uint32) dbus.ObjectPath {
	return dbus.ObjectPath(jobPathPrefix + strconv.FormatUint(uint64(id), 10))
}

func pathEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out = append(out, c)
		default:
			out = append(out, fmt.Sprintf("_%02x", c)...)
		}
	}
	return string(out)
}

// GetUnit resolves a loaded unit to its object path.
func (s *Server) GetUnit(name string) (dbus.ObjectPath, error) {
	u, ok := s.m.GetUnit(name)
	if !ok {
		return "", fmt.Errorf("bus: unit %s not loaded", name)
	}
	return UnitPath(u.ID), nil
}

// LoadUnit loads a unit and returns its object path.
func (s *Server) LoadUnit(name string) (dbus.ObjectPath, error) {
	u, err := s.m.LoadUnit(name)
	if err != nil {
		return "", err
	}
	return UnitPath(u.ID), nil
}

func (s *Server) StartUnit(name, mode string) (dbus.ObjectPath, error) {
	return s.jobCall(s.m.StartUnit, name, mode)
}

func (s *Server) StopUnit(name, mode string) (dbus.ObjectPath, error) {
	return s.jobCall(s.m.StopUnit, name, mode)
}

func (s *Server) ReloadUnit(name, mode string) (dbus.ObjectPath, error) {
	return s.jobCall(s.m.ReloadUnit, name, mode)
}

func (s *Server) RestartUnit(name, mode string) (dbus.ObjectPath, error) {
	return s.jobCall(s.m.RestartUnit, name, mode)
}

func (s *Server) jobCall(op func(string, unit.Mode) (*unit.Job, error), name, mode string) (dbus.ObjectPath, error) {
	parsed, err := parseMode(mode)
	if err != nil {
		return "", err
	}
	j, err := op(name, parsed)
	if err != nil {
		return "", err
	}
	if j == nil {
		return "", nil
	}
	return JobPath(j.ID), nil
}

func parseMode(mode string) (unit.Mode, error) {
	switch unit.Mode(mode) {
	case unit.ModeReplace, unit.ModeFail, unit.ModeIsolate,
		unit.ModeIgnoreDependencies, unit.ModeIgnoreRequirements:
		return unit.Mode(mode), nil
	}
	return "", fmt.Errorf("bus: unknown job mode %q", mode)
}

// GetJob resolves a job id to its object path.
func (s *Server) GetJob(id uint32) (dbus.ObjectPath, error) {
	j, ok := s.m.Registry.GetJob(id)
	if !ok {
		return "", fmt.Errorf("bus: job %d not found", id)
	}
	return JobPath(j.ID), nil
}

// ClearJobs cancels every installed job.
func (s *Server) ClearJobs() { s.m.ClearJobs() }

// ListUnits reports every registered unit.
func (s *Server) ListUnits() []UnitStatus {
	units := s.m.Registry.Units()
	out := make([]UnitStatus, 0, len(units))
	for _, u := range units {
		row := UnitStatus{
			ID:          u.ID,
			Description: u.Description,
			LoadState:   string(u.LoadState),
			ActiveState: string(u.ActiveState),
			SubState:    u.SubState,
			UnitPath:    UnitPath(u.ID),
		}
		if u.Job != nil {
			row.JobID = u.Job.ID
			row.JobType = string(u.Job.Type)
			row.JobPath = JobPath(u.Job.ID)
		}
		out = append(out, row)
	}
	return out
}

// ListJobs reports every installed job.
func (s *Server) ListJobs() []JobStatus {
	jobs := s.m.Registry.Jobs()
	out := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, JobStatus{
			ID:       j.ID,
			UnitID:   j.Unit.ID,
			JobType:  string(j.Type),
			State:    string(j.State),
			JobPath:  JobPath(j.ID),
			UnitPath: UnitPath(j.Unit.ID),
		})
	}
	return out
}

// Subscribe opens a signal stream translated from manager events. The
// returned cancel function must be called to release the subscription.
func (s *Server) Subscribe() (<-chan Signal, func()) {
	id, events := s.m.Subscribe()
	signals := make(chan Signal, 128)
	go func() {
		defer close(signals)
		for ev := range events {
			signals <- translate(ev)
		}
	}()
	return signals, func() { s.m.Unsubscribe(id) }
}

func translate(ev manager.Event) Signal {
	switch ev.Kind {
	case "unit-new":
		return Signal{Name: "UnitNew", ID: ev.UnitID, Path: UnitPath(ev.UnitID)}
	case "unit-removed":
		return Signal{Name: "UnitRemoved", ID: ev.UnitID, Path: UnitPath(ev.UnitID)}
	case "job-new":
		return Signal{Name: "JobNew", ID: strconv.FormatUint(uint64(ev.JobID), 10), Path: JobPath(ev.JobID)}
	default:
		return Signal{
			Name:   "JobRemoved",
			ID:     strconv.FormatUint(uint64(ev.JobID), 10),
			Path:   JobPath(ev.JobID),
			Result: string(ev.Result),
		}
	}
}

// Dump returns the manager's full text state.
func (s *Server) Dump() string { return s.m.Dump() }

// CreateSnapshot snapshots the current active set.
func (s *Server) CreateSnapshot(name string, cleanup bool) (dbus.ObjectPath, error) {
	u, err := s.m.CreateSnapshot(name, cleanup)
	if err != nil {
		return "", err
	}
	return UnitPath(u.ID), nil
}

// Reload rescans fragments; the reply callback fires only once rescanning
// is complete.
func (s *Server) Reload(reply func(error)) { s.m.Reload(reply) }

// Reexecute and Exit forward the loop sentinels.
func (s *Server) Reexecute() { s.m.Reexecute() }
func (s *Server) Exit()      { s.m.Exit() }

// SetEnvironment and UnsetEnvironment mutate the manager environment
// block.
func (s *Server) SetEnvironment(assignments []string) { s.m.SetEnvironment(assignments) }
func (s *Server) UnsetEnvironment(names []string)     { s.m.UnsetEnvironment(names) }

// GetProperties reports the manager's bus-visible property set.
func (s *Server) GetProperties() Properties {
	return Properties{
		Version:       manager.Version,
		RunningAs:     s.m.RunningAs,
		BootTimestamp: s.m.BootTimestamp.UnixMicro(),
		LogLevel:      s.LogLevel,
		LogTarget:     s.LogTarget,
		NNames:        uint32(s.m.Registry.NNames()),
		NJobs:         uint32(s.m.Registry.NJobs()),
		Environment:   s.m.Environment(),
	}
}
