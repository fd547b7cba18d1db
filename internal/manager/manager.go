// Package manager ties the core together: it owns the registry, the
// fragment loader, the transaction builder and the job engine, runs the
// event loop that all state transitions happen on, and carries the
// process-wide concerns (environment block, subscribers, serialization)
// the RPC surface exposes.
package manager

import (
	"fmt"
	"sort"
	"strings"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/initcore/initcore/internal/capability"
	"github.com/initcore/initcore/internal/condition"
	"github.com/initcore/initcore/internal/config"
	"github.com/initcore/initcore/internal/jobengine"
	"github.com/initcore/initcore/internal/transaction"
	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unittype"
)

// Version reported over the bus.
const Version = "1"

// Event is a bus-visible signal; Kind is one of unit-new, unit-removed,
// job-new, job-removed.
type Event struct {
	Kind   string
	UnitID string
	JobID  uint32
	Result unit.Result
}

// ChildExit is one reaped child, fed in by the signal plumbing outside the
// core.
type ChildExit struct {
	PID   int
	Clean bool
}

// Options configures a Manager.
type Options struct {
	Log        hclog.Logger
	LookupPath []string
	RunningAs  string // "system" or "user"
	Host       condition.HostEnvironment
	Spawner    unittype.Spawner
	Uevents    capability.UeventSource
	Crash      capability.CrashHandler

	// DefaultJobTimeout applies to units without JobTimeoutSec=.
	DefaultJobTimeout time.Duration
}

// Manager is the single owner of all mutable supervisor state. Every
// method that touches that state must run on the event-loop task; external
// callers go through Dispatch.
type Manager struct {
	log hclog.Logger

	Registry *unit.Registry
	Loader   *config.Loader
	Builder  *transaction.Builder
	Engine   *jobengine.Engine

	spawner unittype.Spawner
	uevents capability.UeventSource
	crash   capability.CrashHandler

	RunningAs     string
	BootTimestamp time.Time

	environment []string

	subscribers map[int]chan Event
	nextSub     int

	requests   chan func()
	childExits chan ChildExit

	directive directive
}

// New assembles a Manager from opts, filling unset collaborators with
// their logging defaults.
func New(opts Options) *Manager {
	logger := opts.Log
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.Host == nil {
		opts.Host = capability.NewOSHost()
	}
	if opts.Spawner == nil {
		opts.Spawner = capability.NewLoggingSpawner(logger)
	}
	if opts.Uevents == nil {
		opts.Uevents = capability.NullUeventSource{}
	}
	if opts.Crash == nil {
		opts.Crash = capability.LoggingCrashHandler{Log: logger}
	}
	if opts.RunningAs == "" {
		opts.RunningAs = "system"
	}

	reg := unit.NewRegistry()
	m := &Manager{
		log:           logger.Named("manager"),
		Registry:      reg,
		Loader:        config.NewLoader(opts.LookupPath, reg, logger),
		Builder:       transaction.NewBuilder(reg),
		Engine:        jobengine.New(reg, condition.New(opts.Host), logger),
		spawner:       opts.Spawner,
		uevents:       opts.Uevents,
		crash:         opts.Crash,
		RunningAs:     opts.RunningAs,
		BootTimestamp: time.Now(),
		subscribers:   make(map[int]chan Event),
		requests:      make(chan func(), 64),
		childExits:    make(chan ChildExit, 64),
	}

	m.Engine.DefaultTimeout = opts.DefaultJobTimeout
	m.Engine.OnJobFinished = m.jobFinished
	m.Engine.EnqueueRequest = m.enqueueRequest
	m.Builder.Hooks.OnInstall = m.jobInstalled
	m.Builder.Hooks.OnCancel = m.jobCancelled

	return m
}

// machineDeps is what every unit state machine gets wired with.
func (m *Manager) machineDeps() unittype.Deps {
	return unittype.Deps{
		Log:     m.log,
		Notify:  m.notifyActiveState,
		Spawner: m.spawner,
		Trigger: m.Engine.Trigger,
	}
}

// attachMachine ensures u has a state machine driving it.
func (m *Manager) attachMachine(u *unit.Unit) {
	if u.State != nil {
		return
	}
	unittype.New(u, m.machineDeps())
}

// LoadUnit loads name and everything its dependency directives queued,
// attaching machines as units come in. Load failures of queued
// dependencies are survivable and only logged; a failure of name itself is
// returned.
func (m *Manager) LoadUnit(name string) (*unit.Unit, error) {
	u, err := m.Loader.Load(name)
	if u != nil && u.LoadState == unit.LoadLoaded {
		m.attachMachine(u)
		m.emit(Event{Kind: "unit-new", UnitID: u.ID})
	}

	for {
		queued := m.Registry.PopLoadQueue()
		if len(queued) == 0 {
			break
		}
		for _, dep := range queued {
			du, derr := m.Loader.Load(dep)
			if derr != nil {
				m.log.Debug("dependency load failed", "unit", dep, "error", derr)
			}
			if du != nil && du.LoadState == unit.LoadLoaded {
				m.attachMachine(du)
				m.emit(Event{Kind: "unit-new", UnitID: du.ID})
			}
		}
	}
	return u, err
}

// GetUnit performs an alias-aware lookup without loading.
func (m *Manager) GetUnit(name string) (*unit.Unit, bool) {
	return m.Registry.Get(name)
}

// request runs a verb against a unit as a full transaction.
func (m *Manager) request(verb unit.JobType, u *unit.Unit, mode unit.Mode, override bool) (*unit.Job, error) {
	j, err := m.Builder.Build(verb, u, mode, override)
	if err != nil {
		return nil, err
	}
	m.Engine.Run()
	return j, nil
}

// enqueueRequest is the engine's side-effect path (OnFailure, BindsTo,
// reload propagation); its failures are logged, never surfaced, since
// there is no requester to surface them to.
func (m *Manager) enqueueRequest(verb unit.JobType, target *unit.Unit, mode unit.Mode) {
	if _, err := m.Builder.Build(verb, target, mode, false); err != nil {
		m.log.Warn("dependency-side transaction rejected", "verb", verb, "unit", target.ID, "error", err)
		return
	}
	m.Engine.Run()
}

// StartUnit, StopUnit, ReloadUnit, RestartUnit implement the bus methods
// of the same names. Each loads the unit if it has never been seen.
func (m *Manager) StartUnit(name string, mode unit.Mode) (*unit.Job, error) {
	u, err := m.unitForRequest(name)
	if err != nil {
		return nil, err
	}
	return m.request(unit.JobStart, u, mode, false)
}

func (m *Manager) StopUnit(name string, mode unit.Mode) (*unit.Job, error) {
	u, err := m.unitForRequest(name)
	if err != nil {
		return nil, err
	}
	return m.request(unit.JobStop, u, mode, false)
}

func (m *Manager) ReloadUnit(name string, mode unit.Mode) (*unit.Job, error) {
	u, err := m.unitForRequest(name)
	if err != nil {
		return nil, err
	}
	return m.request(unit.JobReload, u, mode, false)
}

func (m *Manager) RestartUnit(name string, mode unit.Mode) (*unit.Job, error) {
	u, err := m.unitForRequest(name)
	if err != nil {
		return nil, err
	}
	return m.request(unit.JobRestart, u, mode, false)
}

func (m *Manager) unitForRequest(name string) (*unit.Unit, error) {
	if u, ok := m.Registry.Get(name); ok && u.LoadState != unit.LoadStub {
		return u, nil
	}
	u, err := m.LoadUnit(name)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// ClearJobs cancels every installed job.
func (m *Manager) ClearJobs() {
	for _, j := range m.Registry.Jobs() {
		m.Engine.Forget(j)
		m.Registry.RemoveJob(j)
		j.Finish(unit.ResultCancelled)
		m.emit(Event{Kind: "job-removed", UnitID: j.Unit.ID, JobID: j.ID, Result: unit.ResultCancelled})
	}
}

// notifyActiveState is the single Notify sink for all machines: it feeds
// the engine, maintains snapshot cleanup, and applies Restart= policy.
func (m *Manager) notifyActiveState(u *unit.Unit, old, new unit.ActiveState) {
	m.Engine.NotifyActiveStateChange(u, old, new)

	if new == unit.Inactive || new == unit.Failed {
		m.maybeCleanupSnapshots()
		m.maybeAutoRestart(u)
	}
}

func (m *Manager) maybeAutoRestart(u *unit.Unit) {
	if u.Job != nil {
		return // an explicit job owns this unit's fate
	}
	svc, ok := u.State.(*unittype.Service)
	if !ok || !svc.AutoRestart() {
		return
	}
	u.SubState = "auto-restart"
	m.log.Info("restarting service per Restart= policy", "unit", u.ID)
	m.enqueueRequest(unit.JobStart, u, unit.ModeReplace)
}

func (m *Manager) jobInstalled(j *unit.Job) {
	m.Engine.Add(j)
	m.emit(Event{Kind: "job-new", UnitID: j.Unit.ID, JobID: j.ID})
}

func (m *Manager) jobCancelled(j *unit.Job) {
	m.Engine.Forget(j)
	m.emit(Event{Kind: "job-removed", UnitID: j.Unit.ID, JobID: j.ID, Result: unit.ResultCancelled})
}

func (m *Manager) jobFinished(j *unit.Job, result unit.Result) {
	m.emit(Event{Kind: "job-removed", UnitID: j.Unit.ID, JobID: j.ID, Result: result})
}

// Subscribe registers a buffered event channel and returns its id for
// Unsubscribe. Slow subscribers lose events rather than stalling the loop.
func (m *Manager) Subscribe() (int, <-chan Event) {
	m.nextSub++
	ch := make(chan Event, 128)
	m.subscribers[m.nextSub] = ch
	return m.nextSub, ch
}

// Unsubscribe drops a subscriber.
func (m *Manager) Unsubscribe(id int) {
	if ch, ok := m.subscribers[id]; ok {
		delete(m.subscribers, id)
		close(ch)
	}
}

func (m *Manager) emit(ev Event) {
	for _, ch := range m.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Environment returns the current KEY=VALUE environment block.
func (m *Manager) Environment() []string {
	out := make([]string, len(m.environment))
	copy(out, m.environment)
	return out
}

// SetEnvironment merges assignments into the environment block, replacing
// existing keys.
func (m *Manager) SetEnvironment(assignments []string) {
	for _, a := range assignments {
		key, _, ok := strings.Cut(a, "=")
		if !ok {
			m.log.Warn("ignoring malformed environment assignment", "value", a)
			continue
		}
		m.unsetKey(key)
		m.environment = append(m.environment, a)
	}
}

// UnsetEnvironment removes keys (given bare or as KEY=VALUE) from the
// environment block.
func (m *Manager) UnsetEnvironment(keys []string) {
	for _, k := range keys {
		if key, _, ok := strings.Cut(k, "="); ok {
			k = key
		}
		m.unsetKey(k)
	}
}

func (m *Manager) unsetKey(key string) {
	kept := m.environment[:0]
	for _, e := range m.environment {
		if k, _, _ := strings.Cut(e, "="); k != key {
			kept = append(kept, e)
		}
	}
	m.environment = kept
}

// Dump renders the full unit and job state as text, the way the Dump()
// bus method reports it.
func (m *Manager) Dump() string {
	var b strings.Builder
	for _, u := range m.Registry.Units() {
		fmt.Fprintf(&b, "-> Unit %s:\n", u.ID)
		fmt.Fprintf(&b, "\tDescription: %s\n", u.Description)
		fmt.Fprintf(&b, "\tUnit Load State: %s\n", u.LoadState)
		fmt.Fprintf(&b, "\tUnit Active State: %s (%s)\n", u.ActiveState, u.SubState)
		if u.FragmentPath != "" {
			fmt.Fprintf(&b, "\tFragment Path: %s\n", u.FragmentPath)
		}
		for kind, set := range u.Dependencies {
			if len(set) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\t%s: %s\n", kind, strings.Join(sortedKeys(set), " "))
		}
		if u.Job != nil {
			fmt.Fprintf(&b, "\tJob: %d %s (%s)\n", u.Job.ID, u.Job.Type, u.Job.State)
		}
	}
	for _, j := range m.Registry.Jobs() {
		fmt.Fprintf(&b, "-> Job %d:\n\tAction: %s -> %s\n\tState: %s\n", j.ID, j.Unit.ID, j.Type, j.State)
	}
	return b.String()
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
