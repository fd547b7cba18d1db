// Package jobengine drives installed jobs: it keeps the run-queue, decides
// which jobs are eligible to execute given the After-ordering among
// installed jobs, invokes unit state-machine operations, and turns
// active-state notifications back into job completions and the dependency
// side effects of the dependency graph.
package jobengine

import (
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/initcore/initcore/internal/condition"
	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unittype"
)

// Request asks the engine's owner to build and commit a fresh transaction;
// the engine uses it for OnFailure, BindsTo and reload-propagation side
// effects, which are full transactions of their own rather than bare jobs.
type Request func(verb unit.JobType, target *unit.Unit, mode unit.Mode)

// Engine owns the run-queue. All methods must be called from the manager's
// event-loop task; the engine performs no locking of its own beyond what
// the registry does.
type Engine struct {
	log  hclog.Logger
	reg  *unit.Registry
	eval condition.Evaluator

	runQueue []*unit.Job

	// DefaultTimeout applies to jobs on units without JobTimeoutSec=.
	// Zero disables deadlines entirely, which is what the tests use.
	DefaultTimeout time.Duration

	// OnJobFinished fires after a job has been detached from its unit and
	// the job table, with its final result; the bus turns it into
	// JobRemoved.
	OnJobFinished func(j *unit.Job, result unit.Result)

	// EnqueueRequest is wired to the transaction builder by the manager.
	EnqueueRequest Request

	// AfterFunc is time.AfterFunc unless a test substitutes it. The
	// returned stop function must be safe to call after firing.
	AfterFunc func(d time.Duration, f func()) func() bool

	timeouts map[uint32]func() bool
	running  bool
	rescan   bool
}

// New returns an Engine over reg evaluating conditions against eval.
func New(reg *unit.Registry, eval condition.Evaluator, logger hclog.Logger) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		log:  logger.Named("job"),
		reg:  reg,
		eval: eval,
		AfterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		timeouts: make(map[uint32]func() bool),
	}
}

// Add places a freshly installed job on the run-queue. It does not run
// anything; call Run once the whole transaction is in.
func (e *Engine) Add(j *unit.Job) {
	if j.InRunQueue {
		return
	}
	j.InRunQueue = true
	e.runQueue = append(e.runQueue, j)
}

// Forget drops a job the transaction builder displaced before it ever ran.
func (e *Engine) Forget(j *unit.Job) {
	j.InRunQueue = false
	e.stopTimeout(j)
}

// Run processes the run-queue until no waiting job is eligible. It is
// reentrancy-safe: completions that arrive synchronously from a machine
// operation simply flag a rescan for the outer invocation.
func (e *Engine) Run() {
	if e.running {
		e.rescan = true
		return
	}
	e.running = true
	defer func() { e.running = false }()

	for {
		e.rescan = false
		progressed := false
		for _, j := range e.snapshotQueue() {
			if !j.InRunQueue || j.State != unit.JobWaiting || j.Unit.Job != j {
				// Stale entry for a finished, displaced or forgotten job.
				e.dequeue(j)
				continue
			}
			if !e.eligible(j) {
				continue
			}
			e.dispatch(j)
			progressed = true
		}
		if !progressed && !e.rescan {
			return
		}
	}
}

func (e *Engine) snapshotQueue() []*unit.Job {
	q := make([]*unit.Job, len(e.runQueue))
	copy(q, e.runQueue)
	return q
}

func (e *Engine) dequeue(j *unit.Job) {
	j.InRunQueue = false
	for i, q := range e.runQueue {
		if q == j {
			e.runQueue = append(e.runQueue[:i], e.runQueue[i+1:]...)
			break
		}
	}
}

// eligible implements the ordering rule: a start-family job waits for jobs
// on every unit it is ordered After (and on its Conflicts victims, whose
// stop must settle first); a stop job waits for jobs on the units ordered
// after it, so teardown runs in reverse dependency order.
func (e *Engine) eligible(j *unit.Job) bool {
	var predecessors []unit.DependencyKind
	switch j.Type {
	case unit.JobStop:
		predecessors = []unit.DependencyKind{unit.Before}
	default:
		predecessors = []unit.DependencyKind{unit.After, unit.Conflicts}
	}

	for _, kind := range predecessors {
		for _, id := range j.Unit.DependencyTargets(kind) {
			pred, ok := e.reg.Get(id)
			if !ok {
				continue
			}
			if pred.Job != nil && pred.Job != j {
				return false
			}
		}
	}
	return true
}

// dispatch runs one eligible job against its unit's state machine.
func (e *Engine) dispatch(j *unit.Job) {
	u := j.Unit
	machine, _ := u.State.(unittype.Machine)

	if machine == nil {
		// Stub units with no fragment behind them cannot be driven.
		e.finish(j, unit.ResultSkipped)
		return
	}

	j.State = unit.JobRunning
	e.dequeue(j)

	var err error
	switch j.Type {
	case unit.JobStart, unit.JobReloadOrStart:
		if j.Type == unit.JobReloadOrStart && u.IsActive() {
			err = machine.Reload()
			break
		}
		if !e.eval.EvaluateList(u.Conditions) {
			e.log.Debug("start condition not met", "unit", u.ID)
			e.finish(j, unit.ResultSkipped)
			return
		}
		err = machine.Start()
	case unit.JobStop:
		err = machine.Stop()
	case unit.JobReload:
		err = machine.Reload()
	case unit.JobRestart, unit.JobTryRestart:
		if !u.IsActive() {
			if j.Type == unit.JobTryRestart {
				e.finish(j, unit.ResultSkipped)
				return
			}
			// Nothing to tear down; go straight to the start half.
			j.Type = unit.JobStart
			j.State = unit.JobWaiting
			e.Add(j)
			e.Run()
			return
		}
		err = machine.Stop()
	case unit.JobVerifyActive:
		if u.IsActive() {
			e.finish(j, unit.ResultDone)
		} else {
			e.finish(j, unit.ResultFailed)
		}
		return
	default:
		e.finish(j, unit.ResultSkipped)
		return
	}

	if err == unittype.ErrNotSupported {
		e.finish(j, unit.ResultSkipped)
		return
	}
	if err != nil {
		e.log.Error("job operation failed", "unit", u.ID, "job", j.Type, "error", err)
		e.finish(j, unit.ResultFailed)
		return
	}

	// A synchronous machine may already have settled and finished the job
	// from inside NotifyActiveStateChange; only arm a deadline if it is
	// still live.
	if u.Job == j {
		e.armTimeout(j)
	}
}

func (e *Engine) armTimeout(j *unit.Job) {
	d := j.Unit.JobTimeout
	if d == 0 {
		d = e.DefaultTimeout
	}
	if d == 0 {
		return
	}
	id := j.ID
	e.timeouts[id] = e.AfterFunc(d, func() { e.TimeoutJob(id) })
}

func (e *Engine) stopTimeout(j *unit.Job) {
	if stop, ok := e.timeouts[j.ID]; ok {
		stop()
		delete(e.timeouts, j.ID)
	}
}

// TimeoutJob enforces a job deadline: the unit is asked to escalate its
// teardown and the job finishes with result=timeout. The manager loop is
// responsible for marshalling the timer callback onto the loop task.
func (e *Engine) TimeoutJob(id uint32) {
	j, ok := e.reg.GetJob(id)
	if !ok || j.State != unit.JobRunning {
		return
	}
	e.log.Warn("job timed out", "unit", j.Unit.ID, "job", j.Type)

	machine, _ := j.Unit.State.(unittype.Machine)
	e.finish(j, unit.ResultTimeout)
	if machine != nil {
		if esc, ok := machine.(unittype.Escalator); ok {
			esc.Escalate()
		} else {
			_ = machine.Stop()
		}
	}
	e.Run()
}
