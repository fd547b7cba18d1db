package unit

// JobType identifies the operation a Job drives its unit through.
type JobType string

const (
	JobStart         JobType = "start"
	JobVerifyActive  JobType = "verify-active"
	JobStop          JobType = "stop"
	JobReload        JobType = "reload"
	JobRestart       JobType = "restart"
	JobTryRestart    JobType = "try-restart"
	JobReloadOrStart JobType = "reload-or-start"
)

// JobState tracks whether a Job is sitting in the run-queue or already
// driving its unit.
type JobState string

const (
	JobWaiting JobState = "waiting"
	JobRunning JobState = "running"
)

// Mode controls how a job is installed relative to whatever else is live.
type Mode string

const (
	ModeReplace            Mode = "replace"
	ModeFail               Mode = "fail"
	ModeIsolate            Mode = "isolate"
	ModeIgnoreDependencies Mode = "ignore-dependencies"
	ModeIgnoreRequirements Mode = "ignore-requirements"
)

// Result is the outcome reported to JobRemoved subscribers.
type Result string

const (
	ResultDone       Result = "done"
	ResultFailed     Result = "failed"
	ResultCancelled  Result = "cancelled"
	ResultTimeout    Result = "timeout"
	ResultDependency Result = "dependency"
	ResultSkipped    Result = "skipped"
)

// Job is a pending or running request to drive a Unit into a new state.
type Job struct {
	ID       uint32
	Type     JobType
	Unit     *Unit
	State    JobState
	Mode     Mode
	Override bool

	// InRunQueue is maintained by the job engine; true while the job is
	// sitting in the run-queue waiting for its ordering predecessors.
	InRunQueue bool

	// waiters are notified exactly once, when the job finishes, via
	// Finish. Multiple RPC callers (and the bus) can wait on the same
	// job.
	waiters []chan Result
}

// NewJob constructs a waiting job. id is assigned by the registry when the
// job is installed, not here, since ids must be unique per manager
// lifetime and monotonic.
func NewJob(typ JobType, u *Unit, mode Mode, override bool) *Job {
	return &Job{
		Type:     typ,
		Unit:     u,
		State:    JobWaiting,
		Mode:     mode,
		Override: override,
	}
}

// Wait registers ch to receive this job's result exactly once. Finish must
// be able to send without blocking forever, so ch should be buffered by at
// least 1, or the caller must be ready to receive promptly.
func (j *Job) Wait(ch chan Result) {
	j.waiters = append(j.waiters, ch)
}

// Finish delivers result to every waiter and clears the waiter list. It is
// the job engine's responsibility to also detach the job from its unit and
// the job table before or after calling Finish — Finish itself only
// notifies.
func (j *Job) Finish(result Result) {
	for _, ch := range j.waiters {
		select {
		case ch <- result:
		default:
		}
	}
	j.waiters = nil
}

// MergeJobType implements the fixed job-merge table: given the
// job type already present for a unit and the job type being added, return
// the merged type, or ok=false if the pair conflicts.
func MergeJobType(existing, incoming JobType) (merged JobType, ok bool) {
	if existing == incoming {
		return existing, true
	}

	pair := [2]JobType{existing, incoming}
	rev := [2]JobType{incoming, existing}

	table := map[[2]JobType]JobType{
		{JobStart, JobVerifyActive}:         JobStart,
		{JobStart, JobReloadOrStart}:        JobReloadOrStart,
		{JobReload, JobStart}:               JobReloadOrStart,
		{JobReload, JobReloadOrStart}:       JobReloadOrStart,
		{JobRestart, JobStart}:              JobRestart,
		{JobRestart, JobTryRestart}:         JobRestart,
		{JobTryRestart, JobStart}:           JobRestart,
		{JobVerifyActive, JobReload}:        JobReload,
		{JobVerifyActive, JobRestart}:       JobRestart,
		{JobVerifyActive, JobTryRestart}:    JobTryRestart,
		{JobVerifyActive, JobReloadOrStart}: JobReloadOrStart,
	}

	if m, ok := table[pair]; ok {
		return m, true
	}
	if m, ok := table[rev]; ok {
		return m, true
	}

	// start/stop family conflicts (start vs stop, restart vs stop, etc.)
	// are never mergeable.
	return "", false
}
