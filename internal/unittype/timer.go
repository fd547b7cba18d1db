package unittype

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/initcore/initcore/internal/unit"
)

// Timer computes when it should next elapse and fires its Triggers target
// when the manager loop tells it the moment has arrived. OnCalendar=
// expressions are cron-style and parsed with robfig/cron;
// OnActiveSec=/OnBootSec= are monotonic offsets from activation and boot.
type Timer struct {
	base
	cfg *TimerConfig

	schedules      []cron.Schedule
	activated      time.Time
	boot           time.Time
	lastFired      time.Time
	monotonicFired bool
}

func newTimer(u *unit.Unit, deps Deps) *Timer {
	cfg, _ := u.Config.(*TimerConfig)
	if cfg == nil {
		cfg = &TimerConfig{}
	}
	t := &Timer{base: base{unit: u, deps: deps}, cfg: cfg, boot: time.Now()}
	for _, expr := range cfg.OnCalendar {
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			deps.Log.Warn("skipping unparsable OnCalendar expression", "unit", u.ID, "expression", expr, "error", err)
			continue
		}
		t.schedules = append(t.schedules, sched)
	}
	return t
}

func (t *Timer) Start() error {
	t.activated = time.Now()
	t.monotonicFired = false
	t.setState(unit.Active, "waiting")
	return nil
}

func (t *Timer) Stop() error {
	t.setState(unit.Inactive, "dead")
	return nil
}

func (t *Timer) Reload() error { return ErrNotSupported }

// NextElapse returns the earliest upcoming trigger time, or zero if the
// timer has nothing left to wait for. The manager loop arms its wakeup
// from the minimum across all active timers.
func (t *Timer) NextElapse(now time.Time) time.Time {
	if !t.unit.IsActive() {
		return time.Time{}
	}
	var next time.Time
	consider := func(c time.Time) {
		if c.IsZero() || !c.After(t.lastFired) {
			return
		}
		if next.IsZero() || c.Before(next) {
			next = c
		}
	}

	for _, sched := range t.schedules {
		consider(sched.Next(now))
	}
	if !t.monotonicFired {
		if t.cfg.OnActiveSec > 0 {
			consider(t.activated.Add(t.cfg.OnActiveSec))
		}
		if t.cfg.OnBootSec > 0 {
			consider(t.boot.Add(t.cfg.OnBootSec))
		}
	}
	return next
}

// Elapsed fires the timer: record the firing, report "elapsed" briefly via
// sub-state, and trigger the target unit.
func (t *Timer) Elapsed(now time.Time) {
	if !t.unit.IsActive() {
		return
	}
	t.lastFired = now
	t.monotonicFired = true
	t.unit.SubState = "elapsed"
	t.trigger()
	t.unit.SubState = "waiting"
}

func (t *Timer) SigChld(int, bool) {}

func (t *Timer) Serialize() map[string]string {
	kv := t.serializeState()
	if !t.lastFired.IsZero() {
		kv["last-fired"] = t.lastFired.Format(time.RFC3339Nano)
	}
	return kv
}

func (t *Timer) Deserialize(kv map[string]string) {
	t.deserializeState(kv)
	if v, ok := kv["last-fired"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			t.lastFired = ts
		}
	}
}
