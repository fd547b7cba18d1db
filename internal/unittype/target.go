package unittype

import "github.com/initcore/initcore/internal/unit"

// Target is pure synchronization: it has no process or resource behind it,
// so start and stop settle immediately.
type Target struct {
	base
}

func newTarget(u *unit.Unit, deps Deps) *Target {
	return &Target{base: base{unit: u, deps: deps}}
}

func (t *Target) Start() error {
	t.setState(unit.Active, "active")
	return nil
}

func (t *Target) Stop() error {
	t.setState(unit.Inactive, "dead")
	return nil
}

func (t *Target) Reload() error                    { return ErrNotSupported }
func (t *Target) SigChld(int, bool)                {}
func (t *Target) Serialize() map[string]string     { return t.serializeState() }
func (t *Target) Deserialize(kv map[string]string) { t.deserializeState(kv) }
