package unittype

import "github.com/initcore/initcore/internal/unit"

// Automount waits for the first access to its mount point and then fires
// its Triggers target (the matching mount unit). The autofs plumbing that
// detects the access is an external collaborator; it reports through
// AccessDetected.
type Automount struct {
	base
	cfg *AutomountConfig
}

func newAutomount(u *unit.Unit, deps Deps) *Automount {
	cfg, _ := u.Config.(*AutomountConfig)
	if cfg == nil {
		cfg = &AutomountConfig{}
	}
	return &Automount{base: base{unit: u, deps: deps}, cfg: cfg}
}

func (a *Automount) Start() error {
	a.setState(unit.Active, "waiting")
	return nil
}

func (a *Automount) Stop() error {
	a.setState(unit.Inactive, "dead")
	return nil
}

func (a *Automount) Reload() error { return ErrNotSupported }

// AccessDetected is called when something touched the mount point.
func (a *Automount) AccessDetected() {
	if !a.unit.IsActive() {
		return
	}
	a.unit.SubState = "running"
	a.trigger()
}

func (a *Automount) SigChld(int, bool)                {}
func (a *Automount) Serialize() map[string]string     { return a.serializeState() }
func (a *Automount) Deserialize(kv map[string]string) { a.deserializeState(kv) }
