package unittype

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/initcore/initcore/internal/unit"
)

// Path watches the filesystem for the configured predicates and fires its
// Triggers target when one holds. Watching is done with fsnotify on each
// watched path, or on its deepest existing ancestor while the path does not
// exist; Check re-evaluates the
// predicates whenever an event arrives.
type Path struct {
	base
	cfg     *PathConfig
	watcher *fsnotify.Watcher
}

func newPath(u *unit.Unit, deps Deps) *Path {
	cfg, _ := u.Config.(*PathConfig)
	if cfg == nil {
		cfg = &PathConfig{}
	}
	return &Path{base: base{unit: u, deps: deps}, cfg: cfg}
}

// watchTargets is every path named by any predicate.
func (p *Path) watchTargets() []string {
	var out []string
	out = append(out, p.cfg.PathExists...)
	out = append(out, p.cfg.PathExistsGlob...)
	out = append(out, p.cfg.PathChanged...)
	out = append(out, p.cfg.DirectoryNotEmpty...)
	return out
}

func (p *Path) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		p.setState(unit.Failed, "failed")
		return err
	}
	p.watcher = w
	for _, target := range p.watchTargets() {
		// Watch the deepest existing ancestor so creation of the target
		// itself is observed.
		dir := target
		for {
			if _, err := os.Lstat(dir); err == nil {
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
		if err := w.Add(dir); err != nil {
			p.deps.Log.Warn("cannot watch path", "unit", p.unit.ID, "path", dir, "error", err)
		}
	}

	p.setState(unit.Active, "waiting")

	// An already-satisfied predicate fires immediately rather than waiting
	// for the next event.
	if p.satisfied() {
		p.fire()
	}
	return nil
}

func (p *Path) Stop() error {
	if p.watcher != nil {
		p.watcher.Close()
		p.watcher = nil
	}
	p.setState(unit.Inactive, "dead")
	return nil
}

func (p *Path) Reload() error { return ErrNotSupported }

// Events exposes the watcher's event stream for the manager loop to select
// on; nil while the path unit is not active.
func (p *Path) Events() chan fsnotify.Event {
	if p.watcher == nil {
		return nil
	}
	return p.watcher.Events
}

// Check re-evaluates the predicates after a filesystem event.
func (p *Path) Check() {
	if !p.unit.IsActive() {
		return
	}
	if p.satisfied() {
		p.fire()
	}
}

func (p *Path) satisfied() bool {
	for _, target := range p.cfg.PathExists {
		if _, err := os.Lstat(target); err == nil {
			return true
		}
	}
	for _, pattern := range p.cfg.PathExistsGlob {
		if matches, err := filepath.Glob(pattern); err == nil && len(matches) > 0 {
			return true
		}
	}
	for _, dir := range p.cfg.DirectoryNotEmpty {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
			return true
		}
	}
	return false
}

// PathChangedEvent reports whether name is one of the PathChanged=
// targets; unlike the existence predicates these fire on any modification.
func (p *Path) PathChangedEvent(name string) bool {
	for _, target := range p.cfg.PathChanged {
		if name == target {
			return true
		}
	}
	return false
}

func (p *Path) fire() {
	p.unit.SubState = "running"
	p.trigger()
	p.unit.SubState = "waiting"
}

func (p *Path) SigChld(int, bool)                {}
func (p *Path) Serialize() map[string]string     { return p.serializeState() }
func (p *Path) Deserialize(kv map[string]string) { p.deserializeState(kv) }
