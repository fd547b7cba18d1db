// Package config implements the fragment loader: turning on-disk unit
// files into loaded, typed Unit configuration.
package config

import (
	"io/fs"
	"path/filepath"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/initcore/initcore/internal/condition"
	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unitname"
)

const maxSymlinkHops = 8

// Loader turns a unit name into a loaded unit.Unit by searching
// LookupPath, in order, for a matching fragment.
type Loader struct {
	LookupPath []string
	Registry   *unit.Registry
	FS         FS
	Logger     hclog.Logger
}

// NewLoader returns a Loader reading the real filesystem.
func NewLoader(lookupPath []string, reg *unit.Registry, logger hclog.Logger) *Loader {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Loader{
		LookupPath: lookupPath,
		Registry:   reg,
		FS:         OSFS{},
		Logger:     logger.Named("config"),
	}
}

// Load runs the full fragment-load algorithm: search, symlink-follow
// with alias discovery, masked-file detection, sectioned parse, alias
// merge, and template expansion.
func (l *Loader) Load(name string) (*unit.Unit, error) {
	u, _ := l.Registry.Get(name)
	if u == nil {
		u = l.Registry.Load(name)
	}

	if u.NoInstances {
		if _, isInstance := unitname.TemplateName(name); isInstance {
			u.LoadState = unit.LoadError
			return u, errors.Errorf("config: unit type %s does not support instances (%s)", u.Type, name)
		}
	}

	candidate, ok := l.search(name)
	if !ok {
		// An instance with no fragment of its own falls back to its
		// template's fragment; the specifier expansion below fills in the
		// instance-specific values.
		if tmplName, isInstance := unitname.TemplateName(name); isInstance {
			candidate, ok = l.search(tmplName)
		}
		if !ok {
			u.LoadState = unit.LoadNotFound
			return u, ErrNotFound
		}
	}

	finalPath, aliases, err := l.followSymlinks(candidate)
	if err != nil {
		u.LoadState = unit.LoadError
		return u, err
	}

	data, err := l.FS.ReadFile(finalPath)
	if err != nil {
		u.LoadState = unit.LoadError
		return u, errors.Wrapf(err, "reading fragment %s", finalPath)
	}

	if len(data) == 0 || filepath.Clean(finalPath) == "/dev/null" {
		u.LoadState = unit.LoadMasked
		return u, ErrMasked
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, data)
	if err != nil {
		u.LoadState = unit.LoadError
		return u, errors.Wrapf(err, "parsing fragment %s", finalPath)
	}

	l.applyUnitSection(u, file)
	l.applyTypeSection(u, file, name)

	for _, aliasName := range aliases {
		if aliasName == name || aliasName == u.ID {
			continue
		}
		existing, found := l.Registry.Get(aliasName)
		if !found {
			l.Registry.RegisterAlias(u, aliasName)
			continue
		}
		if existing.ID == u.ID {
			continue
		}
		if lossy := l.Registry.Merge(u, existing); lossy {
			l.Logger.Warn("merge of loaded units discarded divergent configuration", "into", u.ID, "from", existing.ID)
		}
	}

	u.LoadState = unit.LoadLoaded
	u.FragmentPath = finalPath
	if fi, err := l.FS.Lstat(finalPath); err == nil {
		u.FragmentMtime = fi.ModTime()
	}

	l.expandSpecifiers(u)

	return u, nil
}

// search walks LookupPath in order for a file whose basename equals name.
func (l *Loader) search(name string) (string, bool) {
	for _, dir := range l.LookupPath {
		candidate := filepath.Join(dir, name)
		if _, err := l.FS.Lstat(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// followSymlinks opens path with symlink-following disabled; each ELOOP
// (here: each symlink encountered) adds the link's basename to the
// discovered-alias set and retries against the link target, up to
// maxSymlinkHops.
func (l *Loader) followSymlinks(path string) (final string, aliases []string, err error) {
	for hops := 0; ; hops++ {
		if hops > maxSymlinkHops {
			return "", nil, ErrTooManySymlinks
		}
		fi, statErr := l.FS.Lstat(path)
		if statErr != nil {
			return "", nil, errors.Wrapf(statErr, "stat %s", path)
		}
		if fi.Mode()&fs.ModeSymlink == 0 {
			return path, aliases, nil
		}
		aliases = append(aliases, filepath.Base(path))
		target, readErr := l.FS.Readlink(path)
		if readErr != nil {
			return "", nil, errors.Wrapf(readErr, "readlink %s", path)
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		path = target
	}
}

func (l *Loader) applyUnitSection(u *unit.Unit, file *ini.File) {
	sec, err := file.GetSection("Unit")
	if err != nil {
		return // [Unit] is optional
	}
	if k, err := sec.GetKey("Description"); err == nil {
		u.Description = k.String()
	}
	if k, err := sec.GetKey("JobTimeoutSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			u.JobTimeout = d
		} else {
			l.warnSkip(u, "Unit", "JobTimeoutSec", err)
		}
	}
	l.applyConditions(u, sec)
	for _, kind := range []unit.DependencyKind{
		unit.Requires, unit.RequiresOverridable, unit.Requisite, unit.RequisiteOverridable,
		unit.Wants, unit.BindsTo, unit.Conflicts, unit.Before, unit.After,
		unit.OnFailure, unit.Triggers, unit.PropagatesReloadTo,
	} {
		key, err := sec.GetKey(string(kind))
		if err != nil {
			continue
		}
		for _, target := range strings.Fields(key.String()) {
			targetUnit := l.Registry.Load(target)
			addReverse := kind != unit.OnFailure && kind != unit.Triggers
			if err := l.Registry.AddDependency(u, targetUnit, kind, addReverse); err != nil {
				l.Logger.Warn("skipping dependency directive", "unit", u.ID, "kind", kind, "error", err)
			}
		}
	}
}

// conditionKinds maps a [Unit] directive name to the condition kind it
// configures.
var conditionKinds = map[string]condition.Kind{
	"ConditionPathExists":        condition.PathExists,
	"ConditionPathIsDirectory":   condition.PathIsDirectory,
	"ConditionDirectoryNotEmpty": condition.DirectoryNotEmpty,
	"ConditionFileIsExecutable":  condition.FileIsExecutable,
	"ConditionKernelCommandLine": condition.KernelCommandLine,
	"ConditionVirtualization":    condition.Virtualization,
	"ConditionSecurity":          condition.Security,
	"ConditionACPower":           condition.ACPower,
	"ConditionNull":              condition.Null,
}

// applyConditions parses the Condition*= directives. A leading '|' marks
// the condition as a trigger (OR-combined), a leading '!' negates it; both
// prefixes may appear, in that order.
func (l *Loader) applyConditions(u *unit.Unit, sec *ini.Section) {
	for directive, kind := range conditionKinds {
		key, err := sec.GetKey(directive)
		if err != nil {
			continue
		}
		for _, raw := range key.ValueWithShadows() {
			c := condition.Condition{Kind: kind}
			param := strings.TrimSpace(raw)
			if strings.HasPrefix(param, "|") {
				c.Trigger = true
				param = param[1:]
			}
			if strings.HasPrefix(param, "!") {
				c.Negate = true
				param = param[1:]
			}
			c.Parameter = param
			u.Conditions = append(u.Conditions, c)
		}
	}
}
