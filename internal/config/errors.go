package config

import "github.com/pkg/errors"

// ErrNotFound means no unit file matches the given name anywhere on the
// lookup path.
var ErrNotFound = errors.New("config: no unit file found")

// ErrMasked means the unit's fragment resolved to an empty file or
// /dev/null.
var ErrMasked = errors.New("config: unit is masked")

// ErrTooManySymlinks means the symlink chain followed while searching for
// a fragment exceeded 8 hops.
var ErrTooManySymlinks = errors.New("config: too many symlinks while resolving unit fragment")

// BadConfigError wraps a per-line fragment parse problem. It is always
// survivable: the caller logs it and skips the offending directive rather
// than failing the whole load.
type BadConfigError struct {
	Path    string
	Section string
	Key     string
	Cause   error
}

func (e *BadConfigError) Error() string {
	return errors.Wrapf(e.Cause, "%s: [%s] %s", e.Path, e.Section, e.Key).Error()
}

func (e *BadConfigError) Unwrap() error { return e.Cause }
