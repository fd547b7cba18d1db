package config

import (
	"io/fs"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/initcore/initcore/internal/unit"
)

type fakeFileInfo struct {
	mode fs.FileMode
	size int64
}

func (f fakeFileInfo) Name() string       { return "" }
func (f fakeFileInfo) Size() int64        { return f.size }
func (f fakeFileInfo) Mode() fs.FileMode  { return f.mode }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.mode.IsDir() }
func (f fakeFileInfo) Sys() interface{}   { return nil }

type fakeNode struct {
	symlinkTarget string // non-empty if this path is a symlink
	content       []byte
}

type fakeFS struct {
	nodes map[string]fakeNode
}

func (f *fakeFS) Lstat(path string) (fs.FileInfo, error) {
	n, ok := f.nodes[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	if n.symlinkTarget != "" {
		return fakeFileInfo{mode: fs.ModeSymlink}, nil
	}
	return fakeFileInfo{size: int64(len(n.content))}, nil
}

func (f *fakeFS) Readlink(path string) (string, error) {
	n, ok := f.nodes[path]
	if !ok || n.symlinkTarget == "" {
		return "", fs.ErrInvalid
	}
	return n.symlinkTarget, nil
}

func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	n, ok := f.nodes[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return n.content, nil
}

func newTestLoader(fsys *fakeFS, lookupPath []string) *Loader {
	l := NewLoader(lookupPath, unit.NewRegistry(), hclog.NewNullLogger())
	l.FS = fsys
	return l
}

func TestLoadBasicServiceUnit(t *testing.T) {
	fsys := &fakeFS{nodes: map[string]fakeNode{
		"/etc/units/a.service": {content: []byte(
			"[Unit]\nDescription=test service for %n\n\n[Service]\nExecStart=/bin/true --flag\nRestart=always\n")},
	}}
	l := newTestLoader(fsys, []string{"/etc/units"})

	u, err := l.Load("a.service")
	if err != nil {
		t.Fatal(err)
	}
	if u.LoadState != unit.LoadLoaded {
		t.Fatalf("LoadState = %s, want loaded", u.LoadState)
	}
	if u.Description != "test service for a.service" {
		t.Fatalf("Description = %q, specifier expansion did not run", u.Description)
	}
}

func TestLoadNotFound(t *testing.T) {
	l := newTestLoader(&fakeFS{nodes: map[string]fakeNode{}}, []string{"/etc/units"})
	u, err := l.Load("missing.service")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if u.LoadState != unit.LoadNotFound {
		t.Fatalf("LoadState = %s, want not-found", u.LoadState)
	}
}

func TestLoadMasked(t *testing.T) {
	fsys := &fakeFS{nodes: map[string]fakeNode{
		"/etc/units/a.service": {content: nil},
	}}
	l := newTestLoader(fsys, []string{"/etc/units"})
	u, err := l.Load("a.service")
	if err != ErrMasked {
		t.Fatalf("err = %v, want ErrMasked", err)
	}
	if u.LoadState != unit.LoadMasked {
		t.Fatalf("LoadState = %s, want masked", u.LoadState)
	}
}

func TestLoadFollowsSymlinkAndMergesAlias(t *testing.T) {
	fsys := &fakeFS{nodes: map[string]fakeNode{
		"/etc/units/alias.service": {symlinkTarget: "/etc/units/real.service"},
		"/etc/units/real.service":  {content: []byte("[Unit]\nDescription=real\n")},
	}}
	l := newTestLoader(fsys, []string{"/etc/units"})

	u, err := l.Load("alias.service")
	if err != nil {
		t.Fatal(err)
	}
	if !u.HasName("alias.service") {
		t.Fatalf("loaded unit should carry the alias it was found through, names=%v", u.Names)
	}
	if u.FragmentPath != "/etc/units/real.service" {
		t.Fatalf("FragmentPath = %q, want the symlink target", u.FragmentPath)
	}
}

func TestLoadTooManySymlinks(t *testing.T) {
	nodes := map[string]fakeNode{}
	for i := 0; i < 10; i++ {
		from := pathFor(i)
		to := pathFor(i + 1)
		nodes[from] = fakeNode{symlinkTarget: to}
	}
	fsys := &fakeFS{nodes: nodes}
	l := newTestLoader(fsys, []string{"/etc/units"})

	_, err := l.Load("0.service")
	if err != ErrTooManySymlinks {
		t.Fatalf("err = %v, want ErrTooManySymlinks", err)
	}
}

func pathFor(i int) string {
	return "/etc/units/" + string(rune('0'+i)) + ".service"
}

func TestLoadInstanceFallsBackToTemplate(t *testing.T) {
	fsys := &fakeFS{nodes: map[string]fakeNode{
		"/etc/units/getty@.service": {content: []byte(
			"[Unit]\nDescription=Getty on %I\n\n[Service]\nExecStart=/sbin/agetty %i\n")},
	}}
	l := newTestLoader(fsys, []string{"/etc/units"})

	u, err := l.Load("getty@tty1.service")
	if err != nil {
		t.Fatal(err)
	}
	if u.LoadState != unit.LoadLoaded {
		t.Fatalf("LoadState = %s, want loaded", u.LoadState)
	}
	if u.Description != "Getty on tty1" {
		t.Fatalf("Description = %q, instance specifiers not expanded", u.Description)
	}
}

func TestLoadParsesConditions(t *testing.T) {
	fsys := &fakeFS{nodes: map[string]fakeNode{
		"/etc/units/a.service": {content: []byte(
			"[Unit]\nConditionPathExists=!/etc/a.conf\nConditionKernelCommandLine=|quiet\n")},
	}}
	l := newTestLoader(fsys, []string{"/etc/units"})

	u, err := l.Load("a.service")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Conditions) != 2 {
		t.Fatalf("got %d conditions, want 2", len(u.Conditions))
	}
	byKind := map[string]int{}
	for i, c := range u.Conditions {
		byKind[string(c.Kind)] = i
	}
	pe := u.Conditions[byKind["PathExists"]]
	if !pe.Negate || pe.Trigger || pe.Parameter != "/etc/a.conf" {
		t.Fatalf("PathExists condition = %+v, want negated non-trigger", pe)
	}
	kc := u.Conditions[byKind["KernelCommandLine"]]
	if !kc.Trigger || kc.Negate || kc.Parameter != "quiet" {
		t.Fatalf("KernelCommandLine condition = %+v, want trigger", kc)
	}
}

func TestLoadParsesJobTimeout(t *testing.T) {
	fsys := &fakeFS{nodes: map[string]fakeNode{
		"/etc/units/a.service": {content: []byte("[Unit]\nJobTimeoutSec=90\n")},
	}}
	l := newTestLoader(fsys, []string{"/etc/units"})

	u, err := l.Load("a.service")
	if err != nil {
		t.Fatal(err)
	}
	if u.JobTimeout != 90*time.Second {
		t.Fatalf("JobTimeout = %s, want 90s", u.JobTimeout)
	}
}
