// Package unitname implements the escaping, path-derivation and
// template/instance rules that let a unit be named after the thing it
// manages: a mount after its path, a device after its sysfs node, a
// service instance after its template.
package unitname

import (
	"fmt"
	"strings"
)

// validChar reports whether b may appear unescaped in a unit name.
func validChar(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z':
		return true
	case b >= 'a' && b <= 'z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == ':' || b == '_' || b == '.' || b == '\\' || b == '-':
		return true
	}
	return false
}

// escapeByte renders b in the canonical "\xNN"-like form used for anything
// that isn't safe to put directly into a unit name (notably '/').
func escapeByte(b byte) string {
	return fmt.Sprintf("\\x%02x", b)
}

// Escape encodes s so the result only contains characters that are valid
// inside a unit name component. A leading '.' is always escaped so the
// result never looks like a dotfile.
func Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' {
			// '-' is a valid unit-name char, but we reserve unescaped '-'
			// for our own separators, so always escape it.
			b.WriteString(escapeByte(c))
			continue
		}
		if i == 0 && c == '.' {
			b.WriteString(escapeByte(c))
			continue
		}
		if validChar(c) && c != '\\' {
			b.WriteByte(c)
			continue
		}
		b.WriteString(escapeByte(c))
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// Unescape reverses Escape. Malformed escapes are passed through verbatim
// rather than erroring — the loader treats an unparsable alias as just
// another unfamiliar name, not a fatal error.
func Unescape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			var v int
			if _, err := fmt.Sscanf(s[i+2:i+4], "%02x", &v); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// canonicalize collapses repeated slashes and trims trailing slashes,
// leaving "/" as "/" itself.
func canonicalize(path string) string {
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return "/" + strings.Join(out, "/")
}

// Canonicalize exposes canonicalize for callers that need to compare a raw
// path against the result of PathFromName without going through a name.
func Canonicalize(path string) string {
	return canonicalize(path)
}

// NameFromPath derives a unit name from an absolute path and a unit
// suffix (e.g. ".mount", ".device", ".swap"). It must round-trip with
// PathFromName.
func NameFromPath(path, suffix string) string {
	c := canonicalize(path)
	trimmed := strings.TrimPrefix(c, "/")
	if trimmed == "" {
		return "-" + suffix
	}
	segments := strings.Split(trimmed, "/")
	for i, seg := range segments {
		segments[i] = Escape(seg)
	}
	return strings.Join(segments, "-") + suffix
}

// PathFromName reverses NameFromPath: strip the suffix, split on
// unescaped '-' separators, unescape each segment, and join with '/'.
func PathFromName(name, suffix string) string {
	base := strings.TrimSuffix(name, suffix)
	if base == "-" {
		return "/"
	}
	segments := strings.Split(base, "-")
	for i, seg := range segments {
		segments[i] = Unescape(seg)
	}
	return canonicalize("/" + strings.Join(segments, "/"))
}

// Suffix returns the dotted suffix of a unit name, including the dot, and
// the unit type it denotes. ok is false for a name with no recognized
// suffix.
func Suffix(name string) (suffix string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", false
	}
	s := name[i:]
	if _, known := suffixTypes[s]; !known {
		return "", false
	}
	return s, true
}

var suffixTypes = map[string]string{
	".service":   "service",
	".socket":    "socket",
	".target":    "target",
	".device":    "device",
	".mount":     "mount",
	".automount": "automount",
	".timer":     "timer",
	".path":      "path",
	".snapshot":  "snapshot",
	".swap":      "swap",
}

// TypeOf returns the unit type implied by name's suffix.
func TypeOf(name string) (string, bool) {
	_, ok := Suffix(name)
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(name, '.')
	return suffixTypes[name[i:]], true
}

// Valid reports whether name has a recognized suffix and a non-empty
// prefix.
func Valid(name string) bool {
	suffix, ok := Suffix(name)
	if !ok {
		return false
	}
	return len(name) > len(suffix)
}
