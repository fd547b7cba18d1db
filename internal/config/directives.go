package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/initcore/initcore/internal/unittype"
)

// durationUnits maps the literal suffix of a duration directive to its
// multiplier. The default unit (no suffix) is seconds.
var durationUnits = map[string]time.Duration{
	"us":  time.Microsecond,
	"ms":  time.Millisecond,
	"s":   time.Second,
	"min": time.Minute,
	"h":   time.Hour,
	"d":   24 * time.Hour,
	"w":   7 * 24 * time.Hour,
}

// parseDuration parses a duration literal: an integer followed by one of
// us/ms/s/min/h/d/w, defaulting to seconds with no suffix. Unlike
// time.ParseDuration, bare "5" must be accepted and means 5s.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	i := len(s)
	for i > 0 && !(s[i-1] >= '0' && s[i-1] <= '9') {
		i--
	}
	numPart, unitPart := s[:i], s[i:]

	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	if unitPart == "" {
		return time.Duration(n) * time.Second, nil
	}
	mult, ok := durationUnits[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid duration unit %q in %q", unitPart, s)
	}
	return time.Duration(n) * mult, nil
}

// parseMode parses an octal file-mode literal, valid in 0000-07777.
func parseMode(s string) (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}
	if v > 07777 {
		return 0, fmt.Errorf("mode %q out of range 0000-07777", s)
	}
	return os.FileMode(v), nil
}

// parseNice parses a Nice= value, valid in -20..19.
func parseNice(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid nice %q: %w", s, err)
	}
	if v < -20 || v > 19 {
		return 0, fmt.Errorf("nice %d out of range -20..19", v)
	}
	return v, nil
}

// parseOOMScoreAdjust parses an OOMScoreAdjust= value, valid in -1000..1000.
func parseOOMScoreAdjust(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid OOMScoreAdjust %q: %w", s, err)
	}
	if v < -1000 || v > 1000 {
		return 0, fmt.Errorf("OOMScoreAdjust %d out of range -1000..1000", v)
	}
	return v, nil
}

// parseBool accepts yes/no/true/false/on/off/1/0, case-insensitively.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "on", "1":
		return true, nil
	case "no", "false", "off", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// knownCapabilities is a representative subset of Linux capability names
// accepted by CapabilityBoundingSet=; an unrecognized name is rejected
// (logged and skipped by the caller) rather than silently accepted, the
// way a typo'd directive value should be.
var knownCapabilities = map[string]bool{
	"CAP_CHOWN": true, "CAP_DAC_OVERRIDE": true, "CAP_FOWNER": true,
	"CAP_FSETID": true, "CAP_KILL": true, "CAP_SETGID": true,
	"CAP_SETUID": true, "CAP_SETPCAP": true, "CAP_NET_BIND_SERVICE": true,
	"CAP_NET_ADMIN": true, "CAP_NET_RAW": true, "CAP_SYS_ADMIN": true,
	"CAP_SYS_BOOT": true, "CAP_SYS_CHROOT": true, "CAP_SYS_NICE": true,
	"CAP_SYS_PTRACE": true, "CAP_SYS_TIME": true, "CAP_MKNOD": true,
	"CAP_AUDIT_WRITE": true, "CAP_AUDIT_CONTROL": true,
}

// parseCapabilityList parses a space-separated CapabilityBoundingSet=
// list, rejecting any unrecognized capability name.
func parseCapabilityList(s string) ([]string, error) {
	fields := strings.Fields(s)
	for _, f := range fields {
		name := f
		name = strings.TrimPrefix(name, "~") // leading ~ negates the set
		if !knownCapabilities[name] {
			return nil, fmt.Errorf("unknown capability %q", name)
		}
	}
	return fields, nil
}

// ipTOSKeywords maps the named IP TOS keywords to their byte values.
var ipTOSKeywords = map[string]int{
	"low-delay":   0x10,
	"throughput":  0x08,
	"reliability": 0x04,
	"low-cost":    0x02,
	"mincost":     0x02,
}

// parseIPTOS accepts either a known keyword or a raw integer.
func parseIPTOS(s string) (int, error) {
	s = strings.TrimSpace(s)
	if v, ok := ipTOSKeywords[strings.ToLower(s)]; ok {
		return v, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid IPTOS %q", s)
	}
	return v, nil
}

// parseExecCommand parses one Exec*= line: an optional leading '-' marks
// failure of this command as ignorable, then a command line where the
// first whitespace-separated token is the executable path.
func parseExecCommand(s string) (unittype.ExecCommand, error) {
	s = strings.TrimSpace(s)
	ignore := false
	if strings.HasPrefix(s, "-") {
		ignore = true
		s = s[1:]
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return unittype.ExecCommand{}, fmt.Errorf("empty exec command")
	}
	return unittype.ExecCommand{Path: fields[0], Args: fields[1:], Ignore: ignore}, nil
}
