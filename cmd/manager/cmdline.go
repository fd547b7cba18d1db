package main

import (
	"strconv"
	"strings"
)

// bootConfig is everything the kernel command line and the CLI flags can
// decide before the manager starts.
type bootConfig struct {
	RunningAs   string // "system" or "user"
	DefaultUnit string

	LogLevel    string
	LogTarget   string
	LogColor    bool
	LogLocation bool

	DumpCore     bool
	CrashShell   bool
	CrashChVT    int
	ConfirmSpawn bool
	ShowStatus   bool

	SerialConsole bool
}

func defaultBootConfig() bootConfig {
	return bootConfig{
		RunningAs:   "system",
		DefaultUnit: "default.target",
		LogLevel:    "info",
		LogTarget:   "console",
		CrashChVT:   -1,
		ShowStatus:  true,
	}
}

// runlevelUnits maps SysV runlevel aliases to their target units.
var runlevelUnits = map[string]string{
	"single":    "rescue.target",
	"s":         "rescue.target",
	"S":         "rescue.target",
	"1":         "rescue.target",
	"2":         "runlevel2.target",
	"3":         "runlevel3.target",
	"4":         "runlevel4.target",
	"5":         "runlevel5.target",
	"emergency": "emergency.target",
}

// parseKernelCmdline applies the recognized kernel command-line tokens
// (only honored as PID 1) to cfg. Unknown tokens are ignored; malformed values
// leave the previous setting in place, since a typo on the kernel command
// line must never stop boot.
func parseKernelCmdline(tokens []string, cfg *bootConfig) {
	for _, tok := range tokens {
		key, value, hasValue := strings.Cut(tok, "=")

		switch key {
		case "systemd.unit":
			if hasValue {
				cfg.DefaultUnit = value
			}
		case "systemd.log_level":
			if hasValue {
				cfg.LogLevel = value
			}
		case "systemd.log_target":
			if hasValue {
				cfg.LogTarget = value
			}
		case "systemd.log_color":
			cfg.LogColor = optionalBool(value, hasValue, cfg.LogColor)
		case "systemd.log_location":
			cfg.LogLocation = optionalBool(value, hasValue, cfg.LogLocation)
		case "systemd.dump_core":
			cfg.DumpCore = optionalBool(value, hasValue, cfg.DumpCore)
		case "systemd.crash_shell":
			cfg.CrashShell = optionalBool(value, hasValue, cfg.CrashShell)
		case "systemd.crash_chvt":
			if hasValue {
				if vt, err := strconv.Atoi(value); err == nil {
					cfg.CrashChVT = vt
				}
			}
		case "systemd.confirm_spawn":
			cfg.ConfirmSpawn = optionalBool(value, hasValue, cfg.ConfirmSpawn)
		case "systemd.show_status":
			cfg.ShowStatus = optionalBool(value, hasValue, cfg.ShowStatus)
		case "console":
			if hasValue && !isVirtualTerminal(value) {
				cfg.SerialConsole = true
			}
		case "quiet":
			cfg.ShowStatus = false
		default:
			if target, ok := runlevelUnits[tok]; ok {
				cfg.DefaultUnit = target
			}
		}
	}
}

// optionalBool parses a boolean token value; a bare token ("systemd.crash_shell")
// means true, an unparsable value keeps the previous setting.
func optionalBool(value string, hasValue bool, previous bool) bool {
	if !hasValue {
		return true
	}
	switch strings.ToLower(value) {
	case "yes", "true", "on", "1":
		return true
	case "no", "false", "off", "0":
		return false
	}
	return previous
}

// isVirtualTerminal reports whether a console= value names a VT, which the
// manager ignores (only serial consoles matter for status output).
func isVirtualTerminal(name string) bool {
	name = strings.TrimPrefix(name, "/dev/")
	if name == "tty" || name == "console" {
		return true
	}
	if rest, ok := strings.CutPrefix(name, "tty"); ok {
		_, err := strconv.Atoi(rest)
		return err == nil
	}
	return false
}

// isCompatInvocation reports whether the binary was invoked through an
// init-named symlink while not being PID 1, in which case a control
// utility gets re-exec'd with the same arguments instead of starting a
// second supervisor.
func isCompatInvocation(argv0 string, pid int) bool {
	base := argv0
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return strings.HasPrefix(base, "init") && pid != 1
}
