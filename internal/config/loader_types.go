package config

import (
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unitname"
	"github.com/initcore/initcore/internal/unittype"
)

// applyTypeSection parses the type-specific section determined by name's
// suffix. Unknown or invalid values within it are logged and skipped,
// never fatal.
func (l *Loader) applyTypeSection(u *unit.Unit, file *ini.File, name string) {
	switch u.Type {
	case unit.TypeService:
		u.Config = l.parseService(u, file)
	case unit.TypeSocket:
		u.Config = l.parseSocket(u, file)
	case unit.TypeMount:
		u.Config = l.parseMount(u, file)
	case unit.TypeAutomount:
		u.Config = l.parseAutomount(u, file)
	case unit.TypeTimer:
		u.Config = l.parseTimer(u, file)
	case unit.TypePath:
		u.Config = l.parsePath(u, file)
	case unit.TypeSwap:
		u.Config = l.parseSwap(u, file)
	case unit.TypeTarget, unit.TypeDevice:
		// No type-specific section beyond [Unit].
	}
}

func (l *Loader) warnSkip(u *unit.Unit, section, key string, err error) {
	bad := &BadConfigError{Path: u.FragmentPath, Section: section, Key: key, Cause: err}
	l.Logger.Warn("skipping invalid directive", "unit", u.ID, "error", bad)
}

func (l *Loader) parseService(u *unit.Unit, file *ini.File) *unittype.ServiceConfig {
	cfg := &unittype.ServiceConfig{
		Restart:     "no",
		Environment: make(map[string]string),
	}
	sec, err := file.GetSection("Service")
	if err != nil {
		return cfg
	}

	if k, err := sec.GetKey("Type"); err == nil {
		cfg.Type = k.String()
	}
	if k, err := sec.GetKey("Restart"); err == nil {
		cfg.Restart = k.String()
	}
	if k, err := sec.GetKey("User"); err == nil {
		cfg.User = k.String()
	}
	if k, err := sec.GetKey("Group"); err == nil {
		cfg.Group = k.String()
	}
	if k, err := sec.GetKey("WorkingDirectory"); err == nil {
		cfg.WorkingDirectory = k.String()
	}
	if k, err := sec.GetKey("RestartSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			cfg.RestartSec = d
		} else {
			l.warnSkip(u, "Service", "RestartSec", err)
		}
	}
	if k, err := sec.GetKey("TimeoutStartSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			cfg.TimeoutStartSec = d
		} else {
			l.warnSkip(u, "Service", "TimeoutStartSec", err)
		}
	}
	if k, err := sec.GetKey("TimeoutStopSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			cfg.TimeoutStopSec = d
		} else {
			l.warnSkip(u, "Service", "TimeoutStopSec", err)
		}
	}
	if k, err := sec.GetKey("Nice"); err == nil {
		if v, err := parseNice(k.String()); err == nil {
			cfg.Nice = v
		} else {
			l.warnSkip(u, "Service", "Nice", err)
		}
	}
	if k, err := sec.GetKey("OOMScoreAdjust"); err == nil {
		if v, err := parseOOMScoreAdjust(k.String()); err == nil {
			cfg.OOMScoreAdjust = v
		} else {
			l.warnSkip(u, "Service", "OOMScoreAdjust", err)
		}
	}
	if k, err := sec.GetKey("CapabilityBoundingSet"); err == nil {
		if v, err := parseCapabilityList(k.String()); err == nil {
			cfg.CapabilityBoundingSet = v
		} else {
			l.warnSkip(u, "Service", "CapabilityBoundingSet", err)
		}
	}
	if k, err := sec.GetKey("RemainAfterExit"); err == nil {
		if v, err := parseBool(k.String()); err == nil {
			cfg.RemainAfterExit = v
		} else {
			l.warnSkip(u, "Service", "RemainAfterExit", err)
		}
	}
	for _, env := range sec.Key("Environment").ValueWithShadows() {
		if k, v, ok := strings.Cut(env, "="); ok {
			cfg.Environment[k] = v
		}
	}

	for _, pair := range []struct {
		key string
		dst *[]unittype.ExecCommand
	}{
		{"ExecStartPre", &cfg.ExecStartPre},
		{"ExecStart", &cfg.ExecStart},
		{"ExecStartPost", &cfg.ExecStartPost},
		{"ExecReload", &cfg.ExecReload},
		{"ExecStop", &cfg.ExecStop},
		{"ExecStopPost", &cfg.ExecStopPost},
	} {
		for _, line := range sec.Key(pair.key).ValueWithShadows() {
			cmd, err := parseExecCommand(line)
			if err != nil {
				l.warnSkip(u, "Service", pair.key, err)
				continue
			}
			*pair.dst = append(*pair.dst, cmd)
		}
	}

	return cfg
}

func (l *Loader) parseSocket(u *unit.Unit, file *ini.File) *unittype.SocketConfig {
	cfg := &unittype.SocketConfig{}
	sec, err := file.GetSection("Socket")
	if err != nil {
		return cfg
	}
	cfg.ListenStream = sec.Key("ListenStream").ValueWithShadows()
	cfg.ListenDatagram = sec.Key("ListenDatagram").ValueWithShadows()
	if k, err := sec.GetKey("Accept"); err == nil {
		if v, err := parseBool(k.String()); err == nil {
			cfg.Accept = v
		} else {
			l.warnSkip(u, "Socket", "Accept", err)
		}
	}
	if k, err := sec.GetKey("IPTOS"); err == nil {
		if _, err := parseIPTOS(k.String()); err == nil {
			cfg.IPTOS = k.String()
		} else {
			l.warnSkip(u, "Socket", "IPTOS", err)
		}
	}
	if k, err := sec.GetKey("Service"); err == nil {
		cfg.Service = k.String()
	}
	return cfg
}

func (l *Loader) parseMount(u *unit.Unit, file *ini.File) *unittype.MountConfig {
	cfg := &unittype.MountConfig{}
	sec, err := file.GetSection("Mount")
	if err != nil {
		return cfg
	}
	cfg.What = sec.Key("What").String()
	cfg.Where = sec.Key("Where").String()
	cfg.Type = sec.Key("Type").String()
	cfg.Options = sec.Key("Options").String()
	if k, err := sec.GetKey("TimeoutSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			cfg.TimeoutSec = d
		} else {
			l.warnSkip(u, "Mount", "TimeoutSec", err)
		}
	}
	return cfg
}

func (l *Loader) parseAutomount(u *unit.Unit, file *ini.File) *unittype.AutomountConfig {
	cfg := &unittype.AutomountConfig{}
	sec, err := file.GetSection("Automount")
	if err != nil {
		return cfg
	}
	cfg.Where = sec.Key("Where").String()
	return cfg
}

func (l *Loader) parseTimer(u *unit.Unit, file *ini.File) *unittype.TimerConfig {
	cfg := &unittype.TimerConfig{}
	sec, err := file.GetSection("Timer")
	if err != nil {
		return cfg
	}
	cfg.OnCalendar = sec.Key("OnCalendar").ValueWithShadows()
	if k, err := sec.GetKey("OnActiveSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			cfg.OnActiveSec = d
		} else {
			l.warnSkip(u, "Timer", "OnActiveSec", err)
		}
	}
	if k, err := sec.GetKey("OnBootSec"); err == nil {
		if d, err := parseDuration(k.String()); err == nil {
			cfg.OnBootSec = d
		} else {
			l.warnSkip(u, "Timer", "OnBootSec", err)
		}
	}
	if k, err := sec.GetKey("Persistent"); err == nil {
		if v, err := parseBool(k.String()); err == nil {
			cfg.Persistent = v
		} else {
			l.warnSkip(u, "Timer", "Persistent", err)
		}
	}
	cfg.Unit = sec.Key("Unit").String()
	return cfg
}

func (l *Loader) parsePath(u *unit.Unit, file *ini.File) *unittype.PathConfig {
	cfg := &unittype.PathConfig{}
	sec, err := file.GetSection("Path")
	if err != nil {
		return cfg
	}
	cfg.PathExists = sec.Key("PathExists").ValueWithShadows()
	cfg.PathExistsGlob = sec.Key("PathExistsGlob").ValueWithShadows()
	cfg.PathChanged = sec.Key("PathChanged").ValueWithShadows()
	cfg.DirectoryNotEmpty = sec.Key("DirectoryNotEmpty").ValueWithShadows()
	cfg.Unit = sec.Key("Unit").String()
	return cfg
}

func (l *Loader) parseSwap(u *unit.Unit, file *ini.File) *unittype.SwapConfig {
	cfg := &unittype.SwapConfig{}
	sec, err := file.GetSection("Swap")
	if err != nil {
		return cfg
	}
	cfg.What = sec.Key("What").String()
	if k, err := sec.GetKey("Priority"); err == nil {
		if v, convErr := strconv.Atoi(k.String()); convErr == nil {
			cfg.Priority = v
		} else {
			l.warnSkip(u, "Swap", "Priority", convErr)
		}
	}
	return cfg
}

// expandSpecifiers runs the %i/%I/%n/%N/%p/%P expander over every
// printf-style string directive. Exec argv and environment values are
// expanded too, so instantiated template units see their instance
// substituted everywhere.
func (l *Loader) expandSpecifiers(u *unit.Unit) {
	specs := unitname.SpecifiersFor(u.ID)
	u.Description = specs.Expand(u.Description)

	switch cfg := u.Config.(type) {
	case *unittype.ServiceConfig:
		cfg.User = specs.Expand(cfg.User)
		cfg.WorkingDirectory = specs.Expand(cfg.WorkingDirectory)
		for k, v := range cfg.Environment {
			cfg.Environment[k] = specs.Expand(v)
		}
		for _, list := range [][]unittype.ExecCommand{
			cfg.ExecStartPre, cfg.ExecStart, cfg.ExecStartPost,
			cfg.ExecReload, cfg.ExecStop, cfg.ExecStopPost,
		} {
			for i := range list {
				list[i].Path = specs.Expand(list[i].Path)
				for j := range list[i].Args {
					list[i].Args[j] = specs.Expand(list[i].Args[j])
				}
			}
		}
	case *unittype.MountConfig:
		cfg.What = specs.Expand(cfg.What)
		cfg.Where = specs.Expand(cfg.Where)
	case *unittype.SwapConfig:
		cfg.What = specs.Expand(cfg.What)
	}
}
