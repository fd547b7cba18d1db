// Command manager is the supervisor binary: it parses the CLI and (as
// PID 1) kernel command-line surface, assembles the manager, and runs its
// event loop until told to exit or re-execute.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
	hclog "github.com/hashicorp/go-hclog"
	flag "github.com/spf13/pflag"

	"github.com/initcore/initcore/internal/bus"
	"github.com/initcore/initcore/internal/capability"
	"github.com/initcore/initcore/internal/manager"
	"github.com/initcore/initcore/internal/metrics"
	"github.com/initcore/initcore/internal/unit"
)

// controlUtilityPath is what an init-named invocation re-execs to.
const controlUtilityPath = "/sbin/initcorectl"

var systemLookupPath = []string{
	"/etc/initcore/system",
	"/run/initcore/system",
	"/lib/initcore/system",
}

var userLookupPath = []string{
	"/etc/initcore/user",
	"/usr/lib/initcore/user",
}

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if isCompatInvocation(args[0], os.Getpid()) {
		cmd := exec.Command(controlUtilityPath, args[1:]...)
		cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := cmd.Run(); err != nil {
			fmt.Fprintln(os.Stderr, "manager:", err)
			return 1
		}
		return 0
	}

	cfg := defaultBootConfig()

	flags := flag.NewFlagSet("manager", flag.ContinueOnError)
	system := flags.Bool("system", false, "run as the system manager")
	user := flags.Bool("user", false, "run as a session manager")
	testMode := flags.Bool("test", false, "load units, dump state, exit")
	dumpItems := flags.Bool("dump-configuration-items", false, "list recognized unit directives and exit")
	introspect := flags.String("introspect", "", "dump bus introspection data and exit")
	defaultUnit := flags.String("unit", cfg.DefaultUnit, "unit to activate on startup")
	flags.BoolVar(&cfg.DumpCore, "dump-core", cfg.DumpCore, "dump core on crash")
	flags.BoolVar(&cfg.CrashShell, "crash-shell", cfg.CrashShell, "run a shell on crash")
	flags.BoolVar(&cfg.ConfirmSpawn, "confirm-spawn", cfg.ConfirmSpawn, "ask for confirmation before spawning")
	flags.BoolVar(&cfg.ShowStatus, "show-status", cfg.ShowStatus, "show unit status during startup")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	flags.StringVar(&cfg.LogTarget, "log-target", cfg.LogTarget, "log target (console, null)")
	flags.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "colorize logs")
	flags.BoolVar(&cfg.LogLocation, "log-location", cfg.LogLocation, "log source locations")
	deserializeFD := flags.Int("deserialize", -1, "fd to restore serialized state from")
	flags.Lookup("introspect").NoOptDefVal = busInterface
	flags.Lookup("show-status").NoOptDefVal = "true"
	flags.Lookup("log-color").NoOptDefVal = "true"
	flags.Lookup("log-location").NoOptDefVal = "true"

	if err := flags.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "manager:", err)
		return 1
	}

	switch {
	case *user:
		cfg.RunningAs = "user"
	case *system:
		cfg.RunningAs = "system"
	}

	// Kernel command-line tokens only count for PID 1.
	if os.Getpid() == 1 && cfg.RunningAs == "system" {
		if data, err := os.ReadFile("/proc/cmdline"); err == nil {
			parseKernelCmdline(strings.Fields(string(data)), &cfg)
		}
	}
	if flags.Changed("unit") || cfg.DefaultUnit == "" {
		cfg.DefaultUnit = *defaultUnit
	}

	logger := buildLogger(cfg)

	if *dumpItems {
		fmt.Print(configurationItems)
		return 0
	}
	if flags.Changed("introspect") {
		fmt.Printf("interface %s: see bus documentation\n", *introspect)
		return 0
	}

	lookup := systemLookupPath
	if cfg.RunningAs == "user" {
		lookup = userLookupPath
	}

	m := manager.New(manager.Options{
		Log:        logger,
		LookupPath: lookup,
		RunningAs:  cfg.RunningAs,
		Host:       capability.NewOSHost(),
	})
	metrics.New(m.Registry, nil)

	server := bus.NewServer(m, logger)
	server.LogLevel = cfg.LogLevel
	server.LogTarget = cfg.LogTarget

	if *deserializeFD >= 0 {
		f := os.NewFile(uintptr(*deserializeFD), "deserialize")
		if f == nil {
			logger.Error("bad --deserialize fd", "fd", *deserializeFD)
			return 1
		}
		if err := m.Deserialize(f); err != nil {
			logger.Error("deserialization failed", "error", err)
			return 1
		}
		f.Close()
	} else if cfg.DefaultUnit != "" {
		if _, err := m.StartUnit(cfg.DefaultUnit, unit.ModeReplace); err != nil {
			logger.Error("failed to activate default unit", "unit", cfg.DefaultUnit, "error", err)
			if *testMode {
				return 1
			}
		}
	}

	if *testMode {
		fmt.Print(m.Dump())
		return 0
	}

	// A session manager runs as a service of the system manager; tell it
	// we're up.
	if cfg.RunningAs == "user" {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Debug("sd_notify not available", "error", err)
		}
		defer daemon.SdNotify(false, daemon.SdNotifyStopping)
	}

	ctx := context.Background()
	for {
		switch m.Run(ctx) {
		case manager.DirectiveReexecute:
			if code, ok := reexecute(m, logger, args); !ok {
				return code
			}
			// reexecute only returns on failure; keep running.
		default:
			return 0
		}
	}
}

// reexecute serializes live state to an inherited pipe and execs the same
// binary with --deserialize pointing at it. On success it never returns.
func reexecute(m *manager.Manager, logger hclog.Logger, args []string) (int, bool) {
	r, w, err := os.Pipe()
	if err != nil {
		logger.Error("cannot create serialization pipe", "error", err)
		return 1, false
	}
	if err := m.Serialize(w); err != nil {
		logger.Error("serialization failed", "error", err)
		return 1, false
	}
	w.Close()

	self, err := os.Executable()
	if err != nil {
		logger.Error("cannot locate own binary", "error", err)
		return 1, false
	}

	// The read end lands at fd 3 in the child via ExtraFiles-equivalent
	// inheritance; exec replaces this process entirely.
	newArgs := append(stripDeserialize(args), "--deserialize=3")
	if err := execSelf(self, newArgs, r); err != nil {
		logger.Error("re-execution failed", "error", err)
		return 1, false
	}
	return 0, true
}

func stripDeserialize(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "--deserialize") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func buildLogger(cfg bootConfig) hclog.Logger {
	opts := &hclog.LoggerOptions{
		Name:            "initcore",
		Level:           hclog.LevelFromString(cfg.LogLevel),
		Color:           hclog.ColorOff,
		IncludeLocation: cfg.LogLocation,
	}
	if cfg.LogColor {
		opts.Color = hclog.AutoColor
	}
	if cfg.LogTarget == "null" {
		opts.Output = nullWriter{}
	}
	return hclog.New(opts)
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

const busInterface = "org.freedesktop.systemd1.Manager"

// configurationItems is the --dump-configuration-items text: every
// directive the fragment loader understands, by section.
const configurationItems = `[Unit]
Description= JobTimeoutSec= Requires= RequiresOverridable= Requisite=
RequisiteOverridable= Wants= BindsTo= Conflicts= Before= After= OnFailure=
Triggers= PropagatesReloadTo= ConditionPathExists= ConditionPathIsDirectory=
ConditionDirectoryNotEmpty= ConditionFileIsExecutable=
ConditionKernelCommandLine= ConditionVirtualization= ConditionSecurity=
ConditionACPower= ConditionNull=
[Service]
Type= ExecStartPre= ExecStart= ExecStartPost= ExecReload= ExecStop=
ExecStopPost= Restart= RestartSec= TimeoutStartSec= TimeoutStopSec= User=
Group= WorkingDirectory= Environment= Nice= OOMScoreAdjust=
CapabilityBoundingSet= RemainAfterExit=
[Socket]
ListenStream= ListenDatagram= Accept= IPTOS= Service=
[Mount]
What= Where= Type= Options= TimeoutSec=
[Automount]
Where=
[Timer]
OnCalendar= OnActiveSec= OnBootSec= Persistent= Unit=
[Path]
PathExists= PathExistsGlob= PathChanged= DirectoryNotEmpty= Unit=
[Swap]
What= Priority=
`
