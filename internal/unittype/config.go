// Package unittype holds the per-unit-type configuration structs produced
// by the fragment loader and the per-type state machines that drive
// SubState/ActiveState transitions.
package unittype

import "time"

// ExecCommand is one command line from an Exec*= directive. A leading '-'
// in the fragment means Ignore: failure of this particular command does
// not fail the whole exec step.
type ExecCommand struct {
	Path   string
	Args   []string
	Ignore bool
}

// ServiceConfig is the [Service] section.
type ServiceConfig struct {
	Type string // simple, forking, oneshot, notify, dbus, idle

	ExecStartPre  []ExecCommand
	ExecStart     []ExecCommand
	ExecStartPost []ExecCommand
	ExecReload    []ExecCommand
	ExecStop      []ExecCommand
	ExecStopPost  []ExecCommand

	Restart    string // no, always, on-success, on-failure, on-abnormal, on-watchdog, on-abort
	RestartSec time.Duration

	TimeoutStartSec time.Duration
	TimeoutStopSec  time.Duration

	User             string
	Group            string
	Environment      map[string]string
	WorkingDirectory string

	Nice                  int
	OOMScoreAdjust        int
	CapabilityBoundingSet []string

	KillSignal      int
	RemainAfterExit bool
}

// SocketConfig is the [Socket] section.
type SocketConfig struct {
	ListenStream   []string
	ListenDatagram []string
	Accept         bool
	IPTOS          string
	Service        string // Unit= override; defaults to same-named .service
}

// MountConfig is the [Mount] section.
type MountConfig struct {
	What       string
	Where      string
	Type       string
	Options    string
	TimeoutSec time.Duration
}

// AutomountConfig is the [Automount] section.
type AutomountConfig struct {
	Where string
}

// TimerConfig is the [Timer] section.
type TimerConfig struct {
	OnCalendar  []string
	OnActiveSec time.Duration
	OnBootSec   time.Duration
	Unit        string // target unit to trigger; defaults to same-named .service
	Persistent  bool
}

// PathConfig is the [Path] section.
type PathConfig struct {
	PathExists        []string
	PathExistsGlob    []string
	PathChanged       []string
	DirectoryNotEmpty []string
	Unit              string
}

// SwapConfig is the [Swap] section.
type SwapConfig struct {
	What     string
	Priority int
}

// SnapshotConfig holds CreateSnapshot's parameters; snapshot units are
// synthesized at runtime, never loaded from a fragment.
type SnapshotConfig struct {
	Cleanup bool
}
