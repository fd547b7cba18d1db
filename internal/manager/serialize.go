package manager

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/initcore/initcore/internal/unit"
	"github.com/initcore/initcore/internal/unittype"
)

// Serialize writes the re-execution blob: a
// newline-terminated stream of key=value entries, manager header first,
// then one block per unit, each terminated by an empty line. File
// descriptors referenced by machines travel separately via inheritance;
// here only their owner tags are recorded.
func (m *Manager) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "running-as=%s\n", m.RunningAs)
	fmt.Fprintf(bw, "boot-timestamp=%s\n", m.BootTimestamp.Format(time.RFC3339Nano))
	for _, e := range m.environment {
		fmt.Fprintf(bw, "env=%s\n", e)
	}
	fmt.Fprintln(bw)

	for _, u := range m.Registry.Units() {
		fmt.Fprintf(bw, "unit=%s\n", u.ID)
		if machine, ok := u.State.(unittype.Machine); ok {
			for k, v := range machine.Serialize() {
				fmt.Fprintf(bw, "%s=%s\n", k, v)
			}
		} else {
			fmt.Fprintf(bw, "active-state=%s\n", u.ActiveState)
			fmt.Fprintf(bw, "sub-state=%s\n", u.SubState)
		}
		if u.Job != nil {
			fmt.Fprintf(bw, "job-type=%s\n", u.Job.Type)
			fmt.Fprintf(bw, "job-mode=%s\n", u.Job.Mode)
		}
		fmt.Fprintln(bw)
	}

	return bw.Flush()
}

// Deserialize restores state written by Serialize. Units are loaded from
// their fragments first (the blob carries runtime state, not
// configuration), then their machines pick their saved state back up, and
// saved jobs are re-installed as fresh transactions.
func (m *Manager) Deserialize(r io.Reader) error {
	sc := bufio.NewScanner(r)

	// Manager header.
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "running-as":
			m.RunningAs = value
		case "boot-timestamp":
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				m.BootTimestamp = ts
			}
		case "env":
			m.SetEnvironment([]string{value})
		}
	}

	// Unit blocks.
	var (
		current *unit.Unit
		kv      map[string]string
		jobType unit.JobType
		jobMode unit.Mode
	)
	flush := func() {
		if current == nil {
			return
		}
		if machine, ok := current.State.(unittype.Machine); ok {
			machine.Deserialize(kv)
		} else {
			if v, ok := kv["active-state"]; ok {
				current.ActiveState = unit.ActiveState(v)
			}
			if v, ok := kv["sub-state"]; ok {
				current.SubState = v
			}
		}
		if jobType != "" {
			if jobMode == "" {
				jobMode = unit.ModeReplace
			}
			if _, err := m.request(jobType, current, jobMode, false); err != nil {
				m.log.Warn("could not restore job", "unit", current.ID, "job", jobType, "error", err)
			}
		}
		current, kv, jobType, jobMode = nil, nil, "", ""
	}

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			flush()
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if key == "unit" {
			flush()
			u, err := m.LoadUnit(value)
			if err != nil {
				m.log.Warn("could not reload serialized unit", "unit", value, "error", err)
			}
			if u == nil {
				continue
			}
			m.attachMachine(u)
			current = u
			kv = make(map[string]string)
			continue
		}
		if current == nil {
			continue
		}
		switch key {
		case "job-type":
			jobType = unit.JobType(value)
		case "job-mode":
			jobMode = unit.Mode(value)
		default:
			kv[key] = value
		}
	}
	flush()

	return sc.Err()
}
