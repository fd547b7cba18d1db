package main

import (
	"os"
	"syscall"
)

// execSelf replaces the current process with path, arranging for state to
// be inherited at fd 3 where --deserialize=3 expects it. It only returns
// on error.
func execSelf(path string, args []string, state *os.File) error {
	fd := int(state.Fd())
	if fd != 3 {
		if err := syscall.Dup3(fd, 3, 0); err != nil {
			return err
		}
	}
	// Clear close-on-exec so the fd survives the exec.
	if _, _, errno := syscall.Syscall(syscall.SYS_FCNTL, 3, syscall.F_SETFD, 0); errno != 0 {
		return errno
	}
	return syscall.Exec(path, args, os.Environ())
}
