// Package pid guards against concurrent daemon instances with a PID
// file. A leftover file from a crashed run is treated as stale and
// reclaimed rather than blocking startup.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/tessel/kairo/internal/errors"
)

const pidFile = "kairod.pid"

func path() string {
	return filepath.Join(os.TempDir(), pidFile)
}

// Write claims the PID file for the current process. It fails with
// ErrAlreadyRunning when the file names a live process, and silently
// reclaims a stale file.
func Write() error {
	errFactory := errors.New()

	if owner, ok := currentOwner(); ok {
		if alive(owner) {
			return errFactory.WithData(errors.ErrAlreadyRunning, owner)
		}
		// Stale file from a dead process; fall through and overwrite.
	}

	if err := os.WriteFile(path(), []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove releases the PID file. Missing files are not an error.
func Remove() error {
	errFactory := errors.New()

	if err := os.Remove(path()); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// currentOwner reads the PID recorded in the file. A missing or
// malformed file counts as unowned.
func currentOwner() (int, bool) {
	raw, err := os.ReadFile(path())
	if err != nil {
		return 0, false
	}

	owner, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || owner <= 0 {
		return 0, false
	}

	return owner, true
}

// alive reports whether the process exists. Signal 0 probes without
// delivering anything.
func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
