// Package pid guards against running two hwmond instances at once.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/hwmond/internal/errors"
)

const fileName = "hwmond.pid"

// DefaultPath is the PID file location when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), fileName)
}

// Write records the current process ID at path. It fails with
// ErrAlreadyRunning when the file names a live process; a stale or
// unreadable file is replaced.
func Write(path string) error {
	errFactory := errors.New()

	if owner, ok := readPID(path); ok && owner != os.Getpid() && alive(owner) {
		return errFactory.WithData(errors.ErrAlreadyRunning, owner)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove deletes the PID file. A missing file is not an error.
func Remove(path string) error {
	errFactory := errors.New()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

func readPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return process.Signal(syscall.Signal(0)) == nil
}
