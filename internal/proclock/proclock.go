// Package proclock guards against concurrent engine processes on one host
// with an exclusive lock file.
package proclock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

// ErrLocked is returned when another process already holds the lock.
var ErrLocked = errors.New("another process holds the lock")

// Lock is a held lock file. Release removes it.
type Lock struct {
	path string
}

// Acquire creates the lock file exclusively and writes the holder's pid into
// it. An existing file means another process is active.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("create lock file: %w", err)
	}
	_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()))
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write lock file: %w", writeErr)
	}
	return &Lock{path: path}, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
