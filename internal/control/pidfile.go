package control

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// PIDFile is an exclusively-locked PID file used as the daemon's
// single-instance guard, per §4.E/§5.
type PIDFile struct {
	f *os.File
}

// AcquirePIDFile opens path, takes a non-blocking exclusive advisory
// lock on it, and writes the current PID. If another instance already
// holds the lock, it returns an error identifying the holder's PID.
func AcquirePIDFile(path string) (*PIDFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("control: open pidfile %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		existing, _ := os.ReadFile(path)
		f.Close()
		return nil, fmt.Errorf("control: pidfile %s already locked (pid %s): %w", path, string(existing), err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("control: truncate pidfile %s: %w", path, err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("control: write pidfile %s: %w", path, err)
	}

	return &PIDFile{f: f}, nil
}

// Release unlocks and closes the PID file. It does not remove it.
func (p *PIDFile) Release() error {
	_ = unix.Flock(int(p.f.Fd()), unix.LOCK_UN)
	return p.f.Close()
}

// Lock is an advisory exclusive lock on an auxiliary file (the rollrec
// lock file of §5). Unlike PIDFile it blocks until acquired.
type Lock struct {
	f *os.File
}

// AcquireLock opens (creating if needed) path and blocks until an
// exclusive advisory lock is held.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("control: open lockfile %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("control: lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
