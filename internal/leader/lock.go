package leader

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Lock is an exclusive, non-blocking lock shared by the processes on one host.
type Lock interface {
	// TryLock acquires the lock without waiting. It reports false when
	// another holder already has it.
	TryLock() (bool, error)
	Unlock() error
}

// FileLock is an advisory flock(2) on a file. The file has no content; it
// only names the lock. The kernel drops the lock when the holding process
// exits, so a crashed leader never leaves a stale lock behind.
type FileLock struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) TryLock() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		return true, nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.f = f
	return true, nil
}

func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Registry hands out in-memory locks keyed by name. Locks from one
// registry behave like FileLocks on the same path; it stands in for the
// filesystem in tests.
type Registry struct {
	mu   sync.Mutex
	held map[string]*MemoryLock
}

func NewRegistry() *Registry {
	return &Registry{held: make(map[string]*MemoryLock)}
}

// Lock returns a new handle on the named lock.
func (r *Registry) Lock(name string) *MemoryLock {
	return &MemoryLock{registry: r, name: name}
}

// MemoryLock is one handle on a Registry lock.
type MemoryLock struct {
	registry *Registry
	name     string
}

func (l *MemoryLock) TryLock() (bool, error) {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	switch holder := r.held[l.name]; holder {
	case nil:
		r.held[l.name] = l
		return true, nil
	case l:
		return true, nil
	default:
		return false, nil
	}
}

func (l *MemoryLock) Unlock() error {
	r := l.registry
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[l.name] == l {
		delete(r.held, l.name)
	}
	return nil
}
