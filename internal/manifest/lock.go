package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"scribe/internal/config"
)

// Lock is an advisory file lock over the session directory. Exactly one run
// may hold it; concurrent runs against the same session would race on item
// ownership.
type Lock struct {
	fl   *flock.Flock
	path string
}

// AcquireLock takes the session lock, failing immediately when another
// process holds it.
func AcquireLock(cfg *config.Config) (*Lock, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	path := filepath.Join(cfg.Paths.SessionDir, "session.lock")
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another scribe run already owns the session at %s", path)
	}
	return &Lock{fl: fl, path: path}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
