package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gofrs/flock"

	"github.com/meigma/fieldarchive/internal/fatype"
)

// lockShared takes a shared advisory lock on path.
func lockShared(path string) (*flock.Flock, error) {
	fl := flock.New(path, flock.SetFlag(os.O_RDONLY))
	ok, err := fl.TryRLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, fatype.ErrLocked)
	}
	return fl, nil
}

// replaceLocked runs fn while holding an exclusive lock on target. When
// target is the file own locks, own is upgraded for the duration of fn and
// downgraded again afterwards; the downgrade reopens the path, so it locks
// whatever fn left there.
func replaceLocked(own *flock.Flock, target string, fn func() error) error {
	if samePath(own.Path(), target) {
		ok, err := own.TryLock()
		if err != nil || !ok {
			// A failed conversion may have dropped the shared lock.
			_ = relock(own)
			if err != nil {
				return fmt.Errorf("lock %s: %w", target, err)
			}
			return fmt.Errorf("%s: %w", target, fatype.ErrLocked)
		}
		fnErr := fn()
		if err := relock(own); err != nil && fnErr == nil {
			return err
		}
		return fnErr
	}

	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return fn()
	}
	other := flock.New(target, flock.SetFlag(os.O_RDONLY))
	ok, err := other.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", target, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", target, fatype.ErrLocked)
	}
	defer other.Unlock() //nolint:errcheck // released on a best-effort basis
	return fn()
}

// relock drops every lock fl holds and takes a shared lock on its path again.
func relock(fl *flock.Flock) error {
	if err := fl.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", fl.Path(), err)
	}
	ok, err := fl.TryRLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", fl.Path(), fatype.ErrLocked)
	}
	return nil
}

// moveLock releases fl and takes a shared lock on target.
func moveLock(fl *flock.Flock, target string) (*flock.Flock, error) {
	if samePath(fl.Path(), target) {
		return fl, nil
	}
	next, err := lockShared(target)
	if err != nil {
		return fl, err
	}
	_ = fl.Unlock()
	return next, nil
}
