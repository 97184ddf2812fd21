package sync

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/calcurse/calsync/internal/utils"
	"github.com/gofrs/flock"
)

// ErrLockHeld reports that another run appears active against the same
// sync database. The user must verify and clear the lock manually.
var ErrLockHeld = errors.New("another synchronization instance appears to be running; if it is not, remove the lock file manually and try again")

// runLock brackets a whole run. Acquisition is an atomic flock, not a
// check-then-create, so two runs starting simultaneously cannot both win.
type runLock struct {
	fl *flock.Flock
}

func newRunLock(path string) *runLock {
	return &runLock{fl: flock.New(path)}
}

func (l *runLock) Acquire() error {
	if err := utils.EnsureParent(l.fl.Path()); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%s: %w", l.fl.Path(), ErrLockHeld)
	}
	return nil
}

func (l *runLock) Release() {
	if err := l.fl.Unlock(); err != nil {
		slog.Warn("release run lock", "path", l.fl.Path(), "error", err)
	}
}
