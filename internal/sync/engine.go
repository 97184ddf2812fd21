// Package sync implements the bidirectional reconciliation between a
// local calcurse store and a remote CalDAV collection, keyed purely on
// content hashes and server etags. There is no field-level merge: an
// object changed on both sides since the last run becomes two objects.
package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/calcurse/calsync/internal/caldav"
	"github.com/calcurse/calsync/internal/history"
	mapset "github.com/deckarep/golang-set/v2"
)

// LocalStore is the local calendar/task store capability.
type LocalStore interface {
	Hashes(ctx context.Context) (mapset.Set[string], error)
	Export(ctx context.Context, objHash string) ([]byte, error)
	Import(ctx context.Context, ical []byte) (string, error)
	Remove(ctx context.Context, objHash string) error
	Wipe(ctx context.Context) error
	Version(ctx context.Context) (int, error)
}

// RemoteStore is the CalDAV collection capability.
type RemoteStore interface {
	Query(ctx context.Context, uid string) (map[string]string, error)
	MultiGet(ctx context.Context, hrefs []string) ([]caldav.Object, error)
	Put(ctx context.Context, href string, ical []byte) (string, error)
	Delete(ctx context.Context, href string, etag string) error
	Wipe(ctx context.Context) error
}

// Options configures one reconciliation run.
type Options struct {
	// SyncDBPath is the path of the persisted etag/hash database.
	SyncDBPath string
	// LockPath is the cross-process lock file bracketing the run.
	LockPath string
	// Collection is the remote collection path, with a trailing slash.
	Collection string
	// InitMode establishes a fresh baseline instead of loading the database.
	InitMode InitMode
	// DryRun performs every read and diff but suppresses all mutations,
	// reporting what would have happened.
	DryRun bool
	// MinLocalVersion gates the local store binary; zero disables the check.
	MinLocalVersion int
}

// RunResult carries the four reconciliation counters of one run. In
// dry-run mode they count planned operations.
type RunResult struct {
	Pulled        int
	RemovedLocal  int
	Pushed        int
	RemovedRemote int
}

type runState string

const (
	stateConnected   runState = "connected"
	stateInitialized runState = "initialized"
	stateLoaded      runState = "loaded"
	stateIndexed     runState = "indexed"
	statePulled      runState = "pulled"
	statePushed      runState = "pushed"
	statePersisted   runState = "persisted"
	stateDone        runState = "done"
)

// Engine owns the in-memory sync database for the duration of one run and
// sequences initialization-or-load, index build, pull, push and persistence.
type Engine struct {
	local   LocalStore
	remote  RemoteStore
	journal *history.Journal // optional, best effort
	opts    Options
}

func New(local LocalStore, remote RemoteStore, journal *history.Journal, opts Options) *Engine {
	return &Engine{
		local:   local,
		remote:  remote,
		journal: journal,
		opts:    opts,
	}
}

// Run executes one full pull-then-push reconciliation pass. Any failure
// aborts the run with nothing partially persisted; the lock is released
// on every path.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	lock := newRunLock(e.opts.LockPath)
	if err := lock.Acquire(); err != nil {
		return nil, err
	}
	defer lock.Release()

	started := time.Now()
	res, err := e.run(ctx)
	e.record(started, res, err)
	return res, err
}

func (e *Engine) run(ctx context.Context) (*RunResult, error) {
	if e.opts.MinLocalVersion > 0 {
		ver, err := e.local.Version(ctx)
		if err != nil {
			return nil, &ConfigError{
				Reason: "invalid calcurse binary: " + err.Error(),
				Remedy: "Make sure the configured binary is a valid and up-to-date calcurse.",
			}
		}
		if ver < e.opts.MinLocalVersion {
			return nil, errIncompatibleBinary(ver)
		}
	}
	e.setState(stateConnected)

	var db SyncDB
	var err error
	if e.opts.InitMode != InitNone {
		if db, err = e.initialize(ctx); err != nil {
			return nil, err
		}
		e.setState(stateInitialized)
	} else {
		slog.Debug("loading sync database", "path", e.opts.SyncDBPath)
		if db, err = LoadSyncDB(e.opts.SyncDBPath); err != nil {
			return nil, err
		}
		if len(db) == 0 {
			return nil, errSyncDBMissing()
		}
		e.setState(stateLoaded)
	}

	index, err := e.remote.Query(ctx, "")
	if err != nil {
		return nil, err
	}
	e.setState(stateIndexed)

	// Pull runs first so remote deletions are reconciled against a
	// database that does not yet contain this run's pushes.
	res := &RunResult{}
	if err := e.pull(ctx, db, index, res); err != nil {
		return res, err
	}
	e.setState(statePulled)

	if err := e.push(ctx, db, index, res); err != nil {
		return res, err
	}
	e.setState(statePushed)

	if !e.opts.DryRun {
		slog.Debug("saving sync database", "path", e.opts.SyncDBPath)
		if err := db.Save(e.opts.SyncDBPath); err != nil {
			return res, err
		}
	}
	e.setState(statePersisted)

	slog.Info("run complete",
		"pulled", res.Pulled,
		"removed_local", res.RemovedLocal,
		"pushed", res.Pushed,
		"removed_remote", res.RemovedRemote,
		"dry_run", e.opts.DryRun,
	)
	e.setState(stateDone)
	return res, nil
}

func (e *Engine) setState(s runState) {
	slog.Debug("run state", "state", s)
}

// record appends the run outcome to the history journal. Failures never
// affect the run result.
func (e *Engine) record(started time.Time, res *RunResult, runErr error) {
	if e.journal == nil {
		return
	}

	mode := string(e.opts.InitMode)
	if mode == "" {
		mode = "sync"
	}

	rec := &history.Record{
		StartedAt:  started,
		FinishedAt: time.Now(),
		Mode:       mode,
		DryRun:     e.opts.DryRun,
		Status:     "ok",
	}
	if res != nil {
		rec.Pulled = res.Pulled
		rec.RemovedLocal = res.RemovedLocal
		rec.Pushed = res.Pushed
		rec.RemovedRemote = res.RemovedRemote
	}
	if runErr != nil {
		rec.Status = "failed"
		rec.Error = runErr.Error()
	}

	if err := e.journal.Record(rec); err != nil {
		slog.Warn("record run history", "error", err)
	}
}
