package sync

import (
	"context"
	"fmt"
	"log/slog"
)

// InitMode selects how the baseline sync database is established when no
// prior state exists or a reset is requested.
type InitMode string

const (
	// InitNone is a regular run against an existing sync database.
	InitNone InitMode = ""
	// InitKeepRemote wipes the local store; the pull pass repopulates it.
	InitKeepRemote InitMode = "keep-remote"
	// InitKeepLocal wipes the remote collection; the push pass repopulates it.
	InitKeepLocal InitMode = "keep-local"
	// InitTwoWay wipes neither side. Objects existing on both sides are
	// imported/pushed once each, possibly producing duplicates; there is
	// no content-equality check across stores.
	InitTwoWay InitMode = "two-way"
)

// ParseInitMode validates a user-supplied mode string.
func ParseInitMode(s string) (InitMode, error) {
	switch mode := InitMode(s); mode {
	case InitNone, InitKeepRemote, InitKeepLocal, InitTwoWay:
		return mode, nil
	default:
		return InitNone, fmt.Errorf("unknown init mode %q (supported: keep-remote, keep-local, two-way)", s)
	}
}

// initialize establishes the baseline for the configured init mode and
// returns the empty database every mode starts from.
func (e *Engine) initialize(ctx context.Context) (SyncDB, error) {
	switch e.opts.InitMode {
	case InitKeepRemote:
		slog.Info("removing all local objects")
		if !e.opts.DryRun {
			if err := e.local.Wipe(ctx); err != nil {
				return nil, err
			}
		}
	case InitKeepLocal:
		slog.Info("removing all objects from the CalDAV server")
		if !e.opts.DryRun {
			if err := e.remote.Wipe(ctx); err != nil {
				return nil, err
			}
		}
	}
	return SyncDB{}, nil
}
