package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/calcurse/calsync/internal/caldav"
)

// maxETagAttempts bounds the polling fallback for servers that omit the
// ETag header from a successful PUT.
const maxETagAttempts = 10

// push reconciles the local store against the sync database: hashes the
// database does not know yet are created on the remote collection, database
// entries whose hash is gone locally are deleted from the server.
func (e *Engine) push(ctx context.Context, db SyncDB, index map[string]string, res *RunResult) error {
	local, err := e.local.Hashes(ctx)
	if err != nil {
		return err
	}
	known := db.Hashes()

	newHashes := sorted(local.Difference(known))
	goneHashes := sorted(known.Difference(local))

	for _, objHash := range newHashes {
		// Naming the resource after the hash keeps the location collision
		// free and makes a re-push after a partial failure idempotent.
		href := e.opts.Collection + objHash + ".ics"

		if e.opts.DryRun {
			slog.Info("would push new object", "hash", objHash, "href", href)
			res.Pushed++
			continue
		}

		slog.Debug("pushing new object", "hash", objHash, "href", href)
		ical, err := e.local.Export(ctx, objHash)
		if err != nil {
			return err
		}
		etag, err := e.remote.Put(ctx, href, ical)
		if err != nil {
			return err
		}
		if etag == "" {
			if etag, err = e.recoverETag(ctx, objHash); err != nil {
				return err
			}
		}
		db[etag] = objHash
		res.Pushed++
	}

	for _, objHash := range goneHashes {
		// Normally one entry per hash, but the database is a lookup
		// structure, not a verified bijection.
		var etags []string
		for etag, h := range db {
			if h == objHash {
				etags = append(etags, etag)
			}
		}
		slices.Sort(etags)

		for _, etag := range etags {
			href, ok := index[etag]
			if !ok {
				// No live resource behind this entry, just prune it.
				if !e.opts.DryRun {
					slog.Debug("pruning stale entry", "etag", etag, "hash", objHash)
					delete(db, etag)
				}
				continue
			}

			if e.opts.DryRun {
				slog.Info("would remove remote object", "etag", etag, "href", href)
				res.RemovedRemote++
				continue
			}

			slog.Debug("removing remote object", "etag", etag, "href", href)
			if err := e.remote.Delete(ctx, href, etag); err != nil {
				return err
			}
			delete(db, etag)
			res.RemovedRemote++
		}
	}

	return nil
}

// recoverETag polls the collection, scoped to the pushed object's UID,
// until the server reports the etag it assigned.
func (e *Engine) recoverETag(ctx context.Context, objHash string) (string, error) {
	for attempt := 0; attempt < maxETagAttempts; attempt++ {
		index, err := e.remote.Query(ctx, objHash)
		if err != nil {
			return "", err
		}
		for etag := range index {
			return etag, nil
		}
	}
	return "", &caldav.ProtocolError{
		Op:     "put",
		Reason: fmt.Sprintf("no etag observed for pushed object %s after %d attempts", objHash, maxETagAttempts),
	}
}
