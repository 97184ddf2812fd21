package sync

import (
	"context"
	"log/slog"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// pull reconciles the remote index against the sync database: resources
// the database does not know yet are imported into the local store,
// database entries without a live remote resource are removed locally.
func (e *Engine) pull(ctx context.Context, db SyncDB, index map[string]string, res *RunResult) error {
	known := db.ETags()
	current := mapset.NewSetWithSize[string](len(index))
	for etag := range index {
		current.Add(etag)
	}

	missing := sorted(current.Difference(known))
	orphan := sorted(known.Difference(current))

	if len(missing) > 0 {
		hrefs := make([]string, 0, len(missing))
		for _, etag := range missing {
			hrefs = append(hrefs, index[etag])
		}
		slices.Sort(hrefs)

		if e.opts.DryRun {
			for _, href := range hrefs {
				slog.Info("would import new object", "href", href)
			}
			res.Pulled += len(hrefs)
		} else {
			objects, err := e.remote.MultiGet(ctx, hrefs)
			if err != nil {
				return err
			}
			for _, obj := range objects {
				slog.Debug("importing new object", "etag", obj.ETag)
				objHash, err := e.local.Import(ctx, obj.Data)
				if err != nil {
					return err
				}
				db[obj.ETag] = objHash
				res.Pulled++
			}
		}
	}

	for _, etag := range orphan {
		objHash := db[etag]
		if e.opts.DryRun {
			slog.Info("would remove local object", "hash", objHash)
			res.RemovedLocal++
			continue
		}
		slog.Debug("removing local object", "hash", objHash)
		if err := e.local.Remove(ctx, objHash); err != nil {
			return err
		}
		delete(db, etag)
		res.RemovedLocal++
	}

	return nil
}

func sorted(s mapset.Set[string]) []string {
	values := s.ToSlice()
	slices.Sort(values)
	return values
}
