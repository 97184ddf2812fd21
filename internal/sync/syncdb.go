package sync

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/calcurse/calsync/internal/utils"
	mapset "github.com/deckarep/golang-set/v2"
)

// SyncDB maps the etag of every synchronized remote resource to the local
// content hash it corresponds to, as of the last successful run. Etags are
// unique by construction; hashes are not verified to be.
type SyncDB map[string]string

// LoadSyncDB reads the database from path. A missing file is the valid
// first-run state and loads as an empty database.
func LoadSyncDB(path string) (SyncDB, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return SyncDB{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sync database %s: %w", path, err)
	}

	db := SyncDB{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("sync database %s: malformed record on line %d", path, i+1)
		}
		db[fields[0]] = fields[1]
	}
	return db, nil
}

// Save writes the full database to path, one `<etag> <objhash>` pair per
// line. The write goes to a temporary file first and is renamed into
// place, so an interrupted save leaves the previous content intact.
func (db SyncDB) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("save sync database %s: %w", path, err)
	}

	etags := make([]string, 0, len(db))
	for etag := range db {
		etags = append(etags, etag)
	}
	slices.Sort(etags) // ordering is not part of the format, sorted for reproducibility

	var b strings.Builder
	for _, etag := range etags {
		fmt.Fprintf(&b, "%s %s\n", etag, db[etag])
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("save sync database %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save sync database %s: %w", path, err)
	}
	return nil
}

// ETags returns the set of recorded etags.
func (db SyncDB) ETags() mapset.Set[string] {
	etags := mapset.NewSetWithSize[string](len(db))
	for etag := range db {
		etags.Add(etag)
	}
	return etags
}

// Hashes returns the set of recorded local content hashes.
func (db SyncDB) Hashes() mapset.Set[string] {
	hashes := mapset.NewSetWithSize[string](len(db))
	for _, objHash := range db {
		hashes.Add(objHash)
	}
	return hashes
}
