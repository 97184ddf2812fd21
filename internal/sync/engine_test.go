package sync

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calcurse/calsync/internal/caldav"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocal struct {
	objects map[string][]byte // hash -> exported ical
	removed []string
	wiped   bool
	version int
}

func newFakeLocal(hashes ...string) *fakeLocal {
	l := &fakeLocal{objects: map[string][]byte{}, version: 47}
	for _, h := range hashes {
		l.objects[h] = []byte("BEGIN:VCALENDAR//" + h)
	}
	return l
}

func (l *fakeLocal) Hashes(ctx context.Context) (mapset.Set[string], error) {
	s := mapset.NewSet[string]()
	for h := range l.objects {
		s.Add(h)
	}
	return s, nil
}

func (l *fakeLocal) Export(ctx context.Context, objHash string) ([]byte, error) {
	data, ok := l.objects[objHash]
	if !ok {
		return nil, fmt.Errorf("no object %s", objHash)
	}
	return data, nil
}

func (l *fakeLocal) Import(ctx context.Context, ical []byte) (string, error) {
	objHash := fmt.Sprintf("%x", sha1.Sum(ical))[:8]
	l.objects[objHash] = ical
	return objHash, nil
}

func (l *fakeLocal) Remove(ctx context.Context, objHash string) error {
	delete(l.objects, objHash)
	l.removed = append(l.removed, objHash)
	return nil
}

func (l *fakeLocal) Wipe(ctx context.Context) error {
	l.objects = map[string][]byte{}
	l.wiped = true
	return nil
}

func (l *fakeLocal) Version(ctx context.Context) (int, error) {
	return l.version, nil
}

type remoteObject struct {
	etag string
	data []byte
}

type fakeRemote struct {
	objects  map[string]remoteObject // href -> resource
	etagSeq  int
	omitETag bool
	deleted  []string
	wiped    bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{objects: map[string]remoteObject{}}
}

func (r *fakeRemote) add(href, etag string, data []byte) {
	r.objects[href] = remoteObject{etag: etag, data: data}
}

func (r *fakeRemote) Query(ctx context.Context, uid string) (map[string]string, error) {
	index := map[string]string{}
	for href, obj := range r.objects {
		if uid != "" && !strings.Contains(href, uid) {
			continue
		}
		index[obj.etag] = href
	}
	return index, nil
}

func (r *fakeRemote) MultiGet(ctx context.Context, hrefs []string) ([]caldav.Object, error) {
	var objects []caldav.Object
	for _, href := range hrefs {
		obj, ok := r.objects[href]
		if !ok {
			return nil, fmt.Errorf("no resource %s", href)
		}
		objects = append(objects, caldav.Object{ETag: obj.etag, Href: href, Data: obj.data})
	}
	return objects, nil
}

func (r *fakeRemote) Put(ctx context.Context, href string, ical []byte) (string, error) {
	r.etagSeq++
	etag := fmt.Sprintf("etag-%d", r.etagSeq)
	r.objects[href] = remoteObject{etag: etag, data: ical}
	if r.omitETag {
		return "", nil
	}
	return etag, nil
}

func (r *fakeRemote) Delete(ctx context.Context, href string, etag string) error {
	obj, ok := r.objects[href]
	if !ok {
		return fmt.Errorf("no resource %s", href)
	}
	if obj.etag != etag {
		return fmt.Errorf("precondition failed for %s", href)
	}
	delete(r.objects, href)
	r.deleted = append(r.deleted, href)
	return nil
}

func (r *fakeRemote) Wipe(ctx context.Context) error {
	r.objects = map[string]remoteObject{}
	r.wiped = true
	return nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		SyncDBPath:      filepath.Join(dir, "sync.db"),
		LockPath:        filepath.Join(dir, "lock"),
		Collection:      "/cal/",
		MinLocalVersion: 40,
	}
}

func TestTwoWayInitPushesLocalObjects(t *testing.T) {
	local := newFakeLocal("aaa", "bbb")
	remote := newFakeRemote()
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &RunResult{Pushed: 2}, res)
	assert.Contains(t, remote.objects, "/cal/aaa.ics")
	assert.Contains(t, remote.objects, "/cal/bbb.ics")
	assert.False(t, local.wiped)
	assert.False(t, remote.wiped)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Len(t, db, 2)
	assert.ElementsMatch(t, []string{"aaa", "bbb"}, db.Hashes().ToSlice())
}

func TestPushIsConvergent(t *testing.T) {
	local := newFakeLocal("aaa")
	remote := newFakeRemote()
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	_, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)

	entries := 0
	for _, objHash := range db {
		if objHash == "aaa" {
			entries++
		}
	}
	assert.Equal(t, 1, entries)
}

func TestPullImportsRemoteObjects(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.add("/cal/x.ics", "e1", []byte("BEGIN:VCALENDAR//remote"))
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pulled)
	assert.Zero(t, res.Pushed)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)
	require.Len(t, db, 1)

	objHash, ok := db["e1"]
	require.True(t, ok)
	assert.Equal(t, []byte("BEGIN:VCALENDAR//remote"), local.objects[objHash])
}

func TestRemoteDeletionRemovesLocalObject(t *testing.T) {
	local := newFakeLocal("aaa")
	remote := newFakeRemote()
	opts := testOptions(t)
	require.NoError(t, SyncDB{"e1": "aaa"}.Save(opts.SyncDBPath))

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &RunResult{RemovedLocal: 1}, res)
	assert.Equal(t, []string{"aaa"}, local.removed)
	assert.Empty(t, local.objects)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Empty(t, db)
}

func TestLocalDeletionRemovesRemoteObject(t *testing.T) {
	local := newFakeLocal()
	remote := newFakeRemote()
	remote.add("/cal/aaa.ics", "e1", []byte("BEGIN:VCALENDAR//aaa"))
	opts := testOptions(t)
	require.NoError(t, SyncDB{"e1": "aaa"}.Save(opts.SyncDBPath))

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &RunResult{RemovedRemote: 1}, res)
	assert.Equal(t, []string{"/cal/aaa.ics"}, remote.deleted)
	assert.Empty(t, remote.objects)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Empty(t, db)
}

func TestEntryGoneOnBothSidesIsCleanedUp(t *testing.T) {
	// The resource vanished remotely and the object locally; the run must
	// drop the record without issuing any remote delete.
	local := newFakeLocal()
	remote := newFakeRemote()
	opts := testOptions(t)
	require.NoError(t, SyncDB{"e1": "aaa"}.Save(opts.SyncDBPath))

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, res.RemovedRemote)
	assert.Empty(t, remote.deleted)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Empty(t, db)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	local := newFakeLocal("aaa", "bbb")
	remote := newFakeRemote()
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	_, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	before, err := os.ReadFile(opts.SyncDBPath)
	require.NoError(t, err)

	opts.InitMode = InitNone
	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &RunResult{}, res)

	after, err := os.ReadFile(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRoundTripThroughServer(t *testing.T) {
	// Push from one client, pull into a fresh one, the object survives.
	remote := newFakeRemote()

	first := newFakeLocal("aaa")
	opts := testOptions(t)
	opts.InitMode = InitTwoWay
	_, err := New(first, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	second := newFakeLocal()
	opts2 := testOptions(t)
	opts2.InitMode = InitTwoWay
	res, err := New(second, remote, nil, opts2).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pulled)

	var imported [][]byte
	for _, data := range second.objects {
		imported = append(imported, data)
	}
	require.Len(t, imported, 1)
	assert.Equal(t, first.objects["aaa"], imported[0])
}

func TestDryRunMutatesNothing(t *testing.T) {
	local := newFakeLocal("aaa", "bbb") // bbb is new locally
	remote := newFakeRemote()
	remote.add("/cal/aaa.ics", "e1", []byte("BEGIN:VCALENDAR//aaa"))
	remote.add("/cal/new.ics", "e2", []byte("BEGIN:VCALENDAR//new")) // new remotely
	opts := testOptions(t)
	opts.DryRun = true
	require.NoError(t, SyncDB{"e1": "aaa", "e9": "ccc"}.Save(opts.SyncDBPath)) // e9/ccc gone on both sides

	before, err := os.ReadFile(opts.SyncDBPath)
	require.NoError(t, err)

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	// Planned work is reported...
	assert.Equal(t, 1, res.Pulled)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1, res.RemovedLocal)

	// ...but nothing moved.
	assert.Empty(t, local.removed)
	assert.Len(t, local.objects, 2)
	assert.Len(t, remote.objects, 2)
	assert.Empty(t, remote.deleted)

	after, err := os.ReadFile(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDryRunInitWipesNothing(t *testing.T) {
	local := newFakeLocal("aaa")
	remote := newFakeRemote()
	remote.add("/cal/x.ics", "e1", []byte("BEGIN:VCALENDAR//x"))

	for _, mode := range []InitMode{InitKeepRemote, InitKeepLocal} {
		t.Run(string(mode), func(t *testing.T) {
			opts := testOptions(t)
			opts.InitMode = mode
			opts.DryRun = true

			_, err := New(local, remote, nil, opts).Run(context.Background())
			require.NoError(t, err)
			assert.False(t, local.wiped)
			assert.False(t, remote.wiped)
		})
	}
}

func TestKeepRemoteWipesLocal(t *testing.T) {
	local := newFakeLocal("aaa")
	remote := newFakeRemote()
	remote.add("/cal/x.ics", "e1", []byte("BEGIN:VCALENDAR//x"))
	opts := testOptions(t)
	opts.InitMode = InitKeepRemote

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, local.wiped)
	assert.False(t, remote.wiped)
	assert.Equal(t, 1, res.Pulled)
	assert.Zero(t, res.Pushed)
}

func TestKeepLocalWipesRemote(t *testing.T) {
	local := newFakeLocal("aaa")
	remote := newFakeRemote()
	remote.add("/cal/x.ics", "e1", []byte("BEGIN:VCALENDAR//x"))
	opts := testOptions(t)
	opts.InitMode = InitKeepLocal

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, remote.wiped)
	assert.False(t, local.wiped)
	assert.Equal(t, 1, res.Pushed)
	assert.Zero(t, res.Pulled)
}

func TestMissingSyncDBWithoutInitFails(t *testing.T) {
	opts := testOptions(t)

	_, err := New(newFakeLocal(), newFakeRemote(), nil, opts).Run(context.Background())

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Remedy, "--init")
}

func TestETagRecoveredWhenPutOmitsIt(t *testing.T) {
	local := newFakeLocal("aaa")
	remote := newFakeRemote()
	remote.omitETag = true
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	res, err := New(local, remote, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Pushed)

	db, err := LoadSyncDB(opts.SyncDBPath)
	require.NoError(t, err)
	assert.Equal(t, SyncDB{"etag-1": "aaa"}, db)
}

func TestIncompatibleLocalVersionFails(t *testing.T) {
	local := newFakeLocal()
	local.version = 39
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	_, err := New(local, newFakeRemote(), nil, opts).Run(context.Background())

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "incompatible")
}

func TestConcurrentRunIsRejected(t *testing.T) {
	opts := testOptions(t)
	opts.InitMode = InitTwoWay

	other := flock.New(opts.LockPath)
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = New(newFakeLocal(), newFakeRemote(), nil, opts).Run(context.Background())
	assert.ErrorIs(t, err, ErrLockHeld)
}

func TestParseInitMode(t *testing.T) {
	for _, valid := range []string{"", "keep-remote", "keep-local", "two-way"} {
		mode, err := ParseInitMode(valid)
		assert.NoError(t, err)
		assert.Equal(t, InitMode(valid), mode)
	}

	_, err := ParseInitMode("both-ways")
	assert.ErrorContains(t, err, "both-ways")
}
