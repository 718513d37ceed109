package mvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mvstore/blobstore"
)

func TestArchiveAndRestore(t *testing.T) {
	db := newTestDB(t)
	v := writeOneObject(t, db, "events", 7)

	store := blobstore.NewMemoryStore()
	archived, err := db.ArchiveTo(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, v, archived)

	m, err := LoadArchivedManifest(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, v, m.Version)
	assert.Positive(t, m.SnapshotLen)

	restored, err := RestoreArchived(context.Background(), store)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, v, restored.LatestVersion())

	r, err := restored.StartRead()
	require.NoError(t, err)
	defer r.Close()

	tbl, err := r.GetTable("events")
	require.NoError(t, err)
	obj, err := tbl.Object(ObjKey(1))
	require.NoError(t, err)
	val, err := obj.Get("value")
	require.NoError(t, err)
	assert.Equal(t, IntValue(7), val)
}

func TestArchiveCurrentPointsToNewest(t *testing.T) {
	db := newTestDB(t)

	writeOneObject(t, db, "events", 1)
	_, err := db.ArchiveTo(context.Background(), blobstore.NewMemoryStore())
	require.NoError(t, err)

	store := blobstore.NewMemoryStore()
	_, err = db.ArchiveTo(context.Background(), store)
	require.NoError(t, err)

	v2 := writeOneObject(t, db, "events", 2)
	_, err = db.ArchiveTo(context.Background(), store)
	require.NoError(t, err)

	m, err := LoadArchivedManifest(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, v2, m.Version)

	// Both snapshots remain listed.
	names, err := store.List(context.Background(), "snapshots/")
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestRestoreArchivedRejectsTamperedManifest(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 7)

	store := blobstore.NewMemoryStore()
	_, err := db.ArchiveTo(context.Background(), store)
	require.NoError(t, err)

	// Point the manifest at a ref the snapshot's root does not match.
	m, err := LoadArchivedManifest(context.Background(), store)
	require.NoError(t, err)
	m.TopRef += 8
	tampered, err := json.Marshal(m)
	require.NoError(t, err)
	name := fmt.Sprintf("manifests/v%016d.json", m.Version)
	require.NoError(t, store.Put(context.Background(), name, tampered))

	_, err = RestoreArchived(context.Background(), store)
	assert.ErrorIs(t, err, ErrArchiveCorrupt)
}

func TestLoadArchivedManifestMissing(t *testing.T) {
	_, err := LoadArchivedManifest(context.Background(), blobstore.NewMemoryStore())
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
