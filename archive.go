package mvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/mvstore/blobstore"
	"github.com/hupe1980/mvstore/slab"
)

// ArchiveManifest describes one archived snapshot in a blob store. The
// CURRENT blob holds the name of the latest manifest.
type ArchiveManifest struct {
	Version     uint64    `json:"version"`
	TopRef      uint64    `json:"top_ref"`
	Snapshot    string    `json:"snapshot"`
	SnapshotLen int64     `json:"snapshot_len"`
	CreatedAt   time.Time `json:"created_at"`
}

// ArchiveTo uploads the latest committed version to a blob store. The
// snapshot and its manifest are uploaded concurrently, then the CURRENT
// pointer is flipped. The archived version stays pinned for the duration
// of the upload.
func (db *DB) ArchiveTo(ctx context.Context, store blobstore.Store) (uint64, error) {
	if db.closed.Load() {
		return 0, ErrDatabaseClosed
	}

	lock, err := db.registry.grab(LockLive, 0)
	if err != nil {
		return 0, err
	}
	defer db.registry.release(lock)

	var snapshot []byte
	if lock.TopRef != 0 {
		snapshot, err = db.alloc.EncodeReachable(lock.TopRef)
		if err != nil {
			return 0, fmt.Errorf("encode snapshot: %w", err)
		}
	}

	snapshotName := fmt.Sprintf("snapshots/v%016d.snap", lock.Version)
	manifestName := fmt.Sprintf("manifests/v%016d.json", lock.Version)

	manifest, err := json.Marshal(ArchiveManifest{
		Version:     lock.Version,
		TopRef:      uint64(lock.TopRef),
		Snapshot:    snapshotName,
		SnapshotLen: int64(len(snapshot)),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("encode manifest: %w", err)
	}

	if err := db.resources.AcquireIO(ctx, len(snapshot)+len(manifest)); err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.Put(gctx, snapshotName, snapshot)
	})
	g.Go(func() error {
		return store.Put(gctx, manifestName, manifest)
	})
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("upload archive: %w", err)
	}

	// Flip CURRENT only after both uploads are durable.
	if err := store.Put(ctx, "CURRENT", []byte(manifestName)); err != nil {
		return 0, fmt.Errorf("update current pointer: %w", err)
	}

	db.logger.Info("archived snapshot",
		"version", lock.Version,
		"snapshot", snapshotName,
		"bytes", len(snapshot),
	)

	return lock.Version, nil
}

// LoadArchivedManifest resolves the CURRENT pointer in a blob store and
// returns the manifest it names.
func LoadArchivedManifest(ctx context.Context, store blobstore.Store) (*ArchiveManifest, error) {
	cur, err := store.Open(ctx, "CURRENT")
	if err != nil {
		return nil, err
	}
	name, err := blobstore.ReadAll(cur)
	_ = cur.Close()
	if err != nil {
		return nil, err
	}

	blob, err := store.Open(ctx, string(name))
	if err != nil {
		return nil, err
	}
	data, err := blobstore.ReadAll(blob)
	_ = blob.Close()
	if err != nil {
		return nil, err
	}

	var m ArchiveManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// RestoreArchived downloads the snapshot named by the CURRENT pointer and
// opens it as an in-memory database.
func RestoreArchived(ctx context.Context, store blobstore.Store, optFns ...Option) (*DB, error) {
	m, err := LoadArchivedManifest(ctx, store)
	if err != nil {
		return nil, err
	}

	blob, err := store.Open(ctx, m.Snapshot)
	if err != nil {
		return nil, err
	}
	data, err := blobstore.ReadAll(blob)
	_ = blob.Close()
	if err != nil {
		return nil, err
	}

	db, err := New(optFns...)
	if err != nil {
		return nil, err
	}

	if m.Version > 0 {
		root := slab.Ref(0)
		if m.TopRef != 0 {
			alloc, decoded, err := slab.DecodeSnapshot(data)
			if err != nil {
				return nil, err
			}
			if uint64(decoded) != m.TopRef {
				return nil, fmt.Errorf("%w: manifest names top ref %d, snapshot root is %d",
					ErrArchiveCorrupt, m.TopRef, decoded)
			}
			db.alloc = alloc
			root = decoded
		}
		db.registry = newLockRegistry(db.reclaim)
		db.registry.publish(m.Version, root, db.alloc.Watermark())
	}

	return db, nil
}
