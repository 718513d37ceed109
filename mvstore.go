package mvstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/mvstore/commitlog"
	"github.com/hupe1980/mvstore/resource"
	"github.com/hupe1980/mvstore/slab"
)

// CommitWriter persists committed versions. Commit receives the version,
// its top ref and the serialized snapshot, and must make the version
// durable before returning. A failed Commit permanently poisons the
// version: the store assumes the on-disk root pointer may already
// reference it.
type CommitWriter interface {
	Commit(version uint64, topRef uint64, snapshot []byte) error
	Close() error
}

// DB is the shared database handle. It owns the node arena, the version
// registry, the exclusive write lock and the background flush worker. The
// handle must outlive every transaction started from it and is torn down
// with an explicit Close.
type DB struct {
	logger    *Logger
	metrics   MetricsObserver
	writer    CommitWriter
	resources *resource.Controller
	sink      ReplicationSink

	alloc    *slab.Allocator
	registry *lockRegistry

	// writeSem is the exclusive write lock. A weighted semaphore rather
	// than a mutex, so ownership can be handed from the committing
	// goroutine to the flush worker.
	writeSem  *semaphore.Weighted
	flushPool *workerPool

	mu       sync.Mutex
	changeCh chan struct{}

	format atomic.Uint32

	closed atomic.Bool
}

// New creates an in-memory database with an empty initial version, so
// read transactions can attach immediately.
func New(optFns ...Option) (*DB, error) {
	opts := options{
		logger:  NoopLogger(),
		metrics: NoopMetricsObserver{},
		format:  LatestFileFormat,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	db := &DB{
		logger:    opts.logger,
		metrics:   opts.metrics,
		writer:    opts.writer,
		resources: opts.resources,
		sink:      opts.sink,
		alloc:     slab.New(),
		writeSem:  semaphore.NewWeighted(1),
		flushPool: newWorkerPool(1),
		changeCh:  make(chan struct{}),
	}
	db.registry = newLockRegistry(db.reclaim)
	db.registry.publish(1, 0, db.alloc.Seal())

	db.format.Store(opts.format)

	return db, nil
}

// Open creates or reopens a file-backed database. The commit log at path
// becomes the commit writer; an existing log is recovered to its root
// snapshot.
func Open(path string, optFns ...Option) (*DB, error) {
	log, err := commitlog.Open(path)
	if err != nil {
		return nil, err
	}

	version, topRef, snapshot, err := log.Root()
	if err != nil {
		log.Close()
		return nil, err
	}

	optFns = append(optFns, WithCommitWriter(log))
	db, err := New(optFns...)
	if err != nil {
		log.Close()
		return nil, err
	}

	if version > 0 {
		root := slab.Ref(0)
		if topRef != 0 {
			alloc, decoded, err := slab.DecodeSnapshot(snapshot)
			if err != nil {
				log.Close()
				return nil, err
			}
			if uint64(decoded) != topRef {
				log.Close()
				return nil, fmt.Errorf("%w: root pointer names ref %d, snapshot root is %d",
					commitlog.ErrCorrupt, topRef, decoded)
			}
			db.alloc = alloc
			root = decoded
		}
		db.registry = newLockRegistry(db.reclaim)
		db.registry.publish(version, root, db.alloc.Watermark())
	}

	return db, nil
}

// StartRead attaches a new transaction to the latest committed version.
func (db *DB) StartRead() (*Transaction, error) {
	return db.startRead(0)
}

// StartReadAt attaches a new transaction to a specific version. Fails
// with ErrNoSuchVersion when the version was reclaimed or never existed.
func (db *DB) StartReadAt(version uint64) (*Transaction, error) {
	return db.startRead(version)
}

func (db *DB) startRead(version uint64) (*Transaction, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	lock, err := db.registry.grab(LockLive, version)
	if err != nil {
		return nil, err
	}
	tx := newTransaction(db)
	tx.attach(StageReading, lock)
	return tx, nil
}

// StartFrozen attaches a new immutable transaction pinned permanently to
// a version. Version zero freezes the latest.
func (db *DB) StartFrozen(version uint64) (*Transaction, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	lock, err := db.registry.grab(LockFrozen, version)
	if err != nil {
		return nil, err
	}
	tx := newTransaction(db)
	tx.attach(StageFrozen, lock)
	return tx, nil
}

// StartWrite blocks until the exclusive write lock is available, then
// attaches a new write transaction to the latest version.
func (db *DB) StartWrite(ctx context.Context) (*Transaction, error) {
	if db.closed.Load() {
		return nil, ErrDatabaseClosed
	}
	if err := db.writeSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	lock, err := db.registry.grab(LockLive, 0)
	if err != nil {
		db.writeSem.Release(1)
		return nil, err
	}
	tx := newTransaction(db)
	tx.attach(StageWriting, lock)
	tx.holdsWriteLock = true
	return tx, nil
}

// LatestVersion returns the newest committed version.
func (db *DB) LatestVersion() uint64 {
	return db.registry.latestVersion()
}

// CommitSize returns the bytes written by the current write transaction
// since the last commit or rollback.
func (db *DB) CommitSize() int64 {
	return db.alloc.CommitSize()
}

// publishCommit seals the arena, registers the new version and wakes
// change waiters. Caller must own the write lock.
func (db *DB) publishCommit(topRef slab.Ref) (uint64, int64) {
	fileSize := db.alloc.Seal()
	version := db.registry.latestVersion() + 1
	db.registry.publish(version, topRef, fileSize)

	db.mu.Lock()
	close(db.changeCh)
	db.changeCh = make(chan struct{})
	db.mu.Unlock()

	return version, fileSize
}

// flushToDisk serializes the snapshot rooted at topRef and hands it to
// the commit writer. Without a writer this is a no-op.
func (db *DB) flushToDisk(version uint64, topRef slab.Ref) error {
	if db.writer == nil {
		return nil
	}
	var snapshot []byte
	if topRef != 0 {
		var err error
		snapshot, err = db.alloc.EncodeReachable(topRef)
		if err != nil {
			return err
		}
	}
	if err := db.resources.AcquireBuffer(context.Background(), int64(len(snapshot))); err != nil {
		return err
	}
	defer db.resources.ReleaseBuffer(int64(len(snapshot)))

	if err := db.resources.AcquireIO(context.Background(), len(snapshot)); err != nil {
		return err
	}
	return db.writer.Commit(version, uint64(topRef), snapshot)
}

// reclaim sweeps arena nodes unreachable from any retained version. The
// registry calls this after the last pin of an old version drops.
func (db *DB) reclaim() {
	db.alloc.Sweep(db.registry.retainedRoots())
}

// waitForChange blocks until a version newer than since is committed.
func (db *DB) waitForChange(ctx context.Context, since uint64) error {
	for {
		db.mu.Lock()
		ch := db.changeCh
		db.mu.Unlock()

		if db.registry.latestVersion() > since {
			return nil
		}
		if db.closed.Load() {
			return ErrDatabaseClosed
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close tears the handle down. Fails with ErrOpenTransactions while read
// locks other than deliberately leaked ones are still pinned.
func (db *DB) Close() error {
	if db.registry.pinCount() > 0 {
		return ErrOpenTransactions
	}
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}

	db.registry.close()
	db.flushPool.Close()

	// Wake change waiters so they observe the closed handle.
	db.mu.Lock()
	close(db.changeCh)
	db.changeCh = make(chan struct{})
	db.mu.Unlock()

	if db.writer != nil {
		return db.writer.Close()
	}
	return nil
}
