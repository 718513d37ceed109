package mvstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/hupe1980/mvstore/slab"
)

// Transaction is a view of one committed version, or the single writer
// building the next one. A Transaction is not safe for concurrent use by
// multiple goroutines, except for the async coordinator entry points,
// which synchronize on their own mutex.
type Transaction struct {
	db    *DB
	logID string
	stage TransactStage

	lock     ReadLock
	haveLock bool

	// oldestNotPersisted retains the version preceding the first
	// in-memory commit that has not reached disk yet. It is released on
	// successful flush and deliberately leaked on flush failure.
	oldestNotPersisted *ReadLock

	topRef   slab.Ref
	lastSeen uint64

	// holdsWriteLock tracks ownership of the database's exclusive write
	// semaphore, whether held by the transaction or by the coordinator
	// on its behalf.
	holdsWriteLock bool

	asyncMu             sync.Mutex
	asyncCond           *sync.Cond
	asyncStage          AsyncState
	waitingForWriteLock bool
	waitingForSync      bool
	commitErr           error
	asyncFailed         bool
}

func newTransaction(db *DB) *Transaction {
	tx := &Transaction{
		db:    db,
		logID: uuid.NewString(),
		stage: StageNotAttached,
	}
	tx.asyncCond = sync.NewCond(&tx.asyncMu)
	return tx
}

func (tx *Transaction) attach(stage TransactStage, lock ReadLock) {
	tx.stage = stage
	tx.lock = lock
	tx.haveLock = true
	tx.topRef = lock.TopRef
	tx.lastSeen = lock.Version
}

// LogID returns the transaction's log correlation identifier.
func (tx *Transaction) LogID() string { return tx.logID }

// Stage returns the current transaction stage.
func (tx *Transaction) Stage() TransactStage { return tx.stage }

// ReadVersion returns the version the transaction is attached to, or the
// last version it observed after detaching.
func (tx *Transaction) ReadVersion() uint64 {
	if tx.haveLock {
		return tx.lock.Version
	}
	return tx.lastSeen
}

// TopRef returns the root of the transaction's tree view. Zero on an
// empty tree.
func (tx *Transaction) TopRef() slab.Ref { return tx.topRef }

func (tx *Transaction) checkAttached(op string) error {
	if tx.stage == StageNotAttached {
		return wrongState(op, tx.stage)
	}
	return nil
}

func (tx *Transaction) checkWriting(op string) error {
	if tx.stage != StageWriting {
		return wrongState(op, tx.stage)
	}
	return nil
}

// checkPendingFailure surfaces a commit failure recorded by the flush
// worker. Once a flush has failed the transaction can never commit again.
func (tx *Transaction) checkPendingFailure() error {
	tx.asyncMu.Lock()
	defer tx.asyncMu.Unlock()

	if tx.asyncFailed {
		return tx.commitErr
	}
	return nil
}

// releaseLock drops the transaction's pinned read lock, once.
func (tx *Transaction) releaseLock() {
	if tx.haveLock {
		tx.db.registry.release(tx.lock)
		tx.haveLock = false
	}
}

// endWriteOwnership returns the exclusive write lock to the database,
// unless the async coordinator holds it for pending or syncing commits.
func (tx *Transaction) endWriteOwnership() {
	tx.asyncMu.Lock()
	defer tx.asyncMu.Unlock()
	tx.endWriteOwnershipLocked()
}

func (tx *Transaction) endWriteOwnershipLocked() {
	if tx.asyncStage == AsyncIdle && tx.holdsWriteLock {
		tx.holdsWriteLock = false
		tx.db.writeSem.Release(1)
	}
}

// forceDetach is the failure path out of a commit. Every pin the
// transaction still holds is dropped and the write lock returned.
func (tx *Transaction) forceDetach() {
	if tx.oldestNotPersisted != nil {
		tx.db.registry.release(*tx.oldestNotPersisted)
		tx.oldestNotPersisted = nil
	}
	tx.releaseLock()
	tx.asyncMu.Lock()
	tx.asyncStage = AsyncIdle
	if tx.holdsWriteLock {
		tx.holdsWriteLock = false
		tx.db.writeSem.Release(1)
	}
	tx.asyncMu.Unlock()
	tx.stage = StageNotAttached
}

// BeginWrite upgrades the transaction to the single writer. It blocks
// until the exclusive write lock is available, then advances the view to
// the latest version. Allowed from Reading and, as an implicit attach,
// from NotAttached.
func (tx *Transaction) BeginWrite(ctx context.Context) error {
	switch tx.stage {
	case StageWriting, StageFrozen:
		return wrongState("begin write", tx.stage)
	}
	if err := tx.checkPendingFailure(); err != nil {
		return err
	}

	tx.asyncMu.Lock()
	astage := tx.asyncStage
	owned := tx.holdsWriteLock && (astage == AsyncHasLock || astage == AsyncHasCommits)
	tx.asyncMu.Unlock()

	switch {
	case owned:
		// The coordinator already holds the write lock for this
		// transaction, possibly with unflushed commits behind it.
	case astage != AsyncIdle:
		// A lock request or a flush is in flight; the coordinator owns
		// the transition out of it.
		if err := tx.AcquireWriteLock(ctx); err != nil {
			return err
		}
	default:
		if err := tx.db.writeSem.Acquire(ctx, 1); err != nil {
			return err
		}
		tx.holdsWriteLock = true
	}

	// Advance to the latest version before writing on top of it.
	newLock, err := tx.db.registry.grab(LockLive, 0)
	if err != nil {
		tx.endWriteOwnership()
		return err
	}
	tx.releaseLock()
	tx.attach(StageWriting, newLock)
	tx.db.logger.WithTransact(tx.logID, tx.stage).WithVersion(newLock.Version).Debug("write transaction started")
	return nil
}

// Commit publishes the transaction's changes as the next version, flushes
// them through the commit writer and detaches. Returns the new version.
func (tx *Transaction) Commit() (uint64, error) {
	if err := tx.checkWriting("commit"); err != nil {
		return 0, err
	}
	if err := tx.checkPendingFailure(); err != nil {
		return 0, err
	}

	commitSize := tx.db.alloc.CommitSize()
	version := tx.db.registry.latestVersion() + 1

	if tx.topRef != 0 {
		if err := tx.appendHistoryEntry(version); err != nil {
			return 0, err
		}
	}

	if err := tx.db.flushToDisk(version, tx.topRef); err != nil {
		tx.db.logger.LogCommit(tx.logID, version, uint64(tx.topRef), err)
		tx.forceDetach()
		return 0, &CommitFailedError{Version: version, cause: err}
	}

	published, _ := tx.db.publishCommit(tx.topRef)
	tx.db.metrics.OnCommit(published, commitSize)
	tx.db.logger.LogCommit(tx.logID, published, uint64(tx.topRef), nil)

	// Pin the new version before dropping the old one, so the pin count
	// of the chain never dips to zero mid-commit.
	newLock, err := tx.db.registry.grab(LockLive, published)
	if err != nil {
		tx.forceDetach()
		return 0, err
	}
	tx.releaseLock()
	tx.lock = newLock
	tx.haveLock = true
	tx.lastSeen = published

	// Everything up to here is on disk now.
	if tx.oldestNotPersisted != nil {
		tx.db.registry.release(*tx.oldestNotPersisted)
		tx.oldestNotPersisted = nil
	}

	tx.releaseLock()
	tx.endWriteOwnership()
	tx.stage = StageNotAttached
	return published, nil
}

// CommitAndContinueAsRead publishes the transaction's changes and demotes
// the transaction to a reader attached at the new version.
//
// With commitToDisk the flush happens inline and the write lock is
// returned. Without it the commit stays in memory: the coordinator keeps
// the write lock, the version preceding the first unflushed commit stays
// pinned as oldestNotPersisted, and AsyncCompleteWrites later drives the
// flush.
func (tx *Transaction) CommitAndContinueAsRead(commitToDisk bool) (uint64, error) {
	if err := tx.checkWriting("commit and continue as read"); err != nil {
		return 0, err
	}
	if err := tx.checkPendingFailure(); err != nil {
		return 0, err
	}

	commitSize := tx.db.alloc.CommitSize()
	version := tx.db.registry.latestVersion() + 1

	if tx.topRef != 0 {
		if err := tx.appendHistoryEntry(version); err != nil {
			return 0, err
		}
	}

	if commitToDisk {
		if err := tx.db.flushToDisk(version, tx.topRef); err != nil {
			tx.db.logger.LogCommit(tx.logID, version, uint64(tx.topRef), err)
			tx.forceDetach()
			return 0, &CommitFailedError{Version: version, cause: err}
		}
	}

	published, _ := tx.db.publishCommit(tx.topRef)
	tx.db.metrics.OnCommit(published, commitSize)
	tx.db.logger.LogCommit(tx.logID, published, uint64(tx.topRef), nil)

	// Grab the new lock before releasing the old one.
	newLock, err := tx.db.registry.grab(LockLive, published)
	if err != nil {
		tx.forceDetach()
		return 0, err
	}
	if !commitToDisk && tx.oldestNotPersisted == nil {
		old := tx.lock
		tx.oldestNotPersisted = &old
		tx.haveLock = false
	} else {
		tx.releaseLock()
	}
	tx.lock = newLock
	tx.haveLock = true
	tx.topRef = newLock.TopRef
	tx.lastSeen = published

	tx.asyncMu.Lock()
	if commitToDisk {
		if tx.oldestNotPersisted != nil {
			tx.db.registry.release(*tx.oldestNotPersisted)
			tx.oldestNotPersisted = nil
		}
		if tx.asyncStage == AsyncHasCommits {
			// The inline flush covered every pending commit; nothing is
			// left for a background flush.
			tx.asyncStage = AsyncHasLock
		}
		tx.endWriteOwnershipLocked()
	} else {
		// Coordinator keeps the write lock until the pending commits
		// reach disk.
		tx.asyncStage = AsyncHasCommits
	}
	tx.asyncMu.Unlock()

	tx.stage = StageReading
	return published, nil
}

// CommitAndContinueWriting publishes the transaction's changes, flushes
// them inline and stays in the Writing stage holding the write lock, so
// the caller can keep building on top of the new version. The replication
// sink, if any, observes the transaction boundary.
func (tx *Transaction) CommitAndContinueWriting() (uint64, error) {
	if err := tx.checkWriting("commit and continue writing"); err != nil {
		return 0, err
	}
	if err := tx.checkPendingFailure(); err != nil {
		return 0, err
	}

	commitSize := tx.db.alloc.CommitSize()
	version := tx.db.registry.latestVersion() + 1

	if tx.topRef != 0 {
		if err := tx.appendHistoryEntry(version); err != nil {
			return 0, err
		}
	}

	if err := tx.db.flushToDisk(version, tx.topRef); err != nil {
		tx.db.logger.LogCommit(tx.logID, version, uint64(tx.topRef), err)
		tx.forceDetach()
		return 0, &CommitFailedError{Version: version, cause: err}
	}

	published, _ := tx.db.publishCommit(tx.topRef)
	tx.db.metrics.OnCommit(published, commitSize)
	tx.db.logger.LogCommit(tx.logID, published, uint64(tx.topRef), nil)

	newLock, err := tx.db.registry.grab(LockLive, published)
	if err != nil {
		tx.forceDetach()
		return 0, err
	}
	tx.releaseLock()
	tx.lock = newLock
	tx.haveLock = true
	tx.lastSeen = published

	if tx.oldestNotPersisted != nil {
		tx.db.registry.release(*tx.oldestNotPersisted)
		tx.oldestNotPersisted = nil
	}

	if tx.db.sink != nil {
		tx.db.sink.OnTransactionBoundary(published)
	}
	return published, nil
}

// Rollback discards the transaction's uncommitted changes and detaches.
// Calling it on an already detached transaction is a no-op; calling it on
// a reader or a frozen view is an error.
func (tx *Transaction) Rollback() error {
	switch tx.stage {
	case StageNotAttached:
		return nil
	case StageReading, StageFrozen:
		return wrongState("rollback", tx.stage)
	}

	tx.db.alloc.ResetFreeSpaceTracking()
	tx.topRef = tx.lock.TopRef

	// A retained oldestNotPersisted pin stays put: it guards committed
	// versions the coordinator has not flushed yet, which discarding the
	// current write does not touch. The flush releases or leaks it.
	tx.releaseLock()
	tx.endWriteOwnership()
	tx.stage = StageNotAttached
	return nil
}

// RollbackAndContinueAsRead discards the uncommitted changes and demotes
// the transaction to a reader at its original version.
func (tx *Transaction) RollbackAndContinueAsRead() error {
	if err := tx.checkWriting("rollback and continue as read"); err != nil {
		return err
	}

	tx.db.alloc.ResetFreeSpaceTracking()
	tx.topRef = tx.lock.TopRef
	tx.endWriteOwnership()
	tx.stage = StageReading
	return nil
}

// EndRead detaches a reader or a frozen view, releasing its pinned
// version. No-op when already detached; an error from the Writing stage.
func (tx *Transaction) EndRead() error {
	switch tx.stage {
	case StageNotAttached:
		return nil
	case StageWriting:
		return wrongState("end read", tx.stage)
	}

	tx.releaseLock()
	tx.stage = StageNotAttached
	return nil
}

// Close shuts the transaction down from any stage: pending async work is
// drained, uncommitted changes are rolled back, pins are released.
func (tx *Transaction) Close() error {
	tx.prepareForClose()

	if tx.stage == StageWriting {
		if err := tx.Rollback(); err != nil {
			return err
		}
	}
	if tx.oldestNotPersisted != nil {
		tx.db.registry.release(*tx.oldestNotPersisted)
		tx.oldestNotPersisted = nil
	}
	tx.releaseLock()
	tx.stage = StageNotAttached
	return nil
}

// Freeze returns a new immutable transaction pinned permanently at this
// transaction's version.
func (tx *Transaction) Freeze() (*Transaction, error) {
	if tx.stage != StageReading {
		return nil, wrongState("freeze", tx.stage)
	}

	lock, err := tx.db.registry.grab(LockFrozen, tx.lock.Version)
	if err != nil {
		return nil, err
	}
	frozen := newTransaction(tx.db)
	frozen.attach(StageFrozen, lock)
	return frozen, nil
}

// Duplicate returns a new transaction attached at this transaction's
// version: a reader duplicates to a reader, a frozen view to a frozen
// view. A writer may only be duplicated before it has written anything.
func (tx *Transaction) Duplicate() (*Transaction, error) {
	kind, stage := LockLive, StageReading
	switch tx.stage {
	case StageReading:
	case StageFrozen:
		kind, stage = LockFrozen, StageFrozen
	case StageWriting:
		if tx.db.alloc.CommitSize() != 0 {
			return nil, wrongState("duplicate with uncommitted changes", tx.stage)
		}
	default:
		return nil, wrongState("duplicate", tx.stage)
	}

	lock, err := tx.db.registry.grab(kind, tx.lock.Version)
	if err != nil {
		return nil, err
	}
	dup := newTransaction(tx.db)
	dup.attach(stage, lock)
	return dup, nil
}

// WaitForChange blocks until a version newer than the transaction's is
// committed, or ctx is done.
func (tx *Transaction) WaitForChange(ctx context.Context) error {
	return tx.db.waitForChange(ctx, tx.ReadVersion())
}
