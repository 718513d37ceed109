package mvstore

import (
	"context"
	"time"
)

// AsyncStage returns the coordinator's current state.
func (tx *Transaction) AsyncStage() AsyncState {
	tx.asyncMu.Lock()
	defer tx.asyncMu.Unlock()
	return tx.asyncStage
}

// AcquireWriteLock blocks until the coordinator holds the exclusive write
// lock on behalf of this transaction. When a request or a flush is
// already in flight, the call waits for it instead of issuing a second
// one. There is no way to cancel a request that has started; ctx only
// bounds the wait for the semaphore itself.
func (tx *Transaction) AcquireWriteLock(ctx context.Context) error {
	if err := tx.checkPendingFailure(); err != nil {
		return err
	}

	tx.asyncMu.Lock()
	for {
		switch tx.asyncStage {
		case AsyncHasLock, AsyncHasCommits:
			tx.asyncMu.Unlock()
			return nil
		case AsyncRequesting, AsyncSyncing:
			// A worker already owns the transition out of this state.
			tx.waitingForWriteLock = true
			tx.asyncCond.Wait()
			continue
		case AsyncIdle:
			tx.asyncMu.Unlock()
			if err := tx.db.writeSem.Acquire(ctx, 1); err != nil {
				return err
			}
			tx.asyncMu.Lock()
			tx.holdsWriteLock = true
			tx.asyncStage = AsyncHasLock
			if tx.waitingForWriteLock {
				tx.waitingForWriteLock = false
				tx.asyncCond.Broadcast()
			}
			tx.asyncMu.Unlock()
			return nil
		}
	}
}

// RequestWriteLock asynchronously requests the exclusive write lock and
// invokes onReady once the coordinator holds it. Returns immediately.
// No-op (with an immediate callback) when the lock is already held.
func (tx *Transaction) RequestWriteLock(onReady func()) error {
	if err := tx.checkPendingFailure(); err != nil {
		return err
	}

	tx.asyncMu.Lock()
	switch tx.asyncStage {
	case AsyncHasLock, AsyncHasCommits:
		tx.asyncMu.Unlock()
		if onReady != nil {
			onReady()
		}
		return nil
	case AsyncRequesting, AsyncSyncing:
		tx.asyncMu.Unlock()
		return wrongState("request write lock", tx.stage)
	}
	tx.asyncStage = AsyncRequesting
	tx.asyncMu.Unlock()

	go func() {
		// Request cannot be cancelled once issued.
		if err := tx.db.writeSem.Acquire(context.Background(), 1); err != nil {
			return
		}
		tx.asyncMu.Lock()
		tx.holdsWriteLock = true
		tx.asyncStage = AsyncHasLock
		if tx.waitingForWriteLock {
			tx.waitingForWriteLock = false
			tx.asyncCond.Broadcast()
		}
		tx.asyncMu.Unlock()
		if onReady != nil {
			onReady()
		}
	}()
	return nil
}

// PromoteToAsync moves an ordinary writer under coordinator control, so
// commits can stay in memory and the write lock survives the end of the
// write transaction.
func (tx *Transaction) PromoteToAsync() error {
	if err := tx.checkWriting("promote to async"); err != nil {
		return err
	}

	tx.asyncMu.Lock()
	defer tx.asyncMu.Unlock()

	if tx.asyncStage != AsyncIdle {
		return nil
	}
	if !tx.holdsWriteLock {
		return wrongState("promote to async without write lock", tx.stage)
	}
	tx.asyncStage = AsyncHasLock
	return nil
}

// AsyncCompleteWrites requests that pending in-memory commits reach disk.
//
// From HasLock there is nothing pending: the write lock is returned and
// onDone runs synchronously before the call returns. From HasCommits the
// flush is handed to the database's flush worker and onDone runs on that
// worker once the commits are durable (or the flush has failed; the
// failure itself surfaces through the next commit attempt).
func (tx *Transaction) AsyncCompleteWrites(onDone func()) error {
	if err := tx.checkPendingFailure(); err != nil {
		return err
	}

	tx.asyncMu.Lock()
	switch tx.asyncStage {
	case AsyncHasLock:
		tx.asyncStage = AsyncIdle
		if tx.holdsWriteLock {
			tx.holdsWriteLock = false
			tx.db.writeSem.Release(1)
		}
		tx.asyncMu.Unlock()
		if onDone != nil {
			onDone()
		}
		return nil

	case AsyncHasCommits:
		tx.asyncStage = AsyncSyncing
		tx.asyncMu.Unlock()
		err := tx.db.flushPool.Submit(context.Background(), func() {
			tx.runAsyncFlush(onDone)
		})
		tx.db.metrics.OnQueueDepth("flush", tx.db.flushPool.Depth())
		if err != nil {
			// Pool torn down; undo the stage so close paths still work.
			tx.asyncMu.Lock()
			tx.asyncStage = AsyncHasCommits
			tx.asyncMu.Unlock()
			return err
		}
		return nil

	default:
		tx.asyncMu.Unlock()
		return wrongState("async complete writes", tx.stage)
	}
}

// runAsyncFlush runs on the flush worker: it completes the async commit,
// returns the write lock and wakes anything waiting on the coordinator.
func (tx *Transaction) runAsyncFlush(onDone func()) {
	if tx.db.resources != nil {
		if err := tx.db.resources.AcquireBackground(context.Background()); err == nil {
			defer tx.db.resources.ReleaseBackground()
		}
	}

	tx.completeAsyncCommit()

	tx.asyncMu.Lock()
	tx.asyncStage = AsyncIdle
	if tx.holdsWriteLock {
		tx.holdsWriteLock = false
		tx.db.writeSem.Release(1)
	}
	if tx.waitingForSync || tx.waitingForWriteLock {
		tx.waitingForSync = false
		tx.waitingForWriteLock = false
		tx.asyncCond.Broadcast()
	}
	tx.asyncMu.Unlock()

	if onDone != nil {
		onDone()
	}
}

// completeAsyncCommit flushes the newest committed version to disk using
// a freshly grabbed live lock.
//
// On success the retained oldestNotPersisted lock is released. On failure
// it is deliberately leaked: the on-disk root pointer may already
// reference that version, so its nodes must never be reclaimed. The
// error is stored and surfaces on the next commit attempt.
func (tx *Transaction) completeAsyncCommit() {
	lock, err := tx.db.registry.grab(LockLive, 0)
	if err != nil {
		tx.recordFlushFailure(0, err)
		return
	}

	start := time.Now()
	err = tx.db.flushToDisk(lock.Version, lock.TopRef)
	tx.db.metrics.OnFlush(time.Since(start), lock.FileSize, err)
	tx.db.logger.LogFlush(tx.logID, uint64(lock.TopRef), err)

	if err != nil {
		tx.recordFlushFailure(lock.Version, err)
		tx.db.registry.release(lock)
		if tx.oldestNotPersisted != nil {
			tx.db.registry.leak(*tx.oldestNotPersisted)
			tx.oldestNotPersisted = nil
		}
		return
	}

	if tx.oldestNotPersisted != nil {
		tx.db.registry.release(*tx.oldestNotPersisted)
		tx.oldestNotPersisted = nil
	}
	tx.db.registry.release(lock)
}

func (tx *Transaction) recordFlushFailure(version uint64, err error) {
	tx.asyncMu.Lock()
	defer tx.asyncMu.Unlock()

	tx.asyncFailed = true
	tx.commitErr = &CommitFailedError{Version: version, cause: err}
}

// prepareForClose drains the coordinator before the transaction shuts
// down: an in-flight lock request is waited out, pending commits are
// pushed to disk and their flush awaited, a bare lock is returned. There
// is no cancellation; close blocks until the coordinator is idle.
func (tx *Transaction) prepareForClose() {
	tx.asyncMu.Lock()
	for {
		switch tx.asyncStage {
		case AsyncIdle:
			tx.asyncMu.Unlock()
			return

		case AsyncRequesting:
			tx.waitingForWriteLock = true
			tx.asyncCond.Wait()

		case AsyncHasLock:
			tx.asyncStage = AsyncIdle
			if tx.holdsWriteLock {
				tx.holdsWriteLock = false
				tx.db.writeSem.Release(1)
			}
			tx.asyncMu.Unlock()
			return

		case AsyncHasCommits:
			tx.asyncStage = AsyncSyncing
			tx.asyncMu.Unlock()
			if err := tx.db.flushPool.Submit(context.Background(), func() {
				tx.runAsyncFlush(nil)
			}); err != nil {
				// Pool gone; flush inline.
				tx.runAsyncFlush(nil)
			}
			tx.asyncMu.Lock()

		case AsyncSyncing:
			tx.waitingForSync = true
			tx.asyncCond.Wait()
		}
	}
}
