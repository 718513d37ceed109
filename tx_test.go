package mvstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, optFns ...Option) *DB {
	t.Helper()

	db, err := New(optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// writeOneObject commits a table with a single object and returns the new
// version.
func writeOneObject(t *testing.T, db *DB, tableName string, val int64) uint64 {
	t.Helper()

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)

	tbl, err := tx.GetTable(tableName)
	if err != nil {
		tbl, err = tx.AddTable(tableName, TableTypeTopLevel)
		require.NoError(t, err)
		_, err = tbl.AddColumn(Column{Name: "value", Type: ColTypeInt})
		require.NoError(t, err)
	}

	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set("value", IntValue(val)))

	version, err := tx.Commit()
	require.NoError(t, err)
	return version
}

func TestFreshDatabaseIsReadable(t *testing.T) {
	db := newTestDB(t)

	tx, err := db.StartRead()
	require.NoError(t, err)
	defer tx.Close()

	assert.Equal(t, StageReading, tx.Stage())
	assert.Equal(t, uint64(1), tx.ReadVersion())

	names, err := tx.TableNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestCommitVersionsIncrease(t *testing.T) {
	db := newTestDB(t)

	var prev uint64
	for i := 0; i < 5; i++ {
		v := writeOneObject(t, db, "events", int64(i))
		assert.Greater(t, v, prev)
		prev = v
	}
	assert.Equal(t, prev, db.LatestVersion())
}

func TestReadersSeeTheirVersion(t *testing.T) {
	db := newTestDB(t)

	v1 := writeOneObject(t, db, "events", 1)

	r1, err := db.StartRead()
	require.NoError(t, err)
	defer r1.Close()
	require.Equal(t, v1, r1.ReadVersion())

	writeOneObject(t, db, "events", 2)

	// r1 still sees one object.
	tbl, err := r1.GetTable("events")
	require.NoError(t, err)
	n, err := tbl.ObjectCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r2, err := db.StartRead()
	require.NoError(t, err)
	defer r2.Close()

	tbl2, err := r2.GetTable("events")
	require.NoError(t, err)
	n2, err := tbl2.ObjectCount()
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
}

func TestStartReadAtReclaimedVersion(t *testing.T) {
	db := newTestDB(t)

	v1 := writeOneObject(t, db, "events", 1)
	writeOneObject(t, db, "events", 2)

	// v1 had no pins, so it was dropped when v2 was published.
	_, err := db.StartReadAt(v1)
	assert.ErrorIs(t, err, ErrNoSuchVersion)
}

func TestRollbackRestoresView(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 1)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	before := tx.TopRef()

	tbl, err := tx.GetTable("events")
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set("value", IntValue(99)))
	require.NotEqual(t, before, tx.TopRef())

	require.NoError(t, tx.Rollback())
	assert.Equal(t, StageNotAttached, tx.Stage())
	assert.Zero(t, db.CommitSize())

	// The committed state is untouched.
	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, before, r.TopRef())

	tbl, err = r.GetTable("events")
	require.NoError(t, err)
	n, err := tbl.ObjectCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRollbackAndContinueAsRead(t *testing.T) {
	db := newTestDB(t)
	v := writeOneObject(t, db, "events", 1)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	tbl, err := tx.GetTable("events")
	require.NoError(t, err)
	_, err = tbl.CreateObject()
	require.NoError(t, err)

	require.NoError(t, tx.RollbackAndContinueAsRead())
	assert.Equal(t, StageReading, tx.Stage())
	assert.Equal(t, v, tx.ReadVersion())

	// The write lock is free again.
	w, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Rollback())
}

func TestBeginWriteFromReader(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 1)

	tx, err := db.StartRead()
	require.NoError(t, err)
	defer tx.Close()

	v2 := writeOneObject(t, db, "events", 2)

	// Upgrading advances the view to the latest version.
	require.NoError(t, tx.BeginWrite(context.Background()))
	assert.Equal(t, StageWriting, tx.Stage())
	assert.Equal(t, v2, tx.ReadVersion())

	require.NoError(t, tx.Rollback())
}

func TestCommitAndContinueAsReadToDisk(t *testing.T) {
	db := newTestDB(t)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	_, err = tx.AddTable("events", TableTypeTopLevel)
	require.NoError(t, err)

	v, err := tx.CommitAndContinueAsRead(true)
	require.NoError(t, err)
	assert.Equal(t, StageReading, tx.Stage())
	assert.Equal(t, v, tx.ReadVersion())
	assert.Equal(t, AsyncIdle, tx.AsyncStage())

	// The write lock was returned.
	w, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Rollback())
}

func TestCommitAndContinueWriting(t *testing.T) {
	db := newTestDB(t)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	tbl, err := tx.AddTable("events", TableTypeTopLevel)
	require.NoError(t, err)
	_, err = tbl.AddColumn(Column{Name: "value", Type: ColTypeInt})
	require.NoError(t, err)

	v1, err := tx.CommitAndContinueWriting()
	require.NoError(t, err)
	assert.Equal(t, StageWriting, tx.Stage())

	tbl, err = tx.GetTable("events")
	require.NoError(t, err)
	_, err = tbl.CreateObject()
	require.NoError(t, err)

	v2, err := tx.Commit()
	require.NoError(t, err)
	assert.Greater(t, v2, v1)
}

func TestFreezePinsVersion(t *testing.T) {
	db := newTestDB(t)
	v1 := writeOneObject(t, db, "events", 1)

	r, err := db.StartRead()
	require.NoError(t, err)

	frozen, err := r.Freeze()
	require.NoError(t, err)
	require.NoError(t, r.EndRead())

	writeOneObject(t, db, "events", 2)
	writeOneObject(t, db, "events", 3)

	// The frozen view still reads its version.
	assert.Equal(t, StageFrozen, frozen.Stage())
	assert.Equal(t, v1, frozen.ReadVersion())

	tbl, err := frozen.GetTable("events")
	require.NoError(t, err)
	n, err := tbl.ObjectCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// And the version can still be pinned by others.
	r2, err := db.StartReadAt(v1)
	require.NoError(t, err)
	require.NoError(t, r2.EndRead())

	require.NoError(t, frozen.Close())
}

func TestDuplicate(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 1)

	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	dup, err := r.Duplicate()
	require.NoError(t, err)
	assert.Equal(t, StageReading, dup.Stage())
	assert.Equal(t, r.ReadVersion(), dup.ReadVersion())
	require.NoError(t, dup.Close())

	frozen, err := r.Freeze()
	require.NoError(t, err)
	fdup, err := frozen.Duplicate()
	require.NoError(t, err)
	assert.Equal(t, StageFrozen, fdup.Stage())
	require.NoError(t, fdup.Close())
	require.NoError(t, frozen.Close())
}

func TestDuplicateWriterWithChangesFails(t *testing.T) {
	db := newTestDB(t)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	// A clean writer duplicates to a reader.
	dup, err := tx.Duplicate()
	require.NoError(t, err)
	assert.Equal(t, StageReading, dup.Stage())
	require.NoError(t, dup.Close())

	_, err = tx.AddTable("events", TableTypeTopLevel)
	require.NoError(t, err)

	_, err = tx.Duplicate()
	assert.ErrorIs(t, err, ErrWrongTransactState)
}

func TestStageErrors(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 1)

	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Commit()
	assert.ErrorIs(t, err, ErrWrongTransactState)
	assert.ErrorIs(t, r.Rollback(), ErrWrongTransactState)

	w, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer w.Close()

	assert.ErrorIs(t, w.EndRead(), ErrWrongTransactState)
	_, err = w.Freeze()
	assert.ErrorIs(t, err, ErrWrongTransactState)

	require.NoError(t, w.Rollback())

	// Detached transactions no-op on Rollback and EndRead.
	assert.NoError(t, w.Rollback())
	assert.NoError(t, w.EndRead())
	_, err = w.Commit()
	assert.ErrorIs(t, err, ErrWrongTransactState)
}

func TestWaitForChange(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 1)

	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	done := make(chan error, 1)
	go func() {
		done <- r.WaitForChange(context.Background())
	}()

	writeOneObject(t, db, "events", 2)
	require.NoError(t, <-done)
}

func TestWaitForChangeCanceled(t *testing.T) {
	db := newTestDB(t)
	writeOneObject(t, db, "events", 1)

	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.WaitForChange(ctx), context.Canceled)
}

func TestCloseWithOpenTransactions(t *testing.T) {
	db, err := New()
	require.NoError(t, err)

	r, err := db.StartRead()
	require.NoError(t, err)

	assert.ErrorIs(t, db.Close(), ErrOpenTransactions)

	require.NoError(t, r.EndRead())
	require.NoError(t, db.Close())

	_, err = db.StartRead()
	assert.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.StartWrite(context.Background())
	assert.ErrorIs(t, err, ErrDatabaseClosed)
}

func TestNodeReclamation(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 10; i++ {
		writeOneObject(t, db, "events", int64(i))
	}

	// Only the latest version is retained; everything unreachable from
	// its root was swept as versions were replaced.
	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	assert.Positive(t, db.alloc.ReclaimedBytes())
}
