package mvstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// compactionRecorder counts node copies reported by compaction passes.
type compactionRecorder struct {
	NoopMetricsObserver
	moved int
	runs  int
}

func (r *compactionRecorder) OnCompaction(_ time.Duration, moved int, _ bool) {
	r.moved += moved
	r.runs++
}

// buildCompactionDB commits a deterministic multi-level tree: a few
// tables, each with objects carrying payload values.
func buildCompactionDB(t *testing.T, optFns ...Option) *DB {
	t.Helper()

	db := newTestDB(t, optFns...)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)

	for ti := 0; ti < 3; ti++ {
		tbl, err := tx.AddTable(fmt.Sprintf("table%d", ti), TableTypeTopLevel)
		require.NoError(t, err)
		_, err = tbl.AddColumn(Column{Name: "value", Type: ColTypeInt})
		require.NoError(t, err)
		_, err = tbl.AddColumn(Column{Name: "name", Type: ColTypeString})
		require.NoError(t, err)

		for oi := 0; oi < 4; oi++ {
			obj, err := tbl.CreateObject()
			require.NoError(t, err)
			require.NoError(t, obj.Set("value", IntValue(int64(ti*100+oi))))
			require.NoError(t, obj.Set("name", StringValue(fmt.Sprintf("obj-%d-%d", ti, oi))))
		}
	}

	_, err = tx.Commit()
	require.NoError(t, err)
	return db
}

// snapshotContents reads every object value back into a flat map.
func snapshotContents(t *testing.T, tx *Transaction) map[string]Value {
	t.Helper()

	out := make(map[string]Value)
	names, err := tx.TableNames()
	require.NoError(t, err)
	for _, name := range names {
		tbl, err := tx.GetTable(name)
		require.NoError(t, err)
		keys, err := tbl.ObjectKeys()
		require.NoError(t, err)
		for _, key := range keys {
			obj, err := tbl.Object(key)
			require.NoError(t, err)
			for _, col := range []string{"value", "name"} {
				v, err := obj.Get(col)
				require.NoError(t, err)
				out[fmt.Sprintf("%s/%d/%s", name, key, col)] = v
			}
		}
	}
	return out
}

func TestCowOutliersFullWalk(t *testing.T) {
	rec := &compactionRecorder{}
	db := buildCompactionDB(t, WithMetricsObserver(rec))

	r, err := db.StartRead()
	require.NoError(t, err)
	want := snapshotContents(t, r)
	require.NoError(t, r.EndRead())

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	var progress []int
	done, err := tx.CowOutliers(&progress, 0, 1<<30)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, progress)
	assert.Positive(t, rec.moved)

	// The data is unchanged, only rewritten.
	assert.Equal(t, want, snapshotContents(t, tx))

	_, err = tx.Commit()
	require.NoError(t, err)

	r2, err := db.StartRead()
	require.NoError(t, err)
	defer r2.Close()
	assert.Equal(t, want, snapshotContents(t, r2))
}

func TestCowOutliersZeroBudgetDoesNothing(t *testing.T) {
	db := buildCompactionDB(t)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	progress := []int{1, 2}
	done, err := tx.CowOutliers(&progress, 0, 0)
	require.NoError(t, err)
	assert.False(t, done)

	// No copies happened and the resume position is untouched.
	assert.Zero(t, db.CommitSize())
	assert.Equal(t, []int{1, 2}, progress)
}

func TestCowOutliersHighLimitFindsNoOutliers(t *testing.T) {
	rec := &compactionRecorder{}
	db := buildCompactionDB(t, WithMetricsObserver(rec))

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	var progress []int
	done, err := tx.CowOutliers(&progress, 1<<50, 1<<30)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, rec.moved)
	assert.Zero(t, db.CommitSize())
}

func TestCowOutliersResumedWalksMatchUnbounded(t *testing.T) {
	unboundedRec := &compactionRecorder{}
	db1 := buildCompactionDB(t, WithMetricsObserver(unboundedRec))

	tx1, err := db1.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx1.Close()

	var p1 []int
	done, err := tx1.CowOutliers(&p1, 0, 1<<30)
	require.NoError(t, err)
	require.True(t, done)

	boundedRec := &compactionRecorder{}
	db2 := buildCompactionDB(t, WithMetricsObserver(boundedRec))

	r, err := db2.StartRead()
	require.NoError(t, err)
	want := snapshotContents(t, r)
	require.NoError(t, r.EndRead())

	tx2, err := db2.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx2.Close()

	// Drive the same walk with a tiny budget until it finishes. Each
	// pass resumes where the previous one stopped.
	var p2 []int
	passes := 0
	for {
		done, err := tx2.CowOutliers(&p2, 0, 1)
		require.NoError(t, err)
		passes++
		require.Less(t, passes, 10000)
		if done {
			break
		}
		require.NotEmpty(t, p2)
	}

	assert.Greater(t, passes, 1)
	assert.Empty(t, p2)

	// Budget-interrupted walks copy exactly the nodes one unbounded walk
	// copies, and the data survives.
	assert.Equal(t, unboundedRec.moved, boundedRec.moved)
	assert.Equal(t, want, snapshotContents(t, tx2))
}

func TestCowOutliersEmptyTree(t *testing.T) {
	db := newTestDB(t)

	tx, err := db.StartWrite(context.Background())
	require.NoError(t, err)
	defer tx.Close()

	progress := []int{3}
	done, err := tx.CowOutliers(&progress, 0, 100)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Empty(t, progress)
}

func TestCowOutliersRequiresWriter(t *testing.T) {
	db := buildCompactionDB(t)

	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	var progress []int
	_, err = r.CowOutliers(&progress, 0, 100)
	assert.ErrorIs(t, err, ErrWrongTransactState)
}
