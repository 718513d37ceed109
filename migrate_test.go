package mvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeFileFormat(t *testing.T) {
	db := newTestDB(t, WithFileFormat(21))

	tx := startWriteTx(t, db)

	tbl, err := tx.AddTable("persons", TableTypeTopLevel)
	require.NoError(t, err)
	_, err = tbl.AddColumn(Column{Name: "_id", Type: ColTypeString})
	require.NoError(t, err)
	_, err = tbl.AddColumn(Column{Name: "tags", Type: ColTypeMixed, Collection: CollectionSet})
	require.NoError(t, err)
	require.NoError(t, tbl.SetPrimaryKey("_id"))

	obj, err := tbl.CreateObjectWithPrimaryKey(StringValue("alice"))
	require.NoError(t, err)
	// Duplicates and unordered elements from the old encoding.
	require.NoError(t, obj.Set("tags", SetValue(IntValue(3), IntValue(1), IntValue(3))))

	scratch, err := tx.AddTable("scratch", TableTypeEphemeral)
	require.NoError(t, err)
	_, err = scratch.CreateObject()
	require.NoError(t, err)

	require.NoError(t, tx.UpgradeFileFormat(LatestFileFormat))
	assert.Equal(t, uint32(LatestFileFormat), db.format.Load())

	// Step 22 indexed the primary key.
	pk, ok, err := tbl.PrimaryKey()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, pk.Indexed)

	// Step 23 deduplicated and ordered the set, and cleared the
	// ephemeral table.
	v, err := obj.Get("tags")
	require.NoError(t, err)
	assert.True(t, v.Equal(SetValue(IntValue(1), IntValue(3))))

	n, err := scratch.ObjectCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = tx.Commit()
	require.NoError(t, err)
}

func TestUpgradeFileFormatIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	tx := startWriteTx(t, db)
	require.NoError(t, tx.UpgradeFileFormat(LatestFileFormat))
	require.NoError(t, tx.UpgradeFileFormat(LatestFileFormat))
	assert.Equal(t, uint32(LatestFileFormat), db.format.Load())
}

func TestUpgradeFileFormatRejectsFutureFormat(t *testing.T) {
	db := newTestDB(t)

	tx := startWriteTx(t, db)
	assert.Error(t, tx.UpgradeFileFormat(LatestFileFormat+1))
}

func TestUpgradeFileFormatDetectsDuplicatePrimaryKeys(t *testing.T) {
	db := newTestDB(t, WithFileFormat(21))

	tx := startWriteTx(t, db)

	tbl, err := tx.AddTable("persons", TableTypeTopLevel)
	require.NoError(t, err)
	_, err = tbl.AddColumn(Column{Name: "_id", Type: ColTypeString})
	require.NoError(t, err)

	// Two objects sharing a primary key value, written before the
	// column was designated.
	a, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, a.Set("_id", StringValue("dup")))
	b, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, b.Set("_id", StringValue("dup")))
	require.NoError(t, tbl.SetPrimaryKey("_id"))

	err = tx.UpgradeFileFormat(LatestFileFormat)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestUpgradeFileFormatRemapsColumnIDs(t *testing.T) {
	db := newTestDB(t, WithFileFormat(23))

	tx := startWriteTx(t, db)

	tbl, err := tx.AddTable("persons", TableTypeTopLevel)
	require.NoError(t, err)
	_, err = tbl.AddColumn(Column{Name: "a", Type: ColTypeInt})
	require.NoError(t, err)
	_, err = tbl.AddColumn(Column{Name: "b", Type: ColTypeInt})
	require.NoError(t, err)

	// Punch a hole into the ID space, as historic drops left behind.
	cols, err := tbl.Columns()
	require.NoError(t, err)
	cols[1].ID = 9
	n, err := tbl.writableNode()
	require.NoError(t, err)
	spec, err := tx.writableChild(n, tblSlotSpec, 0)
	require.NoError(t, err)
	spec.SetPayload(encodeColumns(cols))
	require.NoError(t, tbl.SetPrimaryKey("b"))

	require.NoError(t, tx.UpgradeFileFormat(LatestFileFormat))

	cols, err = tbl.Columns()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), cols[0].ID)
	assert.Equal(t, uint16(2), cols[1].ID)

	// The primary key designation followed the remapped ID.
	pk, ok, err := tbl.PrimaryKey()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", pk.Name)
}

func TestImportCopyOf(t *testing.T) {
	db := newTestDB(t)

	tx := startWriteTx(t, db)
	tbl, err := tx.AddTable("persons", TableTypeTopLevel)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	r, err := db.StartRead()
	require.NoError(t, err)
	defer r.Close()

	// Handles from the committed writer rebind to the reader's view.
	tbl2, ok := r.ImportCopyOfTable(tbl)
	require.True(t, ok)
	assert.Equal(t, tbl.Key(), tbl2.Key())

	obj2, ok := r.ImportCopyOfObject(obj)
	require.True(t, ok)
	assert.Equal(t, obj.Key(), obj2.Key())

	// A deleted referent imports as absent.
	w := startWriteTx(t, db)
	wt, ok := w.ImportCopyOfTable(tbl)
	require.True(t, ok)
	require.NoError(t, wt.DeleteObject(obj.Key()))
	_, err = w.Commit()
	require.NoError(t, err)

	r2, err := db.StartRead()
	require.NoError(t, err)
	defer r2.Close()
	_, ok = r2.ImportCopyOfObject(obj)
	assert.False(t, ok)
}
