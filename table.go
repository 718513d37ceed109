package mvstore

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/mvstore/slab"
)

// TableKey is the stable identity of a table inside one database. Keys
// survive commits and are valid across transactions on the same database.
type TableKey uint32

// ObjKey is the stable identity of an object inside its table.
type ObjKey uint64

// TableType classifies how a table's objects are addressed and retained.
type TableType int

const (
	// TableTypeTopLevel objects are addressed directly by key.
	TableTypeTopLevel TableType = iota

	// TableTypeEmbedded objects exist only as targets of links from a
	// parent object and have no independent lifetime.
	TableTypeEmbedded

	// TableTypeEphemeral objects are cleared by file format upgrades and
	// are never replicated.
	TableTypeEphemeral
)

func (t TableType) String() string {
	switch t {
	case TableTypeTopLevel:
		return "top-level"
	case TableTypeEmbedded:
		return "embedded"
	case TableTypeEphemeral:
		return "ephemeral"
	}
	return "unknown"
}

// ColumnType is the declared property type of a column.
type ColumnType int

const (
	ColTypeInt ColumnType = iota
	ColTypeBool
	ColTypeString
	ColTypeFloat
	ColTypeMixed
	ColTypeLink
)

// CollectionKind distinguishes plain columns from collection columns.
type CollectionKind int

const (
	CollectionNone CollectionKind = iota
	CollectionList
	CollectionSet
	CollectionDict
)

// Column describes one property of a table.
type Column struct {
	ID         uint16
	Name       string
	Type       ColumnType
	Collection CollectionKind
	Nullable   bool
	Indexed    bool
	Target     string // link target table name, empty otherwise
}

// Slot indices inside the top node. Slot 2 holds the commit history
// subtree and may be zero on a database that never committed.
const (
	topSlotNames   = 0
	topSlotTables  = 1
	topSlotHistory = 2
	topNumSlots    = 3
)

// Slot indices inside a table node.
const (
	tblSlotSpec    = 0
	tblSlotObjects = 1
	tblSlotType    = 2
	tblSlotPK      = 3 // column ID + 1, zero means no primary key
	tblSlotNextKey = 4
	tblNumSlots    = 5
)

const (
	colFlagNullable = 1 << 0
	colFlagIndexed  = 1 << 1
	colFlagList     = 1 << 2
	colFlagSet      = 1 << 3
	colFlagDict     = 1 << 4
)

// --- node resolution helpers -------------------------------------------

func (tx *Transaction) node(ref slab.Ref) (*slab.Node, error) {
	return tx.db.alloc.Get(ref)
}

// topNode resolves the current top node, or nil on an empty tree.
func (tx *Transaction) topNode() (*slab.Node, error) {
	if tx.topRef == 0 {
		return nil, nil
	}
	return tx.node(tx.topRef)
}

// writableTop returns the top node ready for mutation, allocating it on a
// fresh tree and duplicating it when it belongs to a sealed version.
// tx.topRef tracks the duplicate.
func (tx *Transaction) writableTop() (*slab.Node, error) {
	if err := tx.checkWriting("write"); err != nil {
		return nil, err
	}
	if tx.topRef == 0 {
		top := tx.db.alloc.Alloc(topNumSlots)
		tx.topRef = top.Ref()
		return top, nil
	}
	top, err := tx.node(tx.topRef)
	if err != nil {
		return nil, err
	}
	if top.IsReadOnly() {
		top = tx.db.alloc.CopyOnWrite(top)
		tx.topRef = top.Ref()
	}
	return top, nil
}

// writableChild resolves the child at parent slot ndx for mutation. A zero
// slot allocates a fresh node with nslots slots; a sealed child is
// duplicated and the parent slot rewired. The parent must be writable.
func (tx *Transaction) writableChild(parent *slab.Node, ndx, nslots int) (*slab.Node, error) {
	ref, ok := parent.RefAt(ndx)
	if !ok {
		child := tx.db.alloc.Alloc(nslots)
		parent.SetRef(ndx, child.Ref())
		return child, nil
	}
	child, err := tx.node(ref)
	if err != nil {
		return nil, err
	}
	if child.IsReadOnly() {
		child = tx.db.alloc.CopyOnWrite(child)
		parent.SetRef(ndx, child.Ref())
	}
	return child, nil
}

// --- name leaf encoding ------------------------------------------------

func encodeNames(names []string) []byte {
	buf := binary.LittleEndian.AppendUint16(nil, uint16(len(names)))
	for _, n := range names {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(n)))
		buf = append(buf, n...)
	}
	return buf
}

func decodeNames(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("name leaf truncated")
	}
	count := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 2 {
			return nil, fmt.Errorf("name leaf truncated")
		}
		n := int(binary.LittleEndian.Uint16(data))
		data = data[2:]
		if len(data) < n {
			return nil, fmt.Errorf("name leaf truncated")
		}
		names = append(names, string(data[:n]))
		data = data[n:]
	}
	return names, nil
}

// --- column spec encoding ----------------------------------------------

func encodeColumns(cols []Column) []byte {
	buf := binary.LittleEndian.AppendUint16(nil, uint16(len(cols)))
	for _, c := range cols {
		var flags byte
		if c.Nullable {
			flags |= colFlagNullable
		}
		if c.Indexed {
			flags |= colFlagIndexed
		}
		switch c.Collection {
		case CollectionList:
			flags |= colFlagList
		case CollectionSet:
			flags |= colFlagSet
		case CollectionDict:
			flags |= colFlagDict
		}
		buf = append(buf, byte(c.Type), flags)
		buf = binary.LittleEndian.AppendUint16(buf, c.ID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(c.Name)))
		buf = append(buf, c.Name...)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(c.Target)))
		buf = append(buf, c.Target...)
	}
	return buf
}

func decodeColumns(data []byte) ([]Column, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < 2 {
		return nil, fmt.Errorf("column spec truncated")
	}
	count := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	cols := make([]Column, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 6 {
			return nil, fmt.Errorf("column spec truncated")
		}
		var c Column
		c.Type = ColumnType(data[0])
		flags := data[1]
		c.Nullable = flags&colFlagNullable != 0
		c.Indexed = flags&colFlagIndexed != 0
		switch {
		case flags&colFlagList != 0:
			c.Collection = CollectionList
		case flags&colFlagSet != 0:
			c.Collection = CollectionSet
		case flags&colFlagDict != 0:
			c.Collection = CollectionDict
		}
		c.ID = binary.LittleEndian.Uint16(data[2:])
		n := int(binary.LittleEndian.Uint16(data[4:]))
		data = data[6:]
		if len(data) < n {
			return nil, fmt.Errorf("column spec truncated")
		}
		c.Name = string(data[:n])
		data = data[n:]
		if len(data) < 2 {
			return nil, fmt.Errorf("column spec truncated")
		}
		n = int(binary.LittleEndian.Uint16(data))
		data = data[2:]
		if len(data) < n {
			return nil, fmt.Errorf("column spec truncated")
		}
		c.Target = string(data[:n])
		data = data[n:]
		cols = append(cols, c)
	}
	return cols, nil
}

// --- group level --------------------------------------------------------

// TableNames returns the names of all tables in the transaction's snapshot.
func (tx *Transaction) TableNames() ([]string, error) {
	if err := tx.checkAttached("table names"); err != nil {
		return nil, err
	}
	top, err := tx.topNode()
	if err != nil || top == nil {
		return nil, err
	}
	ref, ok := top.RefAt(topSlotNames)
	if !ok {
		return nil, nil
	}
	leaf, err := tx.node(ref)
	if err != nil {
		return nil, err
	}
	return decodeNames(leaf.Payload())
}

// GetTable resolves a table by name.
func (tx *Transaction) GetTable(name string) (*Table, error) {
	names, err := tx.TableNames()
	if err != nil {
		return nil, err
	}
	for i, n := range names {
		if n == name {
			return &Table{tx: tx, key: TableKey(i), name: name}, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoSuchTable, name)
}

// TableByKey resolves a table by stable key.
func (tx *Transaction) TableByKey(key TableKey) (*Table, error) {
	names, err := tx.TableNames()
	if err != nil {
		return nil, err
	}
	if int(key) >= len(names) {
		return nil, fmt.Errorf("%w: key %d", ErrNoSuchTable, key)
	}
	return &Table{tx: tx, key: key, name: names[key]}, nil
}

// AddTable creates a new table. The name must be unused.
func (tx *Transaction) AddTable(name string, typ TableType) (*Table, error) {
	if err := tx.checkWriting("add table"); err != nil {
		return nil, err
	}
	names, err := tx.TableNames()
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if n == name {
			return nil, fmt.Errorf("%w: %q", ErrTableExists, name)
		}
	}

	top, err := tx.writableTop()
	if err != nil {
		return nil, err
	}
	leaf, err := tx.writableChild(top, topSlotNames, 0)
	if err != nil {
		return nil, err
	}
	leaf.SetPayload(encodeNames(append(names, name)))

	tables, err := tx.writableChild(top, topSlotTables, 0)
	if err != nil {
		return nil, err
	}
	tbl := tx.db.alloc.Alloc(tblNumSlots)
	tbl.SetScalar(tblSlotType, int64(typ))
	tbl.SetScalar(tblSlotPK, 0)
	tbl.SetScalar(tblSlotNextKey, 1)
	tables.Append(int64(tbl.Ref()))

	return &Table{tx: tx, key: TableKey(len(names)), name: name}, nil
}

// appendHistoryEntry records a committed version under the history subtree.
// Called on the commit path while the tree is still writable.
func (tx *Transaction) appendHistoryEntry(version uint64) error {
	top, err := tx.writableTop()
	if err != nil {
		return err
	}
	hist, err := tx.writableChild(top, topSlotHistory, 0)
	if err != nil {
		return err
	}
	entry := tx.db.alloc.Alloc(0)
	entry.SetPayload(binary.LittleEndian.AppendUint64(nil, version))
	hist.Append(int64(entry.Ref()))
	return nil
}

// CommitHistory returns the versions recorded in the snapshot's history
// subtree, oldest first. Empty commits leave no entry.
func (tx *Transaction) CommitHistory() ([]uint64, error) {
	if err := tx.checkAttached("commit history"); err != nil {
		return nil, err
	}
	top, err := tx.topNode()
	if err != nil || top == nil {
		return nil, err
	}
	ref, ok := top.RefAt(topSlotHistory)
	if !ok {
		return nil, nil
	}
	hist, err := tx.node(ref)
	if err != nil {
		return nil, err
	}
	versions := make([]uint64, 0, hist.NumSlots())
	for i := 0; i < hist.NumSlots(); i++ {
		eref, ok := hist.RefAt(i)
		if !ok {
			continue
		}
		entry, err := tx.node(eref)
		if err != nil {
			return nil, err
		}
		if len(entry.Payload()) < 8 {
			return nil, fmt.Errorf("history entry truncated")
		}
		versions = append(versions, binary.LittleEndian.Uint64(entry.Payload()))
	}
	return versions, nil
}

// --- table level --------------------------------------------------------

// Table is a lightweight handle bound to one transaction. It re-resolves
// its node on every operation, so it stays valid across copy-on-write.
type Table struct {
	tx   *Transaction
	key  TableKey
	name string
}

// Key returns the table's stable key.
func (t *Table) Key() TableKey { return t.key }

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

func (t *Table) node() (*slab.Node, error) {
	top, err := t.tx.topNode()
	if err != nil {
		return nil, err
	}
	if top == nil {
		return nil, fmt.Errorf("%w: key %d", ErrNoSuchTable, t.key)
	}
	ref, ok := top.RefAt(topSlotTables)
	if !ok {
		return nil, fmt.Errorf("%w: key %d", ErrNoSuchTable, t.key)
	}
	tables, err := t.tx.node(ref)
	if err != nil {
		return nil, err
	}
	if int(t.key) >= tables.NumSlots() {
		return nil, fmt.Errorf("%w: key %d", ErrNoSuchTable, t.key)
	}
	tref, ok := tables.RefAt(int(t.key))
	if !ok {
		return nil, fmt.Errorf("%w: key %d", ErrNoSuchTable, t.key)
	}
	return t.tx.node(tref)
}

// writableNode returns the table node ready for mutation, duplicating the
// path from the top node down as needed.
func (t *Table) writableNode() (*slab.Node, error) {
	top, err := t.tx.writableTop()
	if err != nil {
		return nil, err
	}
	tables, err := t.tx.writableChild(top, topSlotTables, 0)
	if err != nil {
		return nil, err
	}
	if int(t.key) >= tables.NumSlots() {
		return nil, fmt.Errorf("%w: key %d", ErrNoSuchTable, t.key)
	}
	return t.tx.writableChild(tables, int(t.key), tblNumSlots)
}

// Type returns the table's classification.
func (t *Table) Type() (TableType, error) {
	n, err := t.node()
	if err != nil {
		return 0, err
	}
	return TableType(n.ScalarAt(tblSlotType)), nil
}

// Columns returns the table's column spec in declaration order.
func (t *Table) Columns() ([]Column, error) {
	n, err := t.node()
	if err != nil {
		return nil, err
	}
	ref, ok := n.RefAt(tblSlotSpec)
	if !ok {
		return nil, nil
	}
	spec, err := t.tx.node(ref)
	if err != nil {
		return nil, err
	}
	return decodeColumns(spec.Payload())
}

// Column resolves a column by name.
func (t *Table) Column(name string) (Column, error) {
	cols, err := t.Columns()
	if err != nil {
		return Column{}, err
	}
	for _, c := range cols {
		if c.Name == name {
			return c, nil
		}
	}
	return Column{}, fmt.Errorf("%w: %q in table %q", ErrNoSuchColumn, name, t.name)
}

// AddColumn appends a column to the spec and grows every existing object
// by one empty property slot. Returns the assigned column ID.
func (t *Table) AddColumn(col Column) (uint16, error) {
	if err := t.tx.checkWriting("add column"); err != nil {
		return 0, err
	}
	cols, err := t.Columns()
	if err != nil {
		return 0, err
	}
	for _, c := range cols {
		if c.Name == col.Name {
			return 0, fmt.Errorf("column %q already exists in table %q", col.Name, t.name)
		}
	}
	var maxID uint16
	for _, c := range cols {
		if c.ID > maxID {
			maxID = c.ID
		}
	}
	col.ID = maxID + 1

	n, err := t.writableNode()
	if err != nil {
		return 0, err
	}
	spec, err := t.tx.writableChild(n, tblSlotSpec, 0)
	if err != nil {
		return 0, err
	}
	spec.SetPayload(encodeColumns(append(cols, col)))

	// Grow existing objects in place.
	if _, ok := n.RefAt(tblSlotObjects); ok {
		objects, err := t.tx.writableChild(n, tblSlotObjects, 0)
		if err != nil {
			return 0, err
		}
		for i := 0; i < objects.NumSlots(); i++ {
			if _, ok := objects.RefAt(i); !ok {
				continue
			}
			obj, err := t.tx.writableChild(objects, i, 0)
			if err != nil {
				return 0, err
			}
			obj.Append(0)
		}
	}
	return col.ID, nil
}

// SetPrimaryKey designates an existing column as the table's primary key.
func (t *Table) SetPrimaryKey(name string) error {
	if err := t.tx.checkWriting("set primary key"); err != nil {
		return err
	}
	col, err := t.Column(name)
	if err != nil {
		return err
	}
	n, err := t.writableNode()
	if err != nil {
		return err
	}
	n.SetScalar(tblSlotPK, int64(col.ID)+1)
	return nil
}

// PrimaryKey returns the primary key column, if one is designated.
func (t *Table) PrimaryKey() (Column, bool, error) {
	n, err := t.node()
	if err != nil {
		return Column{}, false, err
	}
	pk := n.ScalarAt(tblSlotPK)
	if pk == 0 {
		return Column{}, false, nil
	}
	cols, err := t.Columns()
	if err != nil {
		return Column{}, false, err
	}
	for _, c := range cols {
		if int64(c.ID)+1 == pk {
			return c, true, nil
		}
	}
	return Column{}, false, fmt.Errorf("%w: primary key id %d in table %q", ErrNoSuchColumn, pk-1, t.name)
}

func (t *Table) colOrdinal(name string) (int, []Column, error) {
	cols, err := t.Columns()
	if err != nil {
		return 0, nil, err
	}
	for i, c := range cols {
		if c.Name == name {
			return i, cols, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %q in table %q", ErrNoSuchColumn, name, t.name)
}

// CreateObject inserts a new object under a freshly assigned key.
func (t *Table) CreateObject() (*Object, error) {
	if err := t.tx.checkWriting("create object"); err != nil {
		return nil, err
	}
	n, err := t.writableNode()
	if err != nil {
		return nil, err
	}
	key := ObjKey(n.ScalarAt(tblSlotNextKey))
	n.SetScalar(tblSlotNextKey, int64(key)+1)
	return t.insertObject(n, key)
}

// CreateObjectWithKey inserts a new object under an explicit key.
func (t *Table) CreateObjectWithKey(key ObjKey) (*Object, error) {
	if err := t.tx.checkWriting("create object"); err != nil {
		return nil, err
	}
	if _, err := t.Object(key); err == nil {
		return nil, fmt.Errorf("%w: %d in table %q", ErrDuplicateKey, key, t.name)
	}
	n, err := t.writableNode()
	if err != nil {
		return nil, err
	}
	if next := n.ScalarAt(tblSlotNextKey); int64(key) >= next {
		n.SetScalar(tblSlotNextKey, int64(key)+1)
	}
	return t.insertObject(n, key)
}

// CreateObjectWithPrimaryKey inserts a new object carrying the given
// primary key value. The table must have a designated primary key and the
// value must be unused.
func (t *Table) CreateObjectWithPrimaryKey(pk Value) (*Object, error) {
	pkCol, ok, err := t.PrimaryKey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %q has no primary key", t.name)
	}
	keys, err := t.ObjectKeys()
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		obj := &Object{table: t, key: k}
		v, err := obj.Get(pkCol.Name)
		if err != nil {
			return nil, err
		}
		if v.Equal(pk) {
			return nil, fmt.Errorf("%w: primary key %v in table %q", ErrDuplicateKey, pk, t.name)
		}
	}
	obj, err := t.CreateObject()
	if err != nil {
		return nil, err
	}
	if err := obj.Set(pkCol.Name, pk); err != nil {
		return nil, err
	}
	return obj, nil
}

func (t *Table) insertObject(n *slab.Node, key ObjKey) (*Object, error) {
	cols, err := t.Columns()
	if err != nil {
		return nil, err
	}
	objects, err := t.tx.writableChild(n, tblSlotObjects, 0)
	if err != nil {
		return nil, err
	}
	obj := t.tx.db.alloc.Alloc(1 + len(cols))
	obj.SetScalar(0, int64(key))
	// Reuse a tombstoned slot before growing the node.
	for i := 0; i < objects.NumSlots(); i++ {
		if _, ok := objects.RefAt(i); !ok {
			objects.SetRef(i, obj.Ref())
			return &Object{table: t, key: key}, nil
		}
	}
	objects.Append(int64(obj.Ref()))
	return &Object{table: t, key: key}, nil
}

// Object resolves an object by key.
func (t *Table) Object(key ObjKey) (*Object, error) {
	_, _, err := t.findObject(key)
	if err != nil {
		return nil, err
	}
	return &Object{table: t, key: key}, nil
}

// ObjectByPrimaryKey resolves an object by primary key value.
func (t *Table) ObjectByPrimaryKey(pk Value) (*Object, error) {
	pkCol, ok, err := t.PrimaryKey()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table %q has no primary key", t.name)
	}
	keys, err := t.ObjectKeys()
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		obj := &Object{table: t, key: k}
		v, err := obj.Get(pkCol.Name)
		if err != nil {
			return nil, err
		}
		if v.Equal(pk) {
			return obj, nil
		}
	}
	return nil, fmt.Errorf("%w: primary key %v in table %q", ErrNoSuchObject, pk, t.name)
}

// findObject returns the objects-node slot index and node for a key.
func (t *Table) findObject(key ObjKey) (int, *slab.Node, error) {
	n, err := t.node()
	if err != nil {
		return 0, nil, err
	}
	ref, ok := n.RefAt(tblSlotObjects)
	if !ok {
		return 0, nil, fmt.Errorf("%w: %d in table %q", ErrNoSuchObject, key, t.name)
	}
	objects, err := t.tx.node(ref)
	if err != nil {
		return 0, nil, err
	}
	for i := 0; i < objects.NumSlots(); i++ {
		oref, ok := objects.RefAt(i)
		if !ok {
			continue
		}
		obj, err := t.tx.node(oref)
		if err != nil {
			return 0, nil, err
		}
		if ObjKey(obj.ScalarAt(0)) == key {
			return i, obj, nil
		}
	}
	return 0, nil, fmt.Errorf("%w: %d in table %q", ErrNoSuchObject, key, t.name)
}

// ObjectKeys returns the keys of all live objects in slot order.
func (t *Table) ObjectKeys() ([]ObjKey, error) {
	n, err := t.node()
	if err != nil {
		return nil, err
	}
	ref, ok := n.RefAt(tblSlotObjects)
	if !ok {
		return nil, nil
	}
	objects, err := t.tx.node(ref)
	if err != nil {
		return nil, err
	}
	var keys []ObjKey
	for i := 0; i < objects.NumSlots(); i++ {
		oref, ok := objects.RefAt(i)
		if !ok {
			continue
		}
		obj, err := t.tx.node(oref)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ObjKey(obj.ScalarAt(0)))
	}
	return keys, nil
}

// ObjectCount returns the number of live objects.
func (t *Table) ObjectCount() (int, error) {
	keys, err := t.ObjectKeys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// DeleteObject removes an object by key.
func (t *Table) DeleteObject(key ObjKey) error {
	if err := t.tx.checkWriting("delete object"); err != nil {
		return err
	}
	ndx, _, err := t.findObject(key)
	if err != nil {
		return err
	}
	n, err := t.writableNode()
	if err != nil {
		return err
	}
	objects, err := t.tx.writableChild(n, tblSlotObjects, 0)
	if err != nil {
		return err
	}
	objects.Set(ndx, 0)
	return nil
}

// Clear removes every object while keeping the spec.
func (t *Table) Clear() error {
	if err := t.tx.checkWriting("clear table"); err != nil {
		return err
	}
	n, err := t.writableNode()
	if err != nil {
		return err
	}
	if _, ok := n.RefAt(tblSlotObjects); !ok {
		return nil
	}
	objects, err := t.tx.writableChild(n, tblSlotObjects, 0)
	if err != nil {
		return err
	}
	objects.Truncate(0)
	return nil
}

// --- object level -------------------------------------------------------

// Object is a handle to one object, bound to its table handle.
type Object struct {
	table *Table
	key   ObjKey
}

// Key returns the object's stable key.
func (o *Object) Key() ObjKey { return o.key }

// Table returns the owning table handle.
func (o *Object) Table() *Table { return o.table }

// Get reads a property by column name. Unset properties read as null.
func (o *Object) Get(column string) (Value, error) {
	ord, _, err := o.table.colOrdinal(column)
	if err != nil {
		return Value{}, err
	}
	_, node, err := o.table.findObject(o.key)
	if err != nil {
		return Value{}, err
	}
	slot := 1 + ord
	if slot >= node.NumSlots() {
		return Null(), nil
	}
	vref, ok := node.RefAt(slot)
	if !ok {
		return Null(), nil
	}
	vn, err := o.table.tx.node(vref)
	if err != nil {
		return Value{}, err
	}
	return decodeValue(vn.Payload())
}

// Set writes a property by column name. Setting null clears the slot.
func (o *Object) Set(column string, v Value) error {
	if err := o.table.tx.checkWriting("set property"); err != nil {
		return err
	}
	ord, _, err := o.table.colOrdinal(column)
	if err != nil {
		return err
	}
	ndx, _, err := o.table.findObject(o.key)
	if err != nil {
		return err
	}
	n, err := o.table.writableNode()
	if err != nil {
		return err
	}
	objects, err := o.table.tx.writableChild(n, tblSlotObjects, 0)
	if err != nil {
		return err
	}
	node, err := o.table.tx.writableChild(objects, ndx, 0)
	if err != nil {
		return err
	}
	slot := 1 + ord
	for node.NumSlots() <= slot {
		node.Append(0)
	}
	if v.IsNull() {
		node.Set(slot, 0)
		return nil
	}
	vn := o.table.tx.db.alloc.Alloc(0)
	vn.SetPayload(encodeValue(v))
	node.SetRef(slot, vn.Ref())
	return nil
}
