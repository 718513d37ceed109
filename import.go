package mvstore

// The ImportCopyOf family rebinds handles obtained under one transaction
// to the equivalent live entity under this transaction, by stable key.
// Handles whose referent no longer exists in this transaction's version
// import as absent. Used to carry working references across a
// commit-and-continue boundary and between transactions on the same
// database.

// ImportCopyOfTable rebinds a table handle. Returns false when no table
// with the same stable key exists here.
func (tx *Transaction) ImportCopyOfTable(t *Table) (*Table, bool) {
	if t == nil {
		return nil, false
	}
	if err := tx.checkAttached("import table"); err != nil {
		return nil, false
	}
	names, err := tx.TableNames()
	if err != nil || int(t.key) >= len(names) {
		return nil, false
	}
	// Keys are positional, so the name must still match for the handle
	// to refer to the same table.
	if names[t.key] != t.name {
		return nil, false
	}
	return &Table{tx: tx, key: t.key, name: t.name}, true
}

// ImportCopyOfObject rebinds an object handle. Returns false when the
// table or the object no longer exists here.
func (tx *Transaction) ImportCopyOfObject(o *Object) (*Object, bool) {
	if o == nil {
		return nil, false
	}
	t, ok := tx.ImportCopyOfTable(o.table)
	if !ok {
		return nil, false
	}
	obj, err := t.Object(o.key)
	if err != nil {
		return nil, false
	}
	return obj, true
}

// ImportCopyOfLink resolves a link value under this transaction. Returns
// false when the target no longer exists.
func (tx *Transaction) ImportCopyOfLink(l Link) (*Object, bool) {
	if err := tx.checkAttached("import link"); err != nil {
		return nil, false
	}
	t, err := tx.TableByKey(l.Table)
	if err != nil {
		return nil, false
	}
	obj, err := t.Object(l.Obj)
	if err != nil {
		return nil, false
	}
	return obj, true
}
