package mvstore

import (
	"bytes"
	"fmt"
	"sort"
)

// LatestFileFormat is the file format version written by this release.
const LatestFileFormat = 24

type migrationStep struct {
	to    uint32
	name  string
	apply func(tx *Transaction) error
}

// Steps run in order, each at most once, gated by the current format
// version having not yet reached the step's threshold.
var migrationSteps = []migrationStep{
	{to: 22, name: "index primary keys", apply: (*Transaction).migrateIndexPrimaryKeys},
	{to: 23, name: "re-encode collections", apply: (*Transaction).migrateReencodeCollections},
	{to: 24, name: "remap column identifiers", apply: (*Transaction).migrateRemapColumnIDs},
}

// UpgradeFileFormat brings the store's file format forward to target by
// applying the migration steps between the current and the target
// version, in order. Already-applied steps never rerun; calling with a
// target at or below the current format is a no-op. A failing step is a
// fatal inconsistency, not a recoverable condition.
func (tx *Transaction) UpgradeFileFormat(target uint32) error {
	if err := tx.checkWriting("upgrade file format"); err != nil {
		return err
	}
	if target > LatestFileFormat {
		return fmt.Errorf("file format %d is newer than supported %d", target, LatestFileFormat)
	}

	cur := tx.db.format.Load()
	for _, step := range migrationSteps {
		if cur < step.to && step.to <= target {
			tx.db.logger.WithTransact(tx.logID, tx.stage).Info("applying file format upgrade",
				"step", step.name, "from", cur, "to", step.to)
			if err := step.apply(tx); err != nil {
				return fmt.Errorf("file format upgrade to %d (%s): %w", step.to, step.name, err)
			}
			cur = step.to
			tx.db.format.Store(cur)
		}
	}
	return nil
}

// migrateIndexPrimaryKeys verifies primary key uniqueness per table and
// marks every primary key column as indexed.
func (tx *Transaction) migrateIndexPrimaryKeys() error {
	names, err := tx.TableNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		t, err := tx.GetTable(name)
		if err != nil {
			return err
		}
		pk, ok, err := t.PrimaryKey()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		keys, err := t.ObjectKeys()
		if err != nil {
			return err
		}
		seen := make(map[string]ObjKey, len(keys))
		for _, k := range keys {
			obj := &Object{table: t, key: k}
			v, err := obj.Get(pk.Name)
			if err != nil {
				return err
			}
			enc := string(encodeValue(v))
			if prev, dup := seen[enc]; dup {
				return fmt.Errorf("%w: objects %d and %d share primary key in table %q",
					ErrDuplicateKey, prev, k, name)
			}
			seen[enc] = k
		}

		if !pk.Indexed {
			if err := t.setColumnIndexed(pk.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Table) setColumnIndexed(name string) error {
	cols, err := t.Columns()
	if err != nil {
		return err
	}
	for i := range cols {
		if cols[i].Name == name {
			cols[i].Indexed = true
		}
	}
	n, err := t.writableNode()
	if err != nil {
		return err
	}
	spec, err := t.tx.writableChild(n, tblSlotSpec, 0)
	if err != nil {
		return err
	}
	spec.SetPayload(encodeColumns(cols))
	return nil
}

// migrateReencodeCollections rewrites every stored collection under the
// current encoding: set elements deduplicated and ordered, dictionary
// entries ordered by key. Ephemeral tables are cleared, since their
// contents do not survive a format change.
func (tx *Transaction) migrateReencodeCollections() error {
	names, err := tx.TableNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		t, err := tx.GetTable(name)
		if err != nil {
			return err
		}
		typ, err := t.Type()
		if err != nil {
			return err
		}
		if typ == TableTypeEphemeral {
			if err := t.Clear(); err != nil {
				return err
			}
			continue
		}

		cols, err := t.Columns()
		if err != nil {
			return err
		}
		keys, err := t.ObjectKeys()
		if err != nil {
			return err
		}
		for _, k := range keys {
			obj := &Object{table: t, key: k}
			for _, c := range cols {
				v, err := obj.Get(c.Name)
				if err != nil {
					return err
				}
				nv, changed := reencodeValue(v)
				if !changed {
					continue
				}
				if err := obj.Set(c.Name, nv); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// reencodeValue normalizes collection values recursively and reports
// whether anything changed.
func reencodeValue(v Value) (Value, bool) {
	switch v.Kind {
	case KindList:
		changed := false
		for i := range v.Elems {
			nv, c := reencodeValue(v.Elems[i])
			if c {
				v.Elems[i] = nv
				changed = true
			}
		}
		return v, changed

	case KindSet:
		elems := make([]Value, 0, len(v.Elems))
		seen := make(map[string]struct{}, len(v.Elems))
		for _, el := range v.Elems {
			el, _ = reencodeValue(el)
			enc := string(encodeValue(el))
			if _, dup := seen[enc]; dup {
				continue
			}
			seen[enc] = struct{}{}
			elems = append(elems, el)
		}
		sort.Slice(elems, func(i, j int) bool {
			return bytes.Compare(encodeValue(elems[i]), encodeValue(elems[j])) < 0
		})
		out := Value{Kind: KindSet, Elems: elems}
		return out, !out.Equal(v)

	case KindDict:
		changed := false
		for key, el := range v.Entries {
			nv, c := reencodeValue(el)
			if c {
				v.Entries[key] = nv
				changed = true
			}
		}
		return v, changed
	}
	return v, false
}

// migrateRemapColumnIDs reassigns dense sequential column identifiers per
// table, carrying the primary key designation over to the new ID.
func (tx *Transaction) migrateRemapColumnIDs() error {
	names, err := tx.TableNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		t, err := tx.GetTable(name)
		if err != nil {
			return err
		}
		cols, err := t.Columns()
		if err != nil {
			return err
		}
		if len(cols) == 0 {
			continue
		}

		pk, hasPK, err := t.PrimaryKey()
		if err != nil {
			return err
		}

		changed := false
		var newPK int64
		for i := range cols {
			id := uint16(i + 1)
			if cols[i].ID != id {
				changed = true
			}
			if hasPK && cols[i].Name == pk.Name {
				newPK = int64(id) + 1
			}
			cols[i].ID = id
		}
		if !changed {
			continue
		}

		n, err := t.writableNode()
		if err != nil {
			return err
		}
		spec, err := t.tx.writableChild(n, tblSlotSpec, 0)
		if err != nil {
			return err
		}
		spec.SetPayload(encodeColumns(cols))
		if hasPK {
			n.SetScalar(tblSlotPK, newPK)
		}
	}
	return nil
}
