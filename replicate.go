package mvstore

import (
	"fmt"
)

// Object batch size between intermediate commits during full replication.
// Tests shrink the batch through debugSmallBatches to exercise the batch
// boundary without building thousands of objects.
const (
	replicateBatchSize      = 1000
	replicateBatchSizeDebug = 100
)

var debugSmallBatches = false

func replicateBatch() int {
	if debugSmallBatches {
		return replicateBatchSizeDebug
	}
	return replicateBatchSize
}

// identityColumn is the required primary key name for replicated classes.
const identityColumn = "_id"

// PathElem addresses one step into an object's property tree: a column,
// then optionally list indices and dictionary keys into nested
// collections.
type PathElem struct {
	Col string
	Ndx int
	Key string
}

// ReplicationSink observes schema, object and collection mutations during
// full-content replication, plus transaction boundaries on the
// commit-and-continue-writing path.
type ReplicationSink interface {
	OnTransactionBoundary(version uint64)

	CreateClass(name string, typ TableType, pk *Column) error
	InsertColumn(class string, col Column) error

	CreateObject(class string, key ObjKey, pk Value) error
	SetProperty(class string, key ObjKey, path []PathElem, v Value) error

	ListInsert(class string, key ObjKey, path []PathElem, ndx int, v Value) error
	SetInsert(class string, key ObjKey, path []PathElem, v Value) error
	DictInsert(class string, key ObjKey, path []PathElem, dictKey string, v Value) error
	ClearCollection(class string, key ObjKey, path []PathElem) error
}

// CopyTo copies this transaction's full visible content into dest without
// notifying any sink.
func (tx *Transaction) CopyTo(dest *Transaction) error {
	return tx.Replicate(dest, nil)
}

// Replicate copies this transaction's full visible content into dest,
// mirroring every creation and mutation to sink: classes first, then
// columns, then objects with their scalar and collection properties,
// recursing into collections nested inside mixed-typed slots. Every
// replicated class must carry a primary key named "_id"; embedded table
// definitions are rejected; ephemeral tables are skipped. Objects are
// committed in batches so one replication never buffers the whole store
// in a single write transaction.
func (tx *Transaction) Replicate(dest *Transaction, sink ReplicationSink) error {
	if err := tx.checkAttached("replicate"); err != nil {
		return err
	}
	if err := dest.checkWriting("replicate into"); err != nil {
		return err
	}

	names, err := tx.TableNames()
	if err != nil {
		return err
	}

	// Classes.
	tables := make([]*Table, 0, len(names))
	for _, name := range names {
		src, err := tx.GetTable(name)
		if err != nil {
			return err
		}
		typ, err := src.Type()
		if err != nil {
			return err
		}
		switch typ {
		case TableTypeEphemeral:
			continue
		case TableTypeEmbedded:
			return fmt.Errorf("cannot replicate embedded table %q", name)
		}
		pk, ok, err := src.PrimaryKey()
		if err != nil {
			return err
		}
		if !ok || pk.Name != identityColumn {
			return fmt.Errorf("table %q has no primary key named %q", name, identityColumn)
		}

		if _, err := dest.AddTable(name, typ); err != nil {
			return err
		}
		if sink != nil {
			if err := sink.CreateClass(name, typ, &pk); err != nil {
				return err
			}
		}
		tables = append(tables, src)
	}

	// Columns.
	for _, src := range tables {
		cols, err := src.Columns()
		if err != nil {
			return err
		}
		dst, err := dest.GetTable(src.Name())
		if err != nil {
			return err
		}
		for _, col := range cols {
			if _, err := dst.AddColumn(col); err != nil {
				return err
			}
			if sink != nil {
				if err := sink.InsertColumn(src.Name(), col); err != nil {
					return err
				}
			}
		}
		pk, _, err := src.PrimaryKey()
		if err != nil {
			return err
		}
		if err := dst.SetPrimaryKey(pk.Name); err != nil {
			return err
		}
	}

	// Objects, committing every replicateBatch() of them.
	inBatch := 0
	for _, src := range tables {
		cols, err := src.Columns()
		if err != nil {
			return err
		}
		pk, _, err := src.PrimaryKey()
		if err != nil {
			return err
		}
		keys, err := src.ObjectKeys()
		if err != nil {
			return err
		}
		for _, key := range keys {
			obj := &Object{table: src, key: key}
			pkVal, err := obj.Get(pk.Name)
			if err != nil {
				return err
			}
			dst, err := dest.GetTable(src.Name())
			if err != nil {
				return err
			}
			out, err := dst.CreateObjectWithPrimaryKey(pkVal)
			if err != nil {
				return err
			}
			if sink != nil {
				if err := sink.CreateObject(src.Name(), out.Key(), pkVal); err != nil {
					return err
				}
			}

			for _, col := range cols {
				if col.Name == pk.Name {
					continue
				}
				v, err := obj.Get(col.Name)
				if err != nil {
					return err
				}
				if v.IsNull() {
					continue
				}
				if err := out.Set(col.Name, v); err != nil {
					return err
				}
				if sink != nil {
					path := []PathElem{{Col: col.Name}}
					if err := replicateValue(sink, src.Name(), out.Key(), path, v); err != nil {
						return err
					}
				}
			}

			inBatch++
			if inBatch >= replicateBatch() {
				if _, err := dest.CommitAndContinueWriting(); err != nil {
					return err
				}
				inBatch = 0
			}
		}
	}
	return nil
}

// replicateValue mirrors one property to the sink. Collections are
// cleared then rebuilt element by element; collection elements that are
// themselves collections recurse with an extended path.
func replicateValue(sink ReplicationSink, class string, key ObjKey, path []PathElem, v Value) error {
	switch v.Kind {
	case KindList:
		if err := sink.ClearCollection(class, key, path); err != nil {
			return err
		}
		for i, el := range v.Elems {
			if isCollection(el) {
				marker := Value{Kind: el.Kind}
				if err := sink.ListInsert(class, key, path, i, marker); err != nil {
					return err
				}
				sub := append(append([]PathElem(nil), path...), PathElem{Ndx: i})
				if err := replicateValue(sink, class, key, sub, el); err != nil {
					return err
				}
				continue
			}
			if err := sink.ListInsert(class, key, path, i, el); err != nil {
				return err
			}
		}
		return nil

	case KindSet:
		if err := sink.ClearCollection(class, key, path); err != nil {
			return err
		}
		for _, el := range v.Elems {
			if err := sink.SetInsert(class, key, path, el); err != nil {
				return err
			}
		}
		return nil

	case KindDict:
		if err := sink.ClearCollection(class, key, path); err != nil {
			return err
		}
		for _, dk := range v.SortedKeys() {
			el := v.Entries[dk]
			if isCollection(el) {
				marker := Value{Kind: el.Kind}
				if err := sink.DictInsert(class, key, path, dk, marker); err != nil {
					return err
				}
				sub := append(append([]PathElem(nil), path...), PathElem{Key: dk})
				if err := replicateValue(sink, class, key, sub, el); err != nil {
					return err
				}
				continue
			}
			if err := sink.DictInsert(class, key, path, dk, el); err != nil {
				return err
			}
		}
		return nil

	default:
		return sink.SetProperty(class, key, path, v)
	}
}

func isCollection(v Value) bool {
	switch v.Kind {
	case KindList, KindSet, KindDict:
		return true
	}
	return false
}
