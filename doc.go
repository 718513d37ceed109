// Package mvstore implements the transactional core of an embedded,
// file-backed MVCC tree store.
//
// Every commit publishes an immutable version built from copy-on-write
// tree nodes. Readers attach to a version through the read-lock registry
// and keep seeing it until they detach; a single exclusive writer builds
// the next version on top of the latest one.
//
// # Quick Start
//
// In-memory:
//
//	db, _ := mvstore.New()
//	defer db.Close()
//
// File-backed, with durable commits in an append-only log:
//
//	db, _ := mvstore.Open("./data/commits.log")
//	defer db.Close()
//
// # Transactions
//
// Writers are exclusive; readers are cheap and concurrent:
//
//	tx, _ := db.StartWrite(ctx)
//	tbl, _ := tx.AddTable("people", mvstore.TableTypeTopLevel)
//	tbl.AddColumn(mvstore.Column{Name: "name", Type: mvstore.ColTypeString})
//	obj, _ := tbl.CreateObject()
//	obj.Set("name", mvstore.StringValue("ada"))
//	version, _ := tx.Commit()
//
//	rd, _ := db.StartRead()           // latest version
//	old, _ := db.StartReadAt(version) // pinned older version
//	frz, _ := rd.Freeze()             // immutable handle, shareable
//
// # Async Commits
//
// A promoted writer keeps the write lock across commits and batches them
// in memory; AsyncCompleteWrites pushes the newest one to disk on a
// background worker:
//
//	tx, _ := db.StartWrite(ctx)
//	tx.PromoteToAsync()
//	tx.CommitAndContinueAsRead(false) // stays in memory
//	tx.BeginWrite(ctx)                // reuses the held lock
//	tx.CommitAndContinueAsRead(false)
//	tx.AsyncCompleteWrites(func() { /* durable */ })
//
// # Archival
//
// Whole versions can be archived to and restored from a blob store
// (local directory, S3, MinIO):
//
//	store, _ := s3.New(ctx, "my-bucket", s3.WithPrefix("backups/"))
//	db.ArchiveTo(ctx, store)
//	restored, _ := mvstore.RestoreArchived(ctx, store)
package mvstore
