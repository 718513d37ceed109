// Package blobstore provides storage abstraction for mvstore's snapshot
// archives.
//
// Store is the interface for reading and writing immutable blobs
// (snapshots, manifests). Implementations must be safe for concurrent
// use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local filesystem with atomic writes
//   - s3.Store: Amazon S3; s3.DDBCommitStore adds an atomic CURRENT
//     pointer through DynamoDB conditional writes
//   - minio.Store: MinIO and other S3-compatible endpoints
//
// # Custom Implementations
//
// Implement the Store interface to support other backends:
//
//	type Store interface {
//	    Open(ctx, name) (Blob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
