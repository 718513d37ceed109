// Package s3 provides an S3 implementation of the blobstore.Store interface,
// plus a DynamoDB-coordinated variant for safe concurrent archivers.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("mydb/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	err = db.ArchiveTo(ctx, store)
//
// # Features
//
//   - Range reads for efficient partial fetches
//   - Multipart uploads for large snapshot archives
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
