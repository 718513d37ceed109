package mvstore

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongTransactState is returned when an operation is invoked from
	// an incompatible transaction stage. This is a programming-contract
	// violation and is never retried internally.
	ErrWrongTransactState = errors.New("wrong transaction state")

	// ErrDatabaseClosed is returned when the shared database handle has
	// been torn down.
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrNoSuchVersion is returned when a specific version can no longer
	// be pinned because it was reclaimed or never existed.
	ErrNoSuchVersion = errors.New("version is not available")

	// ErrOpenTransactions is returned by DB.Close while read locks other
	// than deliberately leaked ones are still pinned.
	ErrOpenTransactions = errors.New("transactions still attached")

	// ErrNoSuchTable is returned when a table name or key does not resolve.
	ErrNoSuchTable = errors.New("no such table")

	// ErrNoSuchObject is returned when an object key does not resolve.
	ErrNoSuchObject = errors.New("no such object")

	// ErrNoSuchColumn is returned when a column name does not resolve.
	ErrNoSuchColumn = errors.New("no such column")

	// ErrDuplicateKey is returned when creating an object whose key or
	// primary key already exists in the table.
	ErrDuplicateKey = errors.New("duplicate object key")

	// ErrTableExists is returned when adding a table under a taken name.
	ErrTableExists = errors.New("table already exists")

	// ErrArchiveCorrupt is returned when an archived snapshot and the
	// manifest naming it disagree.
	ErrArchiveCorrupt = errors.New("archive is corrupt")
)

// StateError reports which operation was attempted from which stage.
//
// It unwraps to ErrWrongTransactState.
type StateError struct {
	Op    string
	Stage TransactStage
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed in stage %q", e.Op, e.Stage)
}

func (e *StateError) Unwrap() error { return ErrWrongTransactState }

func wrongState(op string, stage TransactStage) error {
	return &StateError{Op: op, Stage: stage}
}

// CommitFailedError wraps a disk-flush failure recorded by the async-commit
// coordinator. It is stored on the Transaction and re-raised by the next
// operation that observes the failed commit.
//
// The original flush error can be accessed via errors.Unwrap.
type CommitFailedError struct {
	Version uint64
	cause   error
}

func (e *CommitFailedError) Error() string {
	return fmt.Sprintf("async commit of version %d failed: %v", e.Version, e.cause)
}

func (e *CommitFailedError) Unwrap() error { return e.cause }
