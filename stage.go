package mvstore

// TransactStage identifies which mode a Transaction currently occupies.
// A Transaction is in exactly one stage at any instant.
type TransactStage int

const (
	// StageNotAttached means the Transaction holds no read lock and no
	// tree view. Freshly created and fully detached transactions are here.
	StageNotAttached TransactStage = iota

	// StageReading means the Transaction is attached to one committed
	// version through a pinned read lock.
	StageReading

	// StageWriting means the Transaction owns the database's exclusive
	// write lock and is building the next version.
	StageWriting

	// StageFrozen means the Transaction is an immutable view permanently
	// pinned to one version.
	StageFrozen
)

// String returns the stage name used in log lines.
func (s TransactStage) String() string {
	switch s {
	case StageNotAttached:
		return "not attached"
	case StageReading:
		return "read"
	case StageWriting:
		return "write"
	case StageFrozen:
		return "frozen"
	}
	return "unknown"
}

// AsyncState tracks ownership and flush progress of the shared write lock
// for one Transaction. It is independent of TransactStage.
type AsyncState int

const (
	// AsyncIdle: the coordinator neither holds nor has requested the lock.
	AsyncIdle AsyncState = iota

	// AsyncRequesting: a lock request is in flight on the worker.
	AsyncRequesting

	// AsyncHasLock: the coordinator holds the lock with nothing pending.
	AsyncHasLock

	// AsyncHasCommits: the coordinator holds the lock and has in-memory
	// commits not yet flushed to disk.
	AsyncHasCommits

	// AsyncSyncing: a background flush of pending commits is running.
	AsyncSyncing
)

func (s AsyncState) String() string {
	switch s {
	case AsyncIdle:
		return "idle"
	case AsyncRequesting:
		return "requesting"
	case AsyncHasLock:
		return "has-lock"
	case AsyncHasCommits:
		return "has-commits"
	case AsyncSyncing:
		return "syncing"
	}
	return "unknown"
}
