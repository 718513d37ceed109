package mvstore

import "time"

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnCommit is called when a new version is published in memory.
	OnCommit(version uint64, commitSize int64)

	// OnFlush is called when a disk flush completes.
	OnFlush(duration time.Duration, bytes int64, err error)

	// OnCompaction is called when an outlier compaction pass completes.
	OnCompaction(duration time.Duration, moved int, resumed bool)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o NoopMetricsObserver) OnCommit(version uint64, commitSize int64)              {}
func (o NoopMetricsObserver) OnFlush(duration time.Duration, bytes int64, err error) {}
func (o NoopMetricsObserver) OnCompaction(duration time.Duration, moved int, r bool) {}
func (o NoopMetricsObserver) OnQueueDepth(name string, depth int64)                  {}
