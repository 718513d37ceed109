package mvstore

import (
	"github.com/hupe1980/mvstore/resource"
)

type options struct {
	logger    *Logger
	metrics   MetricsObserver
	writer    CommitWriter
	resources *resource.Controller
	sink      ReplicationSink
	format    uint32
}

// Option configures database construction.
//
// Options exist to avoid exploding the constructor surface; breaking
// changes are expected while mvstore is pre-release.
type Option func(*options)

// WithLogger configures the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsObserver configures a metrics observer for monitoring
// commits, flushes and compaction. Pass nil to disable collection.
func WithMetricsObserver(m MetricsObserver) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsObserver{}
		}
		o.metrics = m
	}
}

// WithCommitWriter configures the external commit writer that persists
// committed versions. Without one the database is purely in-memory and
// commit-to-disk requests complete without touching storage.
func WithCommitWriter(w CommitWriter) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithResourceController configures shared limits for background work
// (flush, compaction, archival). Without one background work is unlimited.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithFileFormat overrides the store's current file format version,
// normally LatestFileFormat. Data written by older releases carries an
// older format and is brought forward by UpgradeFileFormat.
func WithFileFormat(v uint32) Option {
	return func(o *options) {
		o.format = v
	}
}

// WithReplicationSink configures a sink that observes transaction
// boundaries on the commit-and-continue-writing path. Full-state
// replication is driven explicitly through Transaction.Replicate.
func WithReplicationSink(s ReplicationSink) Option {
	return func(o *options) {
		o.sink = s
	}
}
