package models

import "time"

const (
	// DefaultBatchSize is the maximum number of queue items per remote request.
	DefaultBatchSize = 10

	// DefaultMaxRetries is the retry budget before a task is marked as errored.
	DefaultMaxRetries = 3

	// DefaultProbeTimeout bounds the connectivity check.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultBatchTimeout bounds a single batch request.
	DefaultBatchTimeout = 30 * time.Second

	// DefaultAutoSyncInterval is the pause between background sync runs.
	DefaultAutoSyncInterval = time.Minute

	// DefaultLockTTL caps how long a crashed run can hold the sync lock.
	DefaultLockTTL = 5 * time.Minute

	// DefaultUntitled is used when a task is created without a title.
	DefaultUntitled = "Untitled task"
)
