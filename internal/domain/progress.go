package domain

// ProgressFunc reports pagination progress.
// Called repeatedly while listing: (50, 120), (100, 120), ...
type ProgressFunc func(loaded, total int)

// ByteProgress reports a streamed download; total is -1 when the size is unknown.
type ByteProgress func(read, total int64)

// SyncResult summarizes what happened during a course snapshot sync.
type SyncResult struct {
	Courses  int // snapshots written
	Failed   int // courses whose snapshot could not be written
	Books    int
	Blobs    int // book payloads downloaded inline
	SyncedAt int64
}
