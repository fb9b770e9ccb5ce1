package domain

import (
	"context"
	"time"
)

// Clock returns the current time. Injected so TTL and backoff logic can run on a fake clock.
type Clock func() time.Time

// SystemClock is the wall clock
func SystemClock() time.Time { return time.Now() }

// Connectivity reports whether the server is reachable and announces transitions.
type Connectivity interface {
	Online() bool

	// Subscribe registers fn for online/offline transitions and returns an unsubscribe func
	Subscribe(fn func(online bool)) func()
}

// CourseClient lists courses and their resources (implemented by api.Client)
type CourseClient interface {
	// ListCourses returns one page (1-based) of the user's courses, with the
	// paging the server actually applied
	ListCourses(ctx context.Context, page, perPage int) ([]Course, Page, error)

	// GetCourse returns a course with its books, lectures, exercises and quizzes
	GetCourse(ctx context.Context, courseID string) (*CourseDetail, error)

	// FetchBinary downloads a resource payload
	FetchBinary(ctx context.Context, url string) ([]byte, error)
}

// Page is the paging a server reports for one page of a listing
type Page struct {
	Number  int // 1-based; 0 when the server did not say
	PerPage int
	Total   int
	Pages   int
}

// ModuleClient fetches module details and payloads
type ModuleClient interface {
	GetModule(ctx context.Context, moduleID string) (*CachedModule, error)

	// FetchBinaryProgress streams a payload, reporting bytes read as they arrive
	FetchBinaryProgress(ctx context.Context, url string, progress ByteProgress) ([]byte, error)

	// ProbeSize returns the Content-Length reported by a HEAD request (-1 if unknown)
	ProbeSize(ctx context.Context, url string) (int64, error)
}

// ArchiveClient downloads a whole course packaged for offline use
type ArchiveClient interface {
	DownloadCourseArchive(ctx context.Context, courseID string, progress ByteProgress) ([]byte, error)
}

// Deliverer posts a payload to a server endpoint
type Deliverer interface {
	Deliver(ctx context.Context, endpoint string, payload any) error
}

// SyncProgress reports progress during course synchronization.
type SyncProgress struct {
	CourseID string
	Title    string
	Loaded   int // courses processed so far
	Total    int
	Books    int // books in this course
	Blobs    int // books whose payload was downloaded
	Done     bool
	Error    error
}

// SyncObserver receives progress updates during sync operations.
type SyncObserver interface {
	OnProgress(progress SyncProgress)
}

// NoOpObserver discards progress updates (for testing/batch operations).
type NoOpObserver struct{}

func (NoOpObserver) OnProgress(SyncProgress) {}
