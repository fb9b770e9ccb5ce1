package domain

import (
	"fmt"
	"time"
)

// ResourceType distinguishes the resource kinds kept in a course snapshot
type ResourceType string

const (
	ResourceBook     ResourceType = "book"
	ResourceLecture  ResourceType = "lecture"
	ResourceExercise ResourceType = "exercise"
	ResourceQuiz     ResourceType = "quiz"
)

// ResourceTypes lists every resource type in snapshot order
var ResourceTypes = []ResourceType{ResourceBook, ResourceLecture, ResourceExercise, ResourceQuiz}

// CachedModule is a course module as held in the local cache.
// The video payload lives in a separate namespace and is only attached on Get.
type CachedModule struct {
	ID          string `json:"id"`
	CourseID    string `json:"course_id"`
	Order       int    `json:"order"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	VideoURL    string `json:"video_url,omitempty"`
	Transcript  string `json:"transcript,omitempty"`

	// Quiz metadata attached to the module (ids only, questions are fetched on demand)
	QuizIDs []string `json:"quiz_ids,omitempty"`

	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ResumePosition float64    `json:"resume_position,omitempty"` // seconds
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`

	// Seq is the insertion sequence, used to break Order ties
	Seq uint64 `json:"seq"`

	// BlobSize is the size of the stored video payload (0 = not downloaded)
	BlobSize int64 `json:"blob_size,omitempty"`

	// Placeholder is set when a blob arrived before the metadata record
	Placeholder bool `json:"placeholder,omitempty"`

	Blob []byte `json:"-"`
}

// HasBlob reports whether the video payload is attached
func (m *CachedModule) HasBlob() bool {
	return m != nil && m.Blob != nil
}

// ModuleRef identifies a module to prefetch without requiring full metadata
type ModuleRef struct {
	ID       string
	CourseID string
	Order    int
}

// ModuleStatus is the learner-facing state of a module
type ModuleStatus string

const (
	ModuleCompleted ModuleStatus = "completed"
	ModuleResume    ModuleStatus = "resume"
	ModuleStart     ModuleStatus = "start"
	ModuleLocked    ModuleStatus = "locked"
)

// Course is the summary returned by the course listing
type Course struct {
	ID    string
	Title string
}

// CourseDetail is a course with its full resource lists
type CourseDetail struct {
	ID        string
	Title     string
	Books     []Resource
	Lectures  []Resource
	Exercises []Resource
	Quizzes   []Resource
}

// Resource is a single learning resource inside a course snapshot
type Resource struct {
	ID           string       `json:"id"`
	Type         ResourceType `json:"type"`
	CourseID     string       `json:"course_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	URL          string       `json:"url,omitempty"`
	FileType     string       `json:"file_type,omitempty"`
	BlobSize     int64        `json:"blob_size,omitempty"` // stored book payload; 0 = metadata only
	DownloadedAt time.Time    `json:"downloaded_at"`
}

// CourseSnapshot is the wholesale cached copy of one course's resources
type CourseSnapshot struct {
	CourseID  string     `json:"course_id"`
	Title     string     `json:"title"`
	Resources []Resource `json:"resources"`
	SyncedAt  time.Time  `json:"synced_at"`
}

// ResourcesOf returns the snapshot's resources of one type ("" returns all)
func (s *CourseSnapshot) ResourcesOf(t ResourceType) []Resource {
	if t == "" {
		return s.Resources
	}
	var out []Resource
	for _, r := range s.Resources {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

// DownloadStatus is the state of a tracked download
type DownloadStatus string

const (
	DownloadPending   DownloadStatus = "pending"
	DownloadCompleted DownloadStatus = "completed"
	DownloadFailed    DownloadStatus = "failed"
)

// DownloadTask tracks a single binary download for display and retry
type DownloadTask struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	ModuleID    string         `json:"module_id,omitempty"`
	CourseID    string         `json:"course_id,omitempty"` // set for course archive downloads
	Status      DownloadStatus `json:"status"`
	Progress    int            `json:"progress"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// FormatBytes renders a byte count for display
func FormatBytes(n int64) string {
	const (
		gb = 1024 * 1024 * 1024
		mb = 1024 * 1024
		kb = 1024
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/gb)
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/mb)
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/kb)
	default:
		return fmt.Sprintf("%d B", n)
	}
}
