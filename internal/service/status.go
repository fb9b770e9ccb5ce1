package service

import (
	"time"

	"github.com/estrateji/satchel/internal/domain"
)

// Status is a point-in-time view of everything waiting locally
type Status struct {
	Online bool

	Pending      map[domain.ActionKind]int
	PendingTotal int
	Legacy       map[string]int
	Submissions  int

	UnsyncedCompletions int
	Modules             int
	CompletedModules    int
	StorageBytes        int64

	Courses         int
	Archives        int
	CachedResponses int // GET responses held by the local proxy
	SyncedAt        time.Time
	NextSync        time.Time // zero when the scheduler is not running

	Downloads []domain.DownloadTask
}

// Status reads the current state from the cache only. It never touches the network.
func (e *Engine) Status() Status {
	st := Status{
		Online:              e.Conn.Online(),
		Pending:             e.Queue.CountByType(),
		Legacy:              e.Sync.LegacyCount(),
		Submissions:         e.Boundary.PendingSubmissions(),
		UnsyncedCompletions: len(e.Modules.PendingCompletions()),
		Modules:             len(e.Modules.GetAllMeta()),
		CompletedModules:    len(e.Modules.CompletedIDs()),
		StorageBytes:        e.Modules.StorageUsage(),
		Courses:             e.Courses.Count(),
		Archives:            len(e.Archives.IDs()),
		CachedResponses:     len(e.Boundary.Cached()),
		NextSync:            e.Scheduler.Next(TaskTick),
		Downloads:           e.Downloads.List(),
	}
	for _, n := range st.Pending {
		st.PendingTotal += n
	}
	if t, ok := e.Courses.SyncedAt(); ok {
		st.SyncedAt = t
	}
	return st
}

// Waiting is the number of local writes not yet on the server
func (s Status) Waiting() int {
	n := s.PendingTotal + s.Submissions + s.UnsyncedCompletions
	for _, c := range s.Legacy {
		n += c
	}
	return n
}

// ModuleLine is one module of a course outline
type ModuleLine struct {
	Module   *domain.CachedModule
	Status   domain.ModuleStatus
	Progress float64 // resume position in seconds
	Next     bool    // first module not completed yet
}

// Outline lists a course's cached modules in sequence with their
// learner-facing state. Cache only.
func (e *Engine) Outline(courseID string) []ModuleLine {
	mods := e.Modules.GetCourseModules(courseID)
	refs := make([]domain.ModuleRef, len(mods))
	for i, m := range mods {
		refs[i] = domain.ModuleRef{ID: m.ID, CourseID: m.CourseID, Order: m.Order}
	}
	next, hasNext := e.Modules.ResumeModule(refs)

	lines := make([]ModuleLine, 0, len(mods))
	for _, m := range mods {
		lines = append(lines, ModuleLine{
			Module:   m,
			Status:   e.Modules.Status(m.ID, refs),
			Progress: e.Modules.GetProgress(m.ID),
			Next:     hasNext && next.ID == m.ID,
		})
	}
	return lines
}
