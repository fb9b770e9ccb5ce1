package components

import (
	"fmt"

	"github.com/estrateji/satchel/internal/domain"
)

// SyncStatus is the state of a manual sync run
type SyncStatus int

const (
	StatusIdle SyncStatus = iota
	StatusSyncing
	StatusSynced
	StatusError
)

// SyncState tracks course snapshot progress during a manual sync
type SyncState struct {
	Status  SyncStatus
	Loaded  int // courses processed so far
	Total   int
	Current string // title of the last course processed
	Error   error
}

// Apply folds one progress update into the state
func (s SyncState) Apply(p domain.SyncProgress) SyncState {
	s.Loaded = p.Loaded
	s.Total = p.Total
	if p.Title != "" {
		s.Current = p.Title
	}
	switch {
	case p.Done && p.Error != nil:
		s.Status = StatusError
		s.Error = p.Error
	case p.Done:
		s.Status = StatusSynced
	default:
		s.Status = StatusSyncing
	}
	return s
}

// Percent returns completion in [0,1]
func (s SyncState) Percent() float64 {
	if s.Total <= 0 {
		return 0
	}
	return min(float64(s.Loaded)/float64(s.Total), 1)
}

func (s SyncState) Label() string {
	switch s.Status {
	case StatusSyncing:
		return fmt.Sprintf("syncing %d/%d %s", s.Loaded, s.Total, s.Current)
	case StatusSynced:
		return fmt.Sprintf("synced %d courses", s.Total)
	case StatusError:
		return "sync failed: " + s.Error.Error()
	default:
		return ""
	}
}
