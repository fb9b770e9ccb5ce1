package tui

import (
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/service"
)

// ErrMsg represents an error
type ErrMsg struct {
	Err     error
	Context string
}

func (e ErrMsg) Error() string {
	if e.Context != "" {
		return e.Context + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// StatusMsg carries a fresh status read
type StatusMsg struct {
	Status service.Status
}

// TickMsg triggers the periodic status refresh
type TickMsg struct{}

// SyncProgressMsg reports course sync progress
type SyncProgressMsg struct {
	Progress domain.SyncProgress
}

// SyncDoneMsg signals a finished manual sync
type SyncDoneMsg struct {
	Delivered int
	Courses   int
	Err       error
}

// ActionDoneMsg signals a finished download action
type ActionDoneMsg struct {
	Message string
}

// ClearStatusMsg clears the status line
type ClearStatusMsg struct{}
