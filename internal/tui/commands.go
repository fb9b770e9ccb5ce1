package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/service"
	"github.com/estrateji/satchel/internal/syncer"
)

// RefreshInterval is how often the dashboard re-reads the status
const RefreshInterval = 2 * time.Second

// Source is what the dashboard reads and acts on (implemented by service.Engine)
type Source interface {
	Status() service.Status
	SyncNow(ctx context.Context, observer domain.SyncObserver) (syncer.Report, domain.SyncResult, error)
	RetryDownload(ctx context.Context, id string) error
	RemoveDownload(id string) error
}

// LoadStatusCmd reads the status from the cache
func LoadStatusCmd(src Source) tea.Cmd {
	return func() tea.Msg {
		return StatusMsg{Status: src.Status()}
	}
}

// TickCmd returns a command that sends a tick after a delay
func TickCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}

// ClearStatusCmd returns a command that clears the status line after a delay
func ClearStatusCmd(delay time.Duration) tea.Cmd {
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

// SyncCmd runs a full sync, streaming course progress into ch and closing it when done
func SyncCmd(src Source, ch chan domain.SyncProgress) tea.Cmd {
	return func() tea.Msg {
		defer close(ch)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, result, err := src.SyncNow(ctx, NewChannelObserver(ch))
		delivered := report.Queue.Delivered + report.Completions.Delivered
		for _, sr := range report.Legacy {
			delivered += sr.Delivered
		}
		return SyncDoneMsg{Delivered: delivered, Courses: result.Courses, Err: err}
	}
}

// WaitForProgressCmd waits for the next progress update; nil once the channel closes
func WaitForProgressCmd(ch <-chan domain.SyncProgress) tea.Cmd {
	return func() tea.Msg {
		p, ok := <-ch
		if !ok {
			return nil
		}
		return SyncProgressMsg{Progress: p}
	}
}

// RetryDownloadCmd re-runs a failed download
func RetryDownloadCmd(src Source, id, name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := src.RetryDownload(ctx, id); err != nil {
			return ErrMsg{Err: err, Context: "retrying " + name}
		}
		return ActionDoneMsg{Message: "downloaded " + name}
	}
}

// RemoveDownloadCmd forgets a download task
func RemoveDownloadCmd(src Source, id, name string) tea.Cmd {
	return func() tea.Msg {
		if err := src.RemoveDownload(id); err != nil {
			return ErrMsg{Err: err, Context: "removing " + name}
		}
		return ActionDoneMsg{Message: "removed " + name}
	}
}
