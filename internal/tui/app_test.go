package tui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/service"
	"github.com/estrateji/satchel/internal/syncer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	status  service.Status
	retried []string
	removed []string
	syncErr error
}

func (f *fakeSource) Status() service.Status { return f.status }

func (f *fakeSource) SyncNow(_ context.Context, obs domain.SyncObserver) (syncer.Report, domain.SyncResult, error) {
	obs.OnProgress(domain.SyncProgress{Title: "Algebra", Loaded: 1, Total: 1, Done: true})
	var r syncer.Report
	r.Queue.Delivered = 2
	r.Completions.Delivered = 1
	return r, domain.SyncResult{Courses: 1}, f.syncErr
}

func (f *fakeSource) RetryDownload(_ context.Context, id string) error {
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeSource) RemoveDownload(id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func sampleStatus() service.Status {
	return service.Status{
		Online:       true,
		Pending:      map[domain.ActionKind]int{"exercise": 2},
		PendingTotal: 2,
		Legacy:       map[string]int{"exerciseQueue": 1},
		Modules:      3,
		StorageBytes: 2048,
		Courses:      2,
		Archives:     1,

		CachedResponses: 4,
		NextSync:        time.Date(2026, 5, 1, 12, 0, 15, 0, time.UTC),
		Downloads: []domain.DownloadTask{
			{ID: "d1", Name: "Intro.mp4", Status: domain.DownloadFailed, Error: "offline"},
			{ID: "d2", Name: "Limits.mp4", Status: domain.DownloadCompleted, Progress: 100},
		},
	}
}

func load(t *testing.T, src *fakeSource) Model {
	t.Helper()
	m := NewModel(src)
	next, _ := m.Update(StatusMsg{Status: src.status})
	return next.(Model)
}

func TestWritePlain(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePlain(&buf, sampleStatus()))

	out := buf.String()
	assert.Contains(t, out, "state: online")
	assert.Contains(t, out, "waiting: 3")
	assert.Contains(t, out, "queue exercise: 2")
	assert.Contains(t, out, "legacy exerciseQueue: 1")
	assert.Contains(t, out, "download d1 failed 0% Intro.mp4")
	assert.Contains(t, out, "courses: 2 (1 archives)")
	assert.Contains(t, out, "cached responses: 4")
	assert.Contains(t, out, "next sync: 2026-05-01T12:00:15Z")
}

func TestRetryOnlyFailedDownloads(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := load(t, src)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, ActionDoneMsg{Message: "downloaded Intro.mp4"}, msg)
	assert.Equal(t, []string{"d1"}, src.retried)

	m.downloads.MoveDown()
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).statusErr)
	assert.Len(t, src.retried, 1)
}

func TestRemoveSelectedDownload(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := load(t, src)
	m.downloads.MoveDown()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.NotNil(t, cmd)
	cmd()
	assert.Equal(t, []string{"d2"}, src.removed)
}

func TestSyncCmdTotalsDeliveries(t *testing.T) {
	src := &fakeSource{}
	ch := make(chan domain.SyncProgress, 4)

	msg := SyncCmd(src, ch)()
	assert.Equal(t, SyncDoneMsg{Delivered: 3, Courses: 1}, msg)

	p := WaitForProgressCmd(ch)()
	assert.Equal(t, "Algebra", p.(SyncProgressMsg).Progress.Title)
	assert.Nil(t, WaitForProgressCmd(ch)())
}

func TestSyncErrorShownOnStatusLine(t *testing.T) {
	src := &fakeSource{status: sampleStatus()}
	m := load(t, src)
	m.syncing = true

	next, _ := m.Update(SyncDoneMsg{Err: errors.New("boom")})
	got := next.(Model)
	assert.False(t, got.syncing)
	assert.True(t, got.statusErr)
	assert.Contains(t, got.View(), "sync: boom")
}
