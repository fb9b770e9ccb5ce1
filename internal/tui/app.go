package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/service"
	"github.com/estrateji/satchel/internal/tui/components"
	"github.com/estrateji/satchel/internal/tui/styles"
)

// Model is the status dashboard
type Model struct {
	src  Source
	keys KeyMap

	status    service.Status
	loaded    bool
	downloads *components.DownloadList

	syncing   bool
	syncState components.SyncState
	progress  chan domain.SyncProgress

	statusLine string
	statusErr  bool

	width  int
	height int
}

func NewModel(src Source) Model {
	return Model{
		src:       src,
		keys:      DefaultKeyMap(),
		downloads: components.NewDownloadList(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(LoadStatusCmd(m.src), TickCmd(RefreshInterval))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.downloads.SetWidth(msg.Width - 4)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		return m, tea.Batch(LoadStatusCmd(m.src), TickCmd(RefreshInterval))

	case StatusMsg:
		m.status = msg.Status
		m.loaded = true
		m.downloads.SetTasks(msg.Status.Downloads)
		return m, nil

	case SyncProgressMsg:
		m.syncState = m.syncState.Apply(msg.Progress)
		return m, WaitForProgressCmd(m.progress)

	case SyncDoneMsg:
		m.syncing = false
		if msg.Err != nil {
			m.setStatus("sync: "+msg.Err.Error(), true)
		} else {
			m.setStatus(fmt.Sprintf("synced %d items, %d courses", msg.Delivered, msg.Courses), false)
		}
		return m, tea.Batch(LoadStatusCmd(m.src), ClearStatusCmd(5*time.Second))

	case ActionDoneMsg:
		m.setStatus(msg.Message, false)
		return m, tea.Batch(LoadStatusCmd(m.src), ClearStatusCmd(3*time.Second))

	case ErrMsg:
		m.setStatus(msg.Error(), true)
		return m, tea.Batch(LoadStatusCmd(m.src), ClearStatusCmd(5*time.Second))

	case ClearStatusMsg:
		m.statusLine = ""
		m.statusErr = false
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.downloads.MoveUp()

	case key.Matches(msg, m.keys.Down):
		m.downloads.MoveDown()

	case key.Matches(msg, m.keys.Sync):
		if m.syncing {
			return m, nil
		}
		m.syncing = true
		m.syncState = components.SyncState{Status: components.StatusSyncing}
		m.progress = make(chan domain.SyncProgress, 16)
		return m, tea.Batch(SyncCmd(m.src, m.progress), WaitForProgressCmd(m.progress))

	case key.Matches(msg, m.keys.Retry):
		task, ok := m.downloads.Selected()
		if !ok {
			return m, nil
		}
		if task.Status != domain.DownloadFailed {
			m.setStatus("only failed downloads can be retried", true)
			return m, ClearStatusCmd(3 * time.Second)
		}
		m.setStatus("retrying "+task.Name, false)
		return m, RetryDownloadCmd(m.src, task.ID, task.Name)

	case key.Matches(msg, m.keys.Remove):
		task, ok := m.downloads.Selected()
		if !ok {
			return m, nil
		}
		return m, RemoveDownloadCmd(m.src, task.ID, task.Name)
	}
	return m, nil
}

func (m *Model) setStatus(s string, isErr bool) {
	m.statusLine = s
	m.statusErr = isErr
}

func (m Model) View() string {
	if !m.loaded {
		return styles.DimStyle.Render("loading…")
	}

	width := m.width
	if width <= 0 {
		width = 80
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		styles.TitleStyle.Render("satchel"), "  ", onlineBadge(m.status.Online))

	sections := []string{
		header,
		styles.PanelBorder.Width(width - 2).Render(renderPending(m.status)),
		styles.PanelBorder.Width(width - 2).Render(renderCache(m.status)),
		styles.ActivePanelBorder.Width(width - 2).Render(
			styles.SubtitleStyle.Render("Downloads") + "\n" + m.downloads.View()),
	}

	if m.syncing || m.syncState.Status != components.StatusIdle {
		label := m.syncState.Label()
		if m.syncState.Status == components.StatusSyncing && m.syncState.Total > 0 {
			label += fmt.Sprintf(" (%.0f%%)", m.syncState.Percent()*100)
		}
		sections = append(sections, styles.AccentStyle.Render(label))
	}
	if m.statusLine != "" {
		style := styles.SuccessStyle
		if m.statusErr {
			style = styles.ErrorStyle
		}
		sections = append(sections, style.Render(m.statusLine))
	}
	sections = append(sections, m.helpView())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) helpView() string {
	parts := make([]string, 0, len(m.keys.ShortHelp()))
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, styles.HelpKeyStyle.Render(h.Key)+" "+styles.HelpDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

func onlineBadge(online bool) string {
	if online {
		return styles.OnlineBadge.Render("online")
	}
	return styles.OfflineBadge.Render("offline")
}

func renderPending(st service.Status) string {
	var b strings.Builder
	b.WriteString(styles.SubtitleStyle.Render(fmt.Sprintf("Waiting to sync: %d", st.Waiting())))

	kinds := make([]string, 0, len(st.Pending))
	for k := range st.Pending {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, "\n  %-22s %d", k, st.Pending[domain.ActionKind(k)])
	}

	legacy := make([]string, 0, len(st.Legacy))
	for k := range st.Legacy {
		legacy = append(legacy, k)
	}
	sort.Strings(legacy)
	for _, k := range legacy {
		fmt.Fprintf(&b, "\n  %-22s %d", k, st.Legacy[k])
	}

	if st.Submissions > 0 {
		fmt.Fprintf(&b, "\n  %-22s %d", "submissions", st.Submissions)
	}
	if st.UnsyncedCompletions > 0 {
		fmt.Fprintf(&b, "\n  %-22s %d", "module completions", st.UnsyncedCompletions)
	}
	return b.String()
}

func renderCache(st service.Status) string {
	synced := "never"
	if !st.SyncedAt.IsZero() {
		synced = st.SyncedAt.Local().Format("2006-01-02 15:04")
	}
	out := fmt.Sprintf("%s\n  modules   %d cached, %d completed, %s\n  courses   %d, %d archives (last sync %s)\n  proxy     %d cached responses",
		styles.SubtitleStyle.Render("Cache"),
		st.Modules, st.CompletedModules, domain.FormatBytes(st.StorageBytes),
		st.Courses, st.Archives, synced, st.CachedResponses)
	if !st.NextSync.IsZero() {
		out += "\n  next sync " + st.NextSync.Local().Format("15:04:05")
	}
	return out
}
