package components

import (
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/tui/styles"
)

// DownloadList renders download tasks with progress bars and a cursor
type DownloadList struct {
	tasks  []domain.DownloadTask
	cursor int
	width  int
	bar    progress.Model
}

func NewDownloadList() *DownloadList {
	return &DownloadList{
		bar:   progress.New(progress.WithSolidFill(string(styles.Amber)), progress.WithWidth(20)),
		width: 60,
	}
}

// SetTasks replaces the tasks, keeping the cursor on the same task when possible
func (l *DownloadList) SetTasks(tasks []domain.DownloadTask) {
	var selected string
	if t, ok := l.Selected(); ok {
		selected = t.ID
	}
	l.tasks = tasks
	l.cursor = 0
	for i, t := range tasks {
		if t.ID == selected {
			l.cursor = i
			break
		}
	}
}

func (l *DownloadList) SetWidth(w int) {
	l.width = w
	l.bar.Width = max(w/3, 10)
}

func (l *DownloadList) Selected() (domain.DownloadTask, bool) {
	if l.cursor < 0 || l.cursor >= len(l.tasks) {
		return domain.DownloadTask{}, false
	}
	return l.tasks[l.cursor], true
}

func (l *DownloadList) MoveUp() {
	if l.cursor > 0 {
		l.cursor--
	}
}

func (l *DownloadList) MoveDown() {
	if l.cursor < len(l.tasks)-1 {
		l.cursor++
	}
}

func (l *DownloadList) Len() int { return len(l.tasks) }

func (l *DownloadList) View() string {
	if len(l.tasks) == 0 {
		return styles.DimStyle.Render("no downloads")
	}

	nameWidth := max(l.width-l.bar.Width-12, 10)
	var b strings.Builder
	for i, t := range l.tasks {
		row := statusIcon(t.Status) + " " +
			styles.Pad(styles.Truncate(t.Name, nameWidth), nameWidth) + " " +
			l.bar.ViewAs(float64(t.Progress)/100)
		if t.Status == domain.DownloadFailed && t.Error != "" {
			row += " " + styles.ErrorStyle.Render(styles.Truncate(t.Error, 30))
		}

		if i == l.cursor {
			b.WriteString(styles.SelectedItemStyle.Render(row))
		} else {
			b.WriteString(styles.NormalItemStyle.Render(row))
		}
		if i < len(l.tasks)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func statusIcon(s domain.DownloadStatus) string {
	switch s {
	case domain.DownloadCompleted:
		return styles.CompletedCheck
	case domain.DownloadFailed:
		return styles.FailedCross
	default:
		return styles.PendingDot
	}
}
