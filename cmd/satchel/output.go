package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/tui/styles"
)

// printTable renders rows under headers, or a dim note when there are none
func printTable(w io.Writer, empty string, headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, styles.DimStyle.Render(empty))
		return
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.DimGray)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Foreground(styles.Amber).Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.Render())
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// formatPosition renders a resume position in seconds as m:ss
func formatPosition(sec float64) string {
	if sec <= 0 {
		return "-"
	}
	d := time.Duration(sec * float64(time.Second)).Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// progressPrinter prints one line per synced course
type progressPrinter struct {
	w io.Writer
}

func (p progressPrinter) OnProgress(pr domain.SyncProgress) {
	switch {
	case pr.Error != nil:
		fmt.Fprintf(p.w, "%s %s: %v\n", styles.FailedCross, pr.Title, pr.Error)
	case pr.CourseID != "":
		fmt.Fprintf(p.w, "%s [%d/%d] %s (%d books, %d downloaded)\n",
			styles.CompletedCheck, pr.Loaded, pr.Total, pr.Title, pr.Books, pr.Blobs)
	}
}
