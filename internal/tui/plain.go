package tui

import (
	"fmt"
	"io"
	"sort"

	"github.com/estrateji/satchel/internal/service"
)

// WritePlain prints the status without styling, for pipes and non-TTY output
func WritePlain(w io.Writer, st service.Status) error {
	state := "offline"
	if st.Online {
		state = "online"
	}
	lines := []string{
		fmt.Sprintf("state: %s", state),
		fmt.Sprintf("waiting: %d", st.Waiting()),
	}

	kinds := make([]string, 0, len(st.Pending))
	for k, n := range st.Pending {
		kinds = append(kinds, fmt.Sprintf("  queue %s: %d", k, n))
	}
	for k, n := range st.Legacy {
		kinds = append(kinds, fmt.Sprintf("  legacy %s: %d", k, n))
	}
	sort.Strings(kinds)
	lines = append(lines, kinds...)
	lines = append(lines,
		fmt.Sprintf("  submissions: %d", st.Submissions),
		fmt.Sprintf("  completions: %d", st.UnsyncedCompletions),
		fmt.Sprintf("modules: %d cached, %d completed, %d bytes", st.Modules, st.CompletedModules, st.StorageBytes),
		fmt.Sprintf("courses: %d (%d archives)", st.Courses, st.Archives),
		fmt.Sprintf("cached responses: %d", st.CachedResponses),
	)
	if !st.SyncedAt.IsZero() {
		lines = append(lines, "last sync: "+st.SyncedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	if !st.NextSync.IsZero() {
		lines = append(lines, "next sync: "+st.NextSync.Format("2006-01-02T15:04:05Z07:00"))
	}
	for _, d := range st.Downloads {
		lines = append(lines, fmt.Sprintf("download %s %s %d%% %s", d.ID, d.Status, d.Progress, d.Name))
	}

	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
