package main

import (
	"fmt"
	"sort"

	"github.com/estrateji/satchel/internal/syncer"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay pending writes and refresh course snapshots now",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		out := cmd.OutOrStdout()
		report, result, err := a.engine.SyncNow(cmd.Context(), progressPrinter{w: out})
		if report.Skipped {
			fmt.Fprintln(out, "offline: nothing was sent")
			return err
		}
		printReport(cmd, report)
		fmt.Fprintf(out, "courses: %d synced, %d failed\n", result.Courses, result.Failed)
		return err
	}),
}

func printReport(cmd *cobra.Command, r syncer.Report) {
	rows := [][]string{
		{"queue", fmt.Sprint(r.Queue.Delivered), fmt.Sprint(r.Queue.Failed), fmt.Sprint(r.Queue.Dropped), fmt.Sprint(r.Queue.Deferred)},
		stageRow("completions", r.Completions),
	}
	names := make([]string, 0, len(r.Legacy))
	for name := range r.Legacy {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows = append(rows, stageRow(name, r.Legacy[name]))
	}
	printTable(cmd.OutOrStdout(), "", []string{"stage", "delivered", "failed", "dropped", "deferred"}, rows)
}

func stageRow(name string, s syncer.StageReport) []string {
	return []string{name, fmt.Sprint(s.Delivered), fmt.Sprint(s.Failed), fmt.Sprint(s.Dropped), "-"}
}
