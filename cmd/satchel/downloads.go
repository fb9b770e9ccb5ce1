package main

import (
	"fmt"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/spf13/cobra"
)

func init() {
	downloadsCmd.AddCommand(downloadsListCmd, downloadsRetryCmd, downloadsRemoveCmd, downloadsPruneCmd)
	rootCmd.AddCommand(downloadsCmd)
}

var downloadsCmd = &cobra.Command{
	Use:   "downloads",
	Short: "Inspect tracked video downloads",
}

var downloadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List download tasks",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		var rows [][]string
		for _, t := range a.engine.Downloads.List() {
			rows = append(rows, []string{t.ID, t.Name, string(t.Status), fmt.Sprintf("%d%%", t.Progress), formatTime(t.CompletedAt), t.Error})
		}
		printTable(cmd.OutOrStdout(), "no downloads",
			[]string{"id", "name", "status", "progress", "completed", "error"}, rows)
		return nil
	}),
}

var downloadsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Re-run a failed download",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if !a.engine.Online(cmd.Context()) {
			return domain.ErrServerOffline
		}
		return a.engine.RetryDownload(cmd.Context(), args[0])
	}),
}

var downloadsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Forget a download task",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		return a.engine.RemoveDownload(args[0])
	}),
}

var downloadsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Forget completed downloads older than the retention window",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		n, err := a.engine.Downloads.PruneCompleted(a.cfg.Sync.DownloadRetention)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d downloads\n", n)
		return nil
	}),
}
