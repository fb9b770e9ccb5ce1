package main

import (
	"fmt"
	"io"
	"os"

	"github.com/estrateji/satchel/internal/actionqueue"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/spf13/cobra"
)

func init() {
	queueCmd.AddCommand(queueAddCmd, queueListCmd, queueRetryCmd, queueRemoveCmd, queueClearCmd)
	rootCmd.AddCommand(queueCmd)
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and replay writes made while offline",
}

var queueAddCmd = &cobra.Command{
	Use:   "add <type> <json|->",
	Short: "Queue a write for delivery (message, exercise_submission, book, lecture, exercise, quiz, sync)",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		payload := []byte(args[1])
		if args[1] == "-" {
			var err error
			if payload, err = io.ReadAll(os.Stdin); err != nil {
				return fmt.Errorf("failed to read stdin: %w", err)
			}
		}
		action, err := actionqueue.ParseAction(domain.ActionKind(args[0]), payload)
		if err != nil {
			return err
		}
		id, err := a.engine.Queue.Add(action)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}),
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued writes",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		var rows [][]string
		for _, item := range a.engine.Queue.Items() {
			next := "now"
			if !item.NextAttemptAt.IsZero() {
				next = formatTime(&item.NextAttemptAt)
			}
			rows = append(rows, []string{
				item.ID, string(item.Action.Kind()), item.Action.Endpoint(),
				formatTime(&item.CreatedAt), fmt.Sprint(item.RetryCount), next, item.LastError,
			})
		}
		printTable(cmd.OutOrStdout(), "queue is empty",
			[]string{"id", "type", "endpoint", "queued", "retries", "next", "last error"}, rows)

		for name, n := range a.engine.Sync.LegacyCount() {
			if n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d waiting\n", name, n)
			}
		}
		if n := a.engine.Boundary.PendingSubmissions(); n > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "submissions: %d waiting\n", n)
		}
		return nil
	}),
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Try to deliver every due write now",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		a.engine.Online(cmd.Context())
		res, err := a.engine.Queue.Retry(cmd.Context())
		if res.Skipped {
			fmt.Fprintln(cmd.OutOrStdout(), "offline: nothing was sent")
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered %d, failed %d, dropped %d, deferred %d\n",
			res.Delivered, res.Failed, res.Dropped, res.Deferred)
		return err
	}),
}

var queueRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Discard one queued write",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		return a.engine.Queue.Remove(args[0])
	}),
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard every queued write",
	RunE: withApp(func(_ *cobra.Command, a *app, _ []string) error {
		return a.engine.Queue.Clear()
	}),
}
