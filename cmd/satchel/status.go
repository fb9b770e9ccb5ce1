package main

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/estrateji/satchel/internal/tui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var plain bool

func init() {
	statusCmd.Flags().BoolVar(&plain, "plain", false, "print once instead of opening the dashboard")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what is cached and what is waiting to sync",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		a.engine.Online(cmd.Context())

		if plain || !term.IsTerminal(int(os.Stdout.Fd())) {
			return tui.WritePlain(cmd.OutOrStdout(), a.engine.Status())
		}

		// the dashboard holds the store lock, so it keeps the background jobs running too
		if err := a.engine.RegisterTasks(); err != nil {
			return err
		}
		a.engine.Scheduler.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.engine.Scheduler.Stop(ctx); err != nil {
				a.logger.Warn("scheduler did not stop cleanly", "error", err)
			}
		}()

		p := tea.NewProgram(tui.NewModel(a.engine), tea.WithAltScreen())

		a.logger.Info("starting TUI")
		if _, err := p.Run(); err != nil {
			a.logger.Error("TUI error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	}),
}
