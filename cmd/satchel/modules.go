package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/spf13/cobra"
)

var (
	prefetchCourse string
	prefetchLimit  int
)

func init() {
	modulesPrefetchCmd.Flags().StringVar(&prefetchCourse, "course", "", "course the modules belong to")
	modulesPrefetchCmd.Flags().IntVarP(&prefetchLimit, "limit", "n", 0, "modules to download (default from config)")
	modulesCmd.AddCommand(modulesListCmd, modulesStatusCmd, modulesPrefetchCmd, modulesSaveCmd, modulesCompleteCmd,
		modulesUncompleteCmd, modulesProgressCmd, modulesRemoveCmd, modulesCleanupCmd, modulesClearCmd)
	rootCmd.AddCommand(modulesCmd)
}

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "Manage cached modules and their videos",
}

var modulesListCmd = &cobra.Command{
	Use:   "list [course-id]",
	Short: "List cached modules",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		mods := a.engine.Modules.GetAllMeta()
		if len(args) == 1 {
			mods = a.engine.Modules.GetCourseModules(args[0])
		}
		var rows [][]string
		for _, m := range mods {
			video := "-"
			if m.BlobSize > 0 {
				video = domain.FormatBytes(m.BlobSize)
			}
			done := ""
			if a.engine.Modules.IsCompleted(m.ID) {
				done = "✓"
			}
			rows = append(rows, []string{m.ID, m.CourseID, strconv.Itoa(m.Order), m.Title, video,
				formatPosition(a.engine.Modules.GetProgress(m.ID)), done, formatTime(m.LastSyncedAt)})
		}
		printTable(cmd.OutOrStdout(), "no cached modules",
			[]string{"id", "course", "order", "title", "video", "position", "done", "synced"}, rows)
		return nil
	}),
}

var modulesStatusCmd = &cobra.Command{
	Use:   "status [course-id]",
	Short: "Show each cached module's state within its course",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		courses := args
		if len(courses) == 0 {
			courses = a.engine.Modules.CourseIDs()
		}
		var rows [][]string
		for _, courseID := range courses {
			for _, line := range a.engine.Outline(courseID) {
				next := ""
				if line.Next {
					next = "→"
				}
				rows = append(rows, []string{courseID, strconv.Itoa(line.Module.Order), line.Module.ID,
					line.Module.Title, string(line.Status), formatPosition(line.Progress), next})
			}
		}
		printTable(cmd.OutOrStdout(), "no cached modules",
			[]string{"course", "order", "id", "title", "status", "position", "next"}, rows)
		return nil
	}),
}

var modulesPrefetchCmd = &cobra.Command{
	Use:   "prefetch <module-id>...",
	Short: "Download videos for modules not cached yet",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if !a.engine.Online(cmd.Context()) {
			return domain.ErrServerOffline
		}
		refs := make([]domain.ModuleRef, len(args))
		for i, id := range args {
			refs[i] = domain.ModuleRef{ID: id, CourseID: prefetchCourse, Order: i}
		}
		limit := prefetchLimit
		if limit <= 0 {
			limit = a.cfg.Prefetch.Limit
		}
		res, err := a.engine.Prefetcher.PrefetchModules(cmd.Context(), refs, limit)
		fmt.Fprintf(cmd.OutOrStdout(), "downloaded %d, already cached %d, no video %d, failed %d\n",
			res.Downloaded, res.Cached, res.NoVideo, res.Failed)
		return err
	}),
}

var modulesSaveCmd = &cobra.Command{
	Use:   "save <module-id> [video-url]",
	Short: "Keep one module offline, video included when it fits",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		if !a.engine.Online(ctx) {
			return domain.ErrServerOffline
		}
		mod, err := a.engine.Client.GetModule(ctx, args[0])
		if err != nil {
			return err
		}
		videoURL := ""
		if len(args) == 2 {
			videoURL = args[1]
		}
		err = a.engine.Prefetcher.SaveModuleToOffline(ctx, args[0], videoURL, mod)
		if errors.Is(err, domain.ErrBlobTooLarge) {
			fmt.Fprintln(cmd.OutOrStdout(), "saved module details; the video is too large to keep offline")
			return nil
		}
		return err
	}),
}

var modulesCompleteCmd = &cobra.Command{
	Use:   "complete <module-id>",
	Short: "Mark a module completed (sent on the next sync)",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		return a.engine.Modules.MarkCompleted(args[0])
	}),
}

var modulesUncompleteCmd = &cobra.Command{
	Use:   "uncomplete <module-id>",
	Short: "Drop a module's completion marker",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		return a.engine.Modules.RemoveCompletion(args[0])
	}),
}

var modulesProgressCmd = &cobra.Command{
	Use:   "progress <module-id> <seconds>",
	Short: "Record the resume position of a module",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		pos, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[1], err)
		}
		return a.engine.Modules.SaveProgress(args[0], pos)
	}),
}

var modulesRemoveCmd = &cobra.Command{
	Use:   "remove <module-id>",
	Short: "Evict a module and its video",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		return a.engine.Modules.Remove(args[0])
	}),
}

var modulesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict modules past their time to live",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		ids, err := a.engine.Modules.CleanupExpiredModules()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "evicted %d modules\n", len(ids))
		return nil
	}),
}

var modulesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Evict every cached module",
	RunE: withApp(func(_ *cobra.Command, a *app, _ []string) error {
		return a.engine.Modules.ClearAll()
	}),
}
