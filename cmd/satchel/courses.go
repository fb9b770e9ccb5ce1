package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/spf13/cobra"
)

var (
	resourceType string
	outputPath   string
)

func init() {
	coursesResourcesCmd.Flags().StringVarP(&resourceType, "type", "t", "", "book, lecture, exercise or quiz")
	coursesBookCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write to this file instead of stdout")
	coursesArchiveCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write to this file instead of stdout")
	coursesCmd.AddCommand(coursesSyncCmd, coursesListCmd, coursesResourcesCmd, coursesBookCmd,
		coursesDownloadCmd, coursesArchiveCmd, coursesRemoveCmd)
	rootCmd.AddCommand(coursesCmd)
}

var coursesCmd = &cobra.Command{
	Use:   "courses",
	Short: "Manage cached course snapshots",
}

var coursesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Snapshot every course the user is enrolled in",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		if !a.engine.Online(cmd.Context()) {
			return domain.ErrServerOffline
		}
		res, err := a.engine.Snapshots.SyncAllUserCourses(cmd.Context(), progressPrinter{w: cmd.OutOrStdout()})
		fmt.Fprintf(cmd.OutOrStdout(), "%d courses, %d books (%d downloaded), %d failed\n",
			res.Courses, res.Books, res.Blobs, res.Failed)
		return err
	}),
}

var coursesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached courses",
	RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
		var rows [][]string
		for _, snap := range a.engine.Courses.All() {
			row := []string{snap.CourseID, snap.Title}
			for _, t := range domain.ResourceTypes {
				row = append(row, fmt.Sprint(len(snap.ResourcesOf(t))))
			}
			rows = append(rows, append(row, formatTime(&snap.SyncedAt)))
		}
		printTable(cmd.OutOrStdout(), "no cached courses",
			[]string{"id", "title", "books", "lectures", "exercises", "quizzes", "synced"}, rows)
		return nil
	}),
}

var coursesResourcesCmd = &cobra.Command{
	Use:   "resources <course-id>",
	Short: "List the cached resources of a course",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if _, ok := a.engine.Courses.Get(args[0]); !ok {
			return fmt.Errorf("course %s: %w", args[0], domain.ErrNotFound)
		}
		var rows [][]string
		for _, r := range a.engine.Courses.Resources(args[0], resourceType) {
			offline := ""
			if r.BlobSize > 0 {
				offline = domain.FormatBytes(r.BlobSize)
			}
			rows = append(rows, []string{string(r.Type), r.ID, r.Title, r.FileType, offline})
		}
		printTable(cmd.OutOrStdout(), "no resources",
			[]string{"type", "id", "title", "file", "offline"}, rows)
		return nil
	}),
}

var coursesRemoveCmd = &cobra.Command{
	Use:   "remove <course-id>",
	Short: "Drop a course snapshot, its book payloads and its archive",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(_ *cobra.Command, a *app, args []string) error {
		return errors.Join(a.engine.Snapshots.Remove(args[0]), a.engine.Archives.Remove(args[0]))
	}),
}

var coursesBookCmd = &cobra.Command{
	Use:   "book <course-id> <book-id>",
	Short: "Write a cached book payload",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		data, ok := a.engine.Courses.Blob(args[0], args[1])
		if !ok {
			return fmt.Errorf("book %s/%s: %w", args[0], args[1], domain.ErrNotFound)
		}
		return writeOutput(cmd, data)
	}),
}

var coursesDownloadCmd = &cobra.Command{
	Use:   "download <course-id>",
	Short: "Download a course's offline archive",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		name := args[0]
		if snap, ok := a.engine.Courses.Get(args[0]); ok && snap.Title != "" {
			name = snap.Title
		}
		task, err := a.engine.Prefetcher.DownloadCourse(cmd.Context(), args[0], name)
		if err != nil {
			return err
		}
		size, _ := a.engine.Archives.Size(args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", task.Name, task.Status, domain.FormatBytes(size))
		return nil
	}),
}

var coursesArchiveCmd = &cobra.Command{
	Use:   "archive <course-id>",
	Short: "Write a downloaded course archive",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		data, ok := a.engine.Archives.Get(args[0])
		if !ok {
			return fmt.Errorf("archive %s: %w", args[0], domain.ErrNotFound)
		}
		return writeOutput(cmd, data)
	}),
}

func writeOutput(cmd *cobra.Command, data []byte) error {
	if outputPath == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}
