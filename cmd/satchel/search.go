package main

import (
	"strings"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/search"
	"github.com/estrateji/satchel/internal/tui/styles"
	"github.com/spf13/cobra"
)

var (
	searchTypes   []string
	searchCourse  string
	searchCourses bool
)

func init() {
	searchCmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "limit to resource types")
	searchCmd.Flags().StringVar(&searchCourse, "course", "", "course id or title")
	searchCmd.Flags().BoolVar(&searchCourses, "courses", false, "match course titles instead of resources")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Fuzzy search the cached courses",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		query := strings.Join(args, " ")
		out := cmd.OutOrStdout()

		if searchCourses {
			var rows [][]string
			for _, snap := range a.engine.Search.Courses(query) {
				rows = append(rows, []string{snap.CourseID, snap.Title})
			}
			printTable(out, "no matching courses", []string{"id", "title"}, rows)
			return nil
		}

		opts := search.Options{Course: searchCourse}
		for _, t := range searchTypes {
			opts.Types = append(opts.Types, domain.ResourceType(t))
		}
		var rows [][]string
		for _, r := range a.engine.Search.Search(query, opts) {
			rows = append(rows, []string{string(r.Resource.Type), highlight(r.Resource.Title, r.MatchedIndexes), r.CourseTitle, r.Resource.ID})
		}
		printTable(out, "no matches", []string{"type", "title", "course", "id"}, rows)
		return nil
	}),
}

// highlight renders the matched byte offsets in the accent color
func highlight(s string, idx []int) string {
	if len(idx) == 0 {
		return s
	}
	matched := make(map[int]bool, len(idx))
	for _, i := range idx {
		matched[i] = true
	}
	var b strings.Builder
	for i, r := range s {
		if matched[i] {
			b.WriteString(styles.AccentStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
