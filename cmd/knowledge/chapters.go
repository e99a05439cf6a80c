package main

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bull/narrative-knowledge/internal/projects"
)

func newChaptersCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "Search and summarise chapters in the projects file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "search <query>",
		Short: "Find chapters by meaning and by text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			chapters, err := c.app.Projects.SearchChapters(cmd.Context(), query, c.app.Service, c.app.Logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(chapters) == 0 {
				fmt.Fprintf(out, "No chapters found for: '%s'\n", query)
				return nil
			}
			for _, ch := range chapters {
				fmt.Fprintf(out, "Act %d, Block %d, Chapter %d: %s [%s]\n",
					ch.ActNumber, ch.BlockNumber, ch.ChapterNumber, ch.Title, cmp.Or(ch.Status, projects.DefaultChapterStatus))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count chapters by status, story and act",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.app.Projects.ChapterStatistics(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Chapters: %d\n", stats.Total)
			printCounts(out, "By status", stats.ByStatus)
			printCounts(out, "By story", stats.ByStory)
			printCounts(out, "By act", stats.ByAct)
			return nil
		},
	})
	return cmd
}

func printCounts(out io.Writer, heading string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(out, "%s:\n", heading)
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(out, "  %s: %d\n", key, counts[key])
	}
}
