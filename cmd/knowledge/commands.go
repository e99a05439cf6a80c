package main

import (
	"fmt"
	"io"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/narrative-knowledge/internal/assistant"
	"github.com/bull/narrative-knowledge/internal/indexer"
	"github.com/bull/narrative-knowledge/internal/retrieval"
	"github.com/bull/narrative-knowledge/internal/storage"
)

func newAddCmd(c *cli) *cobra.Command {
	var contentType, title string
	cmd := &cobra.Command{
		Use:   "add <content-id> [text]",
		Short: "Index one content item, replacing any earlier version",
		Long: `Indexes text under a content id. The text is read from stdin when
omitted or given as "-".`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(storage.ContentTypes, contentType) {
				return fmt.Errorf("unknown content type %q (want one of %s)", contentType, strings.Join(storage.ContentTypes, ", "))
			}
			text, err := textArg(cmd, args[1:])
			if err != nil {
				return err
			}
			if err := c.app.Service.AddContent(cmd.Context(), text, contentType, args[0], title); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s %s\n", contentType, args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&contentType, "type", "t", storage.TypeStory, "content type")
	cmd.Flags().StringVar(&title, "title", "", "display title")
	return cmd
}

func textArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 && args[0] != "-" {
		return args[0], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(data), nil
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <content-id>",
		Short: "Remove every chunk of a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.app.Service.RemoveContent(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newSearchCmd(c *cli) *cobra.Command {
	var k int
	var contentType string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			results, err := c.app.Service.Search(cmd.Context(), query, k, contentType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.FormatResults(query, results))
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", retrieval.DefaultSearchK, "number of results")
	cmd.Flags().StringVarP(&contentType, "type", "t", "", "restrict to one content type")
	return cmd
}

func newContextCmd(c *cli) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "context <content-id> <query>",
		Short: "Find related material, excluding the given content item",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args[1:], " ")
			results, err := c.app.Service.GetContextForContent(cmd.Context(), args[0], query, k)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.FormatResults(query, results))
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", retrieval.DefaultContextK, "number of results")
	return cmd
}

func newEnhanceCmd(c *cli) *cobra.Command {
	var contentType string
	cmd := &cobra.Command{
		Use:   "enhance <query>",
		Short: "Show background excerpts for a piece of writing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentType != "" && !slices.Contains(storage.ContentTypes, contentType) {
				return fmt.Errorf("unknown content type %q", contentType)
			}
			text, err := c.app.Service.GetEnhancedContext(cmd.Context(), strings.Join(args, " "), contentType)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&contentType, "type", "t", "", "restrict to one content type")
	return cmd
}

func newWritingCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "writing <context-type> <text>",
		Short: "Show context that supports a passage",
		Long: "Context types: " + strings.Join(assistant.WritingContextTypes(), ", ") + `.
Unknown types fall back to stories.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := c.app.Assistant.GetContextForWriting(cmd.Context(), strings.Join(args[1:], " "), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newRebuildCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-index every item in the projects file",
		Long: `Replaces the index with the current contents of the projects file.

If the rebuild fails the previous index stays searchable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rebuilding %s index from %s...\n", c.app.Service.Backend().Name(), c.app.Projects.Path())

			stats, err := c.app.Pipeline.Rebuild(cmd.Context())
			if err != nil {
				return fmt.Errorf("Rebuild failed: %w", err)
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Rebuild complete!")
			fmt.Fprintf(out, "  Documents: %d\n", stats.Documents)
			fmt.Fprintf(out, "  Chunks: %d\n", stats.Chunks)
			fmt.Fprintf(out, "  Removed: %d\n", stats.Removed)
			for _, t := range storage.ContentTypes {
				if n := stats.ByType[t]; n > 0 {
					fmt.Fprintf(out, "    %s: %d\n", t, n)
				}
			}
			fmt.Fprintf(out, "  Duration: %s\n", stats.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newSyncCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index only what changed in the projects file since the last sync",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.app.Pipeline.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("Sync failed: %w", err)
			}
			printSync(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

func printSync(out io.Writer, result *indexer.SyncResult) {
	fmt.Fprintln(out, "Sync complete!")
	fmt.Fprintf(out, "  Items: %d\n", result.Total)
	fmt.Fprintf(out, "  Added: %d, Updated: %d, Removed: %d, Unchanged: %d\n",
		result.Added, result.Updated, result.Removed, result.Unchanged)
	fmt.Fprintf(out, "  Duration: %s\n", result.Duration.Round(time.Millisecond))

	if len(result.FailedDocs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Failed items:")
		for _, failed := range result.FailedDocs {
			fmt.Fprintf(out, "  - %s: %s\n", failed.ContentID, failed.Reason)
		}
	}
}

func newWatchCmd(c *cli) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync whenever the projects file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			out := cmd.OutOrStdout()
			result, err := c.app.Pipeline.Sync(ctx)
			if err != nil {
				return fmt.Errorf("Initial sync failed: %w", err)
			}
			printSync(out, result)

			path := c.app.Projects.Path()
			fmt.Fprintf(out, "\nWatching %s (Ctrl+C to stop)...\n", path)
			return c.app.Pipeline.Watch(ctx, path, debounce, func(result *indexer.SyncResult, err error) {
				if err != nil {
					fmt.Fprintf(out, "Sync failed: %v\n", err)
					return
				}
				if result.Changed() || len(result.FailedDocs) > 0 {
					printSync(out, result)
				}
			})
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", indexer.DefaultDebounce, "quiet period before syncing")
	return cmd
}

func newAskCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <input>",
		Short: "Ask the writing assistant",
		Long:  assistant.Help(),
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := c.app.Assistant.Process(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the index currently holds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.app.Service.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", stats.Backend)
			for _, t := range storage.ContentTypes {
				fmt.Fprintf(out, "  %s: %d\n", t, stats.Counts[t])
			}
			fmt.Fprintf(out, "  Total: %d\n", stats.Total)
			if err := c.app.Service.Health(cmd.Context()); err != nil {
				fmt.Fprintf(out, "Health: unhealthy (%v)\n", err)
			} else {
				fmt.Fprintln(out, "Health: ok")
			}
			return nil
		},
	}
}
