// Command gitwebd indexes a directory of bare git repositories and serves
// their metadata and content to the web viewer.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmgilman/gitweb/errors"
	"github.com/jmgilman/gitweb/render"
	"github.com/jmgilman/gitweb/schedule"
)

var version = "0.1.0-dev"

type rootFlags struct {
	config   string
	logLevel string
	json     bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "gitwebd",
		Short:         "Index and browse bare git repositories",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "Path to a TOML or YAML config file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&flags.json, "json", false, "Print machine-readable output")

	rootCmd.AddCommand(
		newRunCmd(flags),
		newIndexCmd(flags),
		newReposCmd(flags),
		newRefsCmd(flags),
		newLogCmd(flags),
		newShowCmd(flags),
		newTreeCmd(flags),
		newCatCmd(flags),
		newReadmeCmd(flags),
		newArchiveCmd(flags),
		newStylesheetCmd(),
	)
	return rootCmd
}

// withApp builds the shared components for a read-only command and closes
// them when it returns.
func withApp(flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	return runApp(flags, false, fn)
}

// withWritableApp is withApp for commands that update the index.
func withWritableApp(flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	return runApp(flags, true, fn)
}

func runApp(flags *rootFlags, writable bool, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(flags.config, flags.logLevel, writable)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Error("close store", "error", cerr)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return fn(ctx, a)
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Discover and index repositories until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWritableApp(flags, func(ctx context.Context, a *app) error {
				var opts []schedule.Option
				var watcher *schedule.Watcher
				var sched *schedule.Scheduler

				if a.cfg.Watch {
					w, err := schedule.NewWatcher(a.cfg.ScanRoot, func() { sched.Trigger() },
						schedule.WithWatcherLogger(a.logger))
					if err != nil {
						return err
					}
					defer w.Close()
					watcher = w
					opts = append(opts, schedule.WithWatcher(w))
				}

				sched = a.scheduler(opts...)
				a.logger.Info("starting",
					"scan_root", a.cfg.ScanRoot,
					"db_path", a.cfg.DBPath,
					"interval", a.cfg.Interval.Std(),
					"workers", a.cfg.Workers,
					"watch", a.cfg.Watch,
				)

				stop := sched.Start(ctx)
				defer stop()

				if watcher != nil {
					go func() {
						if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
							a.logger.Error("watcher stopped", "error", err)
						}
					}()
				}

				<-ctx.Done()
				a.logger.Info("shutting down", "cycles", sched.Cycles())
				return nil
			})
		},
	}
}

func newIndexCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Run a single discovery and index cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withWritableApp(flags, func(ctx context.Context, a *app) error {
				stats, err := a.scheduler().RunCycle(ctx)
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd.OutOrStdout(), stats)
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"found %d (+%d -%d), indexed %d, changed %d, failed %d, skipped %d in %s\n",
					stats.Found, stats.Added, stats.Removed, stats.Indexed,
					stats.Changed, stats.Failed, stats.Skipped, stats.Duration.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newReposCmd(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List indexed repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				page, err := a.service().ListRepositories(ctx, cursor, limit)
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd.OutOrStdout(), page)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "PATH\tBRANCH\tGEN\tDESCRIPTION")
				for _, r := range page.Items {
					p := r.Path
					if p == "" {
						p = "."
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", p, r.DefaultBranch, r.Generation, r.Description)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				printNext(cmd.ErrOrStderr(), page.Next)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of repositories")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous page")
	return cmd
}

func newRefsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refs <repo>",
		Short: "List branches and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				refs, err := a.service().ListRefs(ctx, repoArg(args[0]))
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd.OutOrStdout(), refs)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, r := range refs.Branches {
					fmt.Fprintf(w, "branch\t%s\t%s\n", r.Name, r.Commit.Short())
				}
				for _, r := range refs.Tags {
					fmt.Fprintf(w, "tag\t%s\t%s\t%s\n", r.Name, r.Commit.Short(), r.Time.Format("2006-01-02"))
				}
				return w.Flush()
			})
		},
	}
}

func newLogCmd(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "log <repo> [ref]",
		Short: "List commits reachable from a branch, tag or commit, newest first",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				page, err := a.service().ListCommits(ctx, repoArg(args[0]), optionalArg(args, 1), cursor, limit)
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd.OutOrStdout(), page)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, c := range page.Items {
					summary, _, _ := strings.Cut(c.Message, "\n")
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						c.ID.Short(), c.Committer.When.Format("2006-01-02 15:04"), c.Author.Name, summary)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				printNext(cmd.ErrOrStderr(), page.Next)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of commits")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous page")
	return cmd
}

func newShowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <repo> [rev]",
		Short: "Show a commit and its diff against the first parent",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev := optionalArg(args, 1)
			return withApp(flags, func(ctx context.Context, a *app) error {
				svc := a.service()
				repo := repoArg(args[0])

				commit, err := svc.GetCommit(ctx, repo, rev)
				if err != nil {
					return err
				}
				diff, err := svc.GetDiff(ctx, repo, commit.ID.String())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "commit %s\n", commit.ID)
				fmt.Fprintf(out, "Author: %s <%s>\n", commit.Author.Name, commit.Author.Email)
				fmt.Fprintf(out, "Date:   %s\n\n", commit.Author.When.Format("Mon Jan 2 15:04:05 2006 -0700"))
				for _, line := range strings.Split(strings.TrimRight(commit.Message, "\n"), "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
				fmt.Fprintln(out)
				_, err = out.Write(diff)
				return err
			})
		},
	}
}

func newTreeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <repo> [rev] [path]",
		Short: "List a directory",
		Args:  cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				entries, err := a.service().GetTree(ctx, repoArg(args[0]), optionalArg(args, 1), optionalArg(args, 2))
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd.OutOrStdout(), entries)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 1, ' ', tabwriter.AlignRight)
				for _, e := range entries {
					name := e.Name
					if e.Mode.IsDir() {
						name += "/"
					}
					fmt.Fprintf(w, "%06o\t%s\t%d\t %s\n", uint32(e.Mode), e.ID.Short(), e.Size, name)
				}
				return w.Flush()
			})
		},
	}
}

func newCatCmd(flags *rootFlags) *cobra.Command {
	var highlight bool
	cmd := &cobra.Command{
		Use:   "cat <repo> <rev> <path>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				svc := a.service()
				repo := repoArg(args[0])

				if highlight {
					out, err := svc.GetHighlighted(ctx, repo, args[1], args[2])
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(out)
					return err
				}

				blob, err := svc.GetBlob(ctx, repo, args[1], args[2])
				if err != nil {
					return err
				}
				r, err := blob.Open()
				if err != nil {
					return err
				}
				defer r.Close()
				_, err = io.Copy(cmd.OutOrStdout(), r)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&highlight, "highlight", false, "Print syntax highlighted HTML")
	return cmd
}

func newReadmeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "readme <repo> [rev]",
		Short: "Print the rendered readme as HTML",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				out, err := a.service().GetReadme(ctx, repoArg(args[0]), optionalArg(args, 1))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}
}

func newArchiveCmd(flags *rootFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "archive <repo> [rev]",
		Short: "Write a gzipped tarball of a commit's tree",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(flags, func(ctx context.Context, a *app) error {
				var w io.Writer = cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return errors.Wrapf(err, errors.CodeInvalidInput, "create %s", output)
					}
					defer f.Close()
					w = f
				}
				return a.service().Snapshot(ctx, repoArg(args[0]), optionalArg(args, 1), w)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newStylesheetCmd() *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "stylesheet",
		Short: "Print the CSS used by highlighted output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			css, err := render.Stylesheet(style)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(css)
			return err
		},
	}
	cmd.Flags().StringVar(&style, "style", render.DefaultStyle, "Chroma style name")
	return cmd
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.HasCode(err, errors.CodeNotFound):
		return 2
	case errors.HasCode(err, errors.CodeInvalidConfig):
		return 3
	case errors.IsFatal(err):
		return 4
	default:
		return 1
	}
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func printNext(w io.Writer, next string) {
	if next != "" {
		fmt.Fprintf(w, "next: --cursor %s\n", next)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
