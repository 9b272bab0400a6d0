package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"arbor/internal/commit"
	"arbor/internal/delta"
	"arbor/internal/diff"
	"arbor/internal/repository"
	"arbor/internal/revspec"
	"arbor/internal/signing"
	"arbor/internal/watch"
	"arbor/internal/workspace"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const signingKeyPath = "signing.key"

func init() {
	var addCmd = &cobra.Command{
		Use:   "add [paths...]",
		Short: "Version files and directories",
		Long:  `Versions the given paths and everything beneath them. With no paths the whole working tree is added.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			added, err := ws.Add(args)
			if err != nil {
				return fmt.Errorf("adding paths: %w", err)
			}
			green := color.New(color.FgGreen).SprintFunc()
			for _, p := range added {
				fmt.Printf("%s %s\n", green("adding"), p)
			}
			return nil
		},
	}

	var rmCmd = &cobra.Command{
		Use:   "rm <paths...>",
		Short: "Stop versioning files",
		Long:  `Stops versioning the given paths. Files are left on disk.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			removed, err := ws.Remove(args)
			if err != nil {
				return fmt.Errorf("removing paths: %w", err)
			}
			red := color.New(color.FgRed).SprintFunc()
			for _, p := range removed {
				fmt.Printf("%s %s\n", red("deleted"), p)
			}
			return nil
		},
	}

	var mvCmd = &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "Rename a versioned path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			if err := ws.Rename(args[0], args[1]); err != nil {
				return fmt.Errorf("renaming: %w", err)
			}
			fmt.Printf("%s => %s\n", args[0], args[1])
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit",
		Short: "Record the working tree as a new revision",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			unchanged, _ := cmd.Flags().GetBool("unchanged")
			sign, _ := cmd.Flags().GetBool("sign")
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("a commit message is required (use -m)")
			}

			ws, cfg, err := openWorkspace()
			if err != nil {
				return err
			}
			if sign {
				signer, err := signing.LoadOrCreate(ws.Repo.Transport(), signingKeyPath)
				if err != nil {
					return fmt.Errorf("loading signing key: %w", err)
				}
				ws.Repo.SetSigner(signer)
			}

			id, err := ws.Commit(cmd.Context(), commit.Request{
				Options:        commit.Options{Committer: committer(cfg), Logger: logger},
				Message:        message,
				AllowUnchanged: unchanged,
			})
			if err != nil {
				return fmt.Errorf("committing: %w", err)
			}
			revno, err := ws.Branch.Revno()
			if err != nil {
				return err
			}
			fmt.Printf("Committed revision %d.\n", revno)
			logger.Debug("committed", zap.String("revision_id", id))
			return nil
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "Commit message")
	commitCmd.Flags().Bool("unchanged", false, "Commit even if nothing changed")
	commitCmd.Flags().Bool("sign", false, "Sign the revision with the repository key")

	var statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show working tree status",
		RunE: func(cmd *cobra.Command, args []string) error {
			short, _ := cmd.Flags().GetBool("short")
			showUnchanged, _ := cmd.Flags().GetBool("show-unchanged")
			showIDs, _ := cmd.Flags().GetBool("show-ids")
			follow, _ := cmd.Flags().GetBool("watch")

			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			opts := delta.ReportOptions{
				Short:   short,
				ShowIDs: showIDs,
				Header:  statusHeader,
			}
			if err := printStatus(ws, showUnchanged, opts); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return watchStatus(cmd.Context(), ws, showUnchanged, opts)
		},
	}
	statusCmd.Flags().BoolP("short", "s", false, "One line per change with a status code")
	statusCmd.Flags().Bool("show-unchanged", false, "Include unchanged files")
	statusCmd.Flags().Bool("show-ids", false, "Show file ids")
	statusCmd.Flags().BoolP("watch", "w", false, "Keep reporting as files change")

	var diffCmd = &cobra.Command{
		Use:   "diff",
		Short: "Show changes between revisions or against the working tree",
		Long: `Shows the working tree against the branch tip. With -r A..B shows the
changes between two revisions; with -r A shows the working tree against A.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, _ := cmd.Flags().GetString("revision")
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}

			var oldTree, newTree diff.Tree
			opts := diff.TreeOptions{OldLabel: "old", NewLabel: "new"}
			if spec == "" {
				if oldTree, err = ws.BasisTree(); err != nil {
					return err
				}
			} else {
				from, to, err := revspec.New(otherBranchTip).ResolveRange(ws.Branch, spec)
				if err != nil {
					return err
				}
				if oldTree, err = ws.Repo.RevisionTree(from); err != nil {
					return err
				}
				if strings.Contains(spec, "..") {
					if newTree, err = ws.Repo.RevisionTree(to); err != nil {
						return err
					}
				}
			}
			if newTree == nil {
				if newTree, err = ws.WorkingTree(); err != nil {
					return err
				}
			}

			var out strings.Builder
			if err := diff.WriteTreeDiff(&out, oldTree, newTree, opts); err != nil {
				return err
			}
			printColoredDiff(out.String())
			return nil
		},
	}
	diffCmd.Flags().StringP("revision", "r", "", "Revision or range to compare")

	rootCmd.AddCommand(addCmd, rmCmd, mvCmd, commitCmd, statusCmd, diffCmd)
}

// statusHeader colours category headers in status output.
func statusHeader(s string) string {
	return color.New(color.FgYellow).Sprint(s)
}

func printStatus(ws *workspace.LocalWorkspace, showUnchanged bool, opts delta.ReportOptions) error {
	d, err := ws.Status(showUnchanged)
	if err != nil {
		return fmt.Errorf("getting status: %w", err)
	}
	if !d.HasChanged() && len(d.Unversioned) == 0 && !showUnchanged {
		fmt.Println("No changes detected (working tree clean)")
		return nil
	}
	return d.Report(os.Stdout, opts)
}

// watchStatus reprints the status after every settled burst of changes
// until ctx is cancelled.
func watchStatus(ctx context.Context, ws *workspace.LocalWorkspace, showUnchanged bool, opts delta.ReportOptions) error {
	w, err := watch.New(ws.Root,
		watch.WithLogger(logger),
		watch.WithIgnore(workspace.Ignored))
	if err != nil {
		return err
	}
	defer w.Close()

	faint := color.New(color.Faint).SprintFunc()
	err = w.Run(ctx, func(paths []string) {
		fmt.Println(faint(fmt.Sprintf("-- %d path(s) changed --", len(paths))))
		if err := printStatus(ws, showUnchanged, opts); err != nil {
			logger.Error("status failed", zap.Error(err))
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)
	entry := color.New(color.Bold)

	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case line == "":
			fmt.Println()
		case strings.HasPrefix(line, "==="):
			entry.Println(line)
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			entry.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

var _ diff.Tree = (*repository.RevisionTree)(nil)
