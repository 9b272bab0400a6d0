package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"arbor/internal/delta"
	"arbor/internal/errors"
	"arbor/internal/inventory"
	"arbor/internal/revision"
	"arbor/internal/revspec"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	var logCmd = &cobra.Command{
		Use:   "log",
		Short: "Show the branch history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, _ := cmd.Flags().GetString("revision")
			limit, _ := cmd.Flags().GetInt("limit")
			changes, _ := cmd.Flags().GetBool("changes")

			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			history, err := ws.Branch.LeftHandHistory()
			if err != nil {
				return err
			}

			first, last := 1, len(history)
			if spec != "" {
				from, to, err := revspec.New(otherBranchTip).ResolveRange(ws.Branch, spec)
				if err != nil {
					return err
				}
				first, last = 0, 0
				for i, id := range history {
					if id == from {
						first = i + 1
					}
					if id == to {
						last = i + 1
					}
				}
				if revision.IsNull(from) {
					first = 1
				}
				if last == 0 {
					return fmt.Errorf("revision %s is not on the branch history", to)
				}
				if !strings.Contains(spec, "..") {
					first = last
				}
			}

			yellow := color.New(color.FgYellow).SprintFunc()
			shown := 0
			for n := last; n >= first && n >= 1; n-- {
				if limit > 0 && shown == limit {
					break
				}
				rev, err := ws.Repo.GetRevision(history[n-1])
				if err != nil {
					return err
				}
				fmt.Println(strings.Repeat("-", 60))
				fmt.Printf("%s %d\n", yellow("revno:"), n)
				if len(rev.ParentIDs) > 1 {
					fmt.Printf("merged: %s\n", strings.Join(rev.ParentIDs[1:], ", "))
				}
				fmt.Printf("revision-id: %s\n", rev.ID)
				fmt.Printf("committer: %s\n", rev.Committer)
				fmt.Printf("timestamp: %s\n", rev.Time().Format(time.RFC1123Z))
				fmt.Println("message:")
				for _, line := range strings.Split(strings.TrimRight(rev.Message, "\n"), "\n") {
					fmt.Printf("  %s\n", line)
				}
				if changes {
					if err := printRevisionChanges(ws.Repo.GetInventory, rev); err != nil {
						return err
					}
				}
				shown++
			}
			return nil
		},
	}
	logCmd.Flags().StringP("revision", "r", "", "Revision or range to show")
	logCmd.Flags().IntP("limit", "l", 0, "Show at most this many revisions")
	logCmd.Flags().BoolP("changes", "c", false, "List the files each revision changed")

	var revnoCmd = &cobra.Command{
		Use:   "revno",
		Short: "Show the current revision number",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			n, err := ws.Branch.Revno()
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}

	var uncommitCmd = &cobra.Command{
		Use:   "uncommit",
		Short: "Move the branch tip back",
		Long: `Moves the branch tip back along its left-hand history. The revisions stay
in the repository and the working tree is left as it is, so the changes
they made show up as uncommitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, _ := cmd.Flags().GetInt("count")
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			tip, err := ws.Branch.Uncommit(cmd.Context(), count)
			if err != nil {
				return err
			}
			n, err := ws.Branch.Revno()
			if err != nil {
				return err
			}
			fmt.Printf("Branch is now at revision %d (%s).\n", n, tip)
			return nil
		},
	}
	uncommitCmd.Flags().IntP("count", "n", 1, "Number of revisions to remove")

	rootCmd.AddCommand(logCmd, revnoCmd, uncommitCmd)
}

// printRevisionChanges lists what rev changed relative to its left parent.
func printRevisionChanges(getInventory func(string) (*inventory.Inventory, error), rev *revision.Revision) error {
	oldInv, err := getInventory(rev.LeftParent())
	if errors.IsType(err, errors.ErrorTypeNoSuchRevision) {
		oldInv, err = inventory.New(revision.Null), nil
	}
	if err != nil {
		return err
	}
	newInv, err := getInventory(rev.ID)
	if err != nil {
		return err
	}
	fmt.Println("changes:")
	return delta.Compare(oldInv, newInv, nil, false).Report(os.Stdout, delta.ReportOptions{Short: true})
}
