package main

import (
	"fmt"
	"strings"

	"arbor/client"
	"arbor/internal/branch"
	"arbor/internal/fetch"
	"arbor/internal/graph"
	"arbor/internal/repository"
	"arbor/internal/revision"
	"arbor/internal/revspec"
	"arbor/internal/transport"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// location is another repository: a local one with its branch, or a
// server reached through the client.
type location struct {
	source  fetch.Source
	parents graph.ParentsProvider
	branch  *branch.Branch
	tip     string
}

func openLocation(s string) (*location, error) {
	loc, err := transport.ParseLocation(s)
	if err != nil {
		return nil, err
	}
	if loc.Kind == transport.LocationURL {
		remote, err := client.Open(loc.String(), client.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return &location{source: remote, parents: remote, tip: remote.Tip()}, nil
	}

	cfg, err := loadConfig(loc.Path)
	if err != nil {
		return nil, err
	}
	opts, err := repository.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	repo, err := repository.Open(loc.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", loc, err)
	}
	closers = append(closers, repo.Close)
	br := branch.Open(repo, "", branch.WithLogger(logger))
	tip, err := br.Tip()
	if err != nil {
		return nil, err
	}
	return &location{source: repo, parents: repo, branch: br, tip: tip}, nil
}

// resolve picks a revision of the location. Remote servers only expose
// their tip and revision ids, so other specifiers need a local location.
func (l *location) resolve(spec string) (string, error) {
	if spec == "" {
		return l.tip, nil
	}
	if l.branch != nil {
		return revspec.New(otherBranchTip).MustResolve(l.branch, spec)
	}
	if id, ok := strings.CutPrefix(spec, "revid:"); ok {
		return id, nil
	}
	if strings.Contains(spec, ":") && spec != revision.Null {
		return "", fmt.Errorf("only revid: specifiers can be used with %s", l.source.Location())
	}
	return spec, nil
}

// otherBranchTip lets "ancestor:" specifiers name another location.
func otherBranchTip(name string) (string, graph.ParentsProvider, error) {
	l, err := openLocation(name)
	if err != nil {
		return "", nil, err
	}
	return l.tip, l.parents, nil
}

func init() {
	var fetchCmd = &cobra.Command{
		Use:   "fetch <location>",
		Short: "Copy revisions from another repository",
		Long:  `Copies a revision and all of its ancestry into this repository without moving the branch.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, _ := cmd.Flags().GetString("revision")
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			from, err := openLocation(args[0])
			if err != nil {
				return err
			}
			id, err := from.resolve(spec)
			if err != nil {
				return err
			}
			if revision.IsNull(id) {
				fmt.Println("Nothing to fetch.")
				return nil
			}
			result, err := ws.Repo.Fetch(cmd.Context(), from.source, id)
			if err != nil {
				if result != nil {
					printFetchResult(result)
				}
				return fmt.Errorf("fetching: %w", err)
			}
			printFetchResult(result)
			return nil
		},
	}
	fetchCmd.Flags().StringP("revision", "r", "", "Revision to fetch (default: the tip)")

	var pullCmd = &cobra.Command{
		Use:   "pull <location>",
		Short: "Fetch another branch's tip and fast-forward to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			from, err := openLocation(args[0])
			if err != nil {
				return err
			}
			if revision.IsNull(from.tip) {
				fmt.Println("Nothing to pull.")
				return nil
			}
			result, err := ws.Branch.Pull(cmd.Context(), from.source, from.tip)
			if err != nil {
				return fmt.Errorf("pulling: %w", err)
			}
			if err := ws.Update(); err != nil {
				return fmt.Errorf("updating working tree: %w", err)
			}
			printFetchResult(result)
			revno, err := ws.Branch.Revno()
			if err != nil {
				return err
			}
			fmt.Printf("Now on revision %d.\n", revno)
			return nil
		},
	}

	var missingCmd = &cobra.Command{
		Use:   "missing <location>",
		Short: "Show revisions not shared with another branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			other, err := openLocation(args[0])
			if err != nil {
				return err
			}
			local, remote, err := ws.Branch.Missing(other.tip, other.parents)
			if err != nil {
				return err
			}
			logger.Debug("compared branches",
				zap.String("other", other.source.Location()),
				zap.Int("local", len(local)),
				zap.Int("remote", len(remote)))

			yellow := color.New(color.FgYellow).SprintFunc()
			if len(local) == 0 && len(remote) == 0 {
				fmt.Println("Branches are up to date.")
				return nil
			}
			if len(local) > 0 {
				fmt.Println(yellow(fmt.Sprintf("You have %d extra revision(s):", len(local))))
				for _, id := range local {
					fmt.Printf("  %s\n", id)
				}
			}
			if len(remote) > 0 {
				fmt.Println(yellow(fmt.Sprintf("You are missing %d revision(s):", len(remote))))
				for _, id := range remote {
					fmt.Printf("  %s\n", id)
				}
			}
			return nil
		},
	}

	rootCmd.AddCommand(fetchCmd, pullCmd, missingCmd)
}

func printFetchResult(result *fetch.Result) {
	fmt.Printf("Copied %d revision(s).\n", result.Copied)
	if len(result.Failed) > 0 {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Println(red(fmt.Sprintf("%d revision(s) could not be read:", len(result.Failed))))
		for _, id := range result.Failed {
			fmt.Printf("  %s\n", id)
		}
	}
}
