// cmd/arbor/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"

	"arbor/internal/branch"
	"arbor/internal/config"
	"arbor/internal/repository"
	"arbor/internal/workspace"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger  = zap.NewNop()
	verbose bool

	// closers run after every command, releasing repositories it opened.
	closers []func() error
)

var rootCmd = &cobra.Command{
	Use:   "arbor",
	Short: "Arbor is a distributed version control system",
	Long: `Arbor versions a working tree as a graph of revisions. Every file keeps a
stable id across renames, and history can be fetched between repositories
on disk or over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := zapcore.WarnLevel
		if verbose {
			level = zapcore.DebugLevel
		}
		var err error
		logger, err = zap.NewDevelopment(zap.IncreaseLevel(level))
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output")

	var format string
	var initCmd = &cobra.Command{
		Use:   "init [dir]",
		Short: "Create an empty repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving %s: %w", dir, err)
			}
			cfg := config.Default()
			if format != "" {
				cfg.Repository.Format = format
			}
			opts, err := repository.OptionsFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			repo, err := repository.Init(abs, opts)
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}
			defer repo.Close()

			br := branch.Open(repo, "", branch.WithLogger(logger))
			if _, err := workspace.NewLocalWorkspace(abs, br, logger); err != nil {
				return err
			}
			fmt.Printf("Initialized empty %s repository in %s\n", repo.Format(), abs)
			return nil
		},
	}
	initCmd.Flags().StringVar(&format, "format", "", "Repository format (rich-root, legacy)")

	rootCmd.AddCommand(initCmd)
}

func closeAll() error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil && first == nil {
			first = err
		}
	}
	closers = nil
	return first
}

// loadConfig reads .arbor/config.json under root, if there is one.
func loadConfig(root string) (*config.Config, error) {
	return config.LoadOrDefault(filepath.Join(root, repository.ControlDir, "config.json"))
}

// openWorkspace finds the working tree containing the current directory
// and opens its repository and branch.
func openWorkspace() (*workspace.LocalWorkspace, *config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("getting current directory: %w", err)
	}
	root, err := workspace.FindRoot(cwd)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, nil, err
	}
	opts, err := repository.OptionsFromConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	repo, err := repository.Open(root, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening repository: %w", err)
	}
	closers = append(closers, repo.Close)

	br := branch.Open(repo, "", branch.WithLogger(logger))
	ws, err := workspace.NewLocalWorkspace(root, br, logger)
	if err != nil {
		return nil, nil, err
	}
	return ws, cfg, nil
}

// committer picks the identity recorded on new revisions.
func committer(cfg *config.Config) string {
	if c := os.Getenv("ARBOR_EMAIL"); c != "" {
		return c
	}
	if cfg.Committer != "" {
		return cfg.Committer
	}
	name := "unknown"
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s <%s@%s>", name, name, host)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if cerr := closeAll(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
