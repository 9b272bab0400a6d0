package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arbor/internal/api"
	"arbor/internal/logging"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	var packCmd = &cobra.Command{
		Use:   "pack",
		Short: "Compact the repository storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			if err := ws.Repo.Pack(cmd.Context()); err != nil {
				return fmt.Errorf("packing: %w", err)
			}
			fmt.Println("Repository packed.")
			return nil
		},
	}

	var breakLockCmd = &cobra.Command{
		Use:   "break-lock",
		Short: "Remove a stale repository lock",
		Long:  `Removes the repository lock left behind by a process that died. Only use this when no other arbor process is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, _, err := openWorkspace()
			if err != nil {
				return err
			}
			holder, err := ws.Repo.LockHolder()
			if err != nil {
				return err
			}
			if holder == nil {
				fmt.Println("Repository is not locked.")
				return nil
			}
			if err := ws.Repo.BreakLock(); err != nil {
				return fmt.Errorf("breaking lock: %w", err)
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s held by %s\n", red("Broke lock"), holder)
			return nil
		},
	}

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve this repository over HTTP for fetch and pull",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			ws, cfg, err := openWorkspace()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}

			serverLogger, err := logging.NewLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer serverLogger.Sync()

			handler, err := api.NewServer(ws.Repo, ws.Branch, serverLogger)
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			ctx := cmd.Context()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			fmt.Printf("Serving %s on http://%s\n", ws.Root, addr)
			serverLogger.Info("starting server", zap.String("address", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")

	rootCmd.AddCommand(packCmd, breakLockCmd, serveCmd)
}
