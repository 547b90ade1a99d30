package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/choraleia/styletree/pkg/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "styletree",
		Short: "Browse and manage map styles across folders, repositories and databases",
		Long: `styletree presents local folders, style repositories, databases, SFTP folders
and key-value caches as one tree of style resources.

Nodes are addressed as connector:locator, e.g. local:/home/me/styles/roads.sld.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.styletree/config.yaml)")

	cfg := func() (*config.AppConfig, error) { return loadConfig(configPath) }

	rootCmd.AddCommand(
		newServeCmd(cfg),
		newTreeCmd(cfg),
		newConnCmd(cfg),
		newTransferCmd("cp", "Copy resources into a container", cfg),
		newTransferCmd("mv", "Move resources into a container", cfg),
		newRmCmd(cfg),
		newCatCmd(cfg),
	)
	return rootCmd
}

func newServeCmd(loadCfg func() (*config.AppConfig, error)) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and event stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.EnsureDefaultConfig(); err != nil {
				return err
			}
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := NewApp(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer app.Close()

			if port == 0 {
				port = cfg.Port()
			}
			errChan, err := NewServer(app).Start(ctx, port)
			if err != nil {
				app.Logger.Error("Failed to start server", "error", err)
				return err
			}
			select {
			case <-ctx.Done():
				app.Logger.Info("Shutting down")
				return <-errChan
			case err := <-errChan:
				return err
			}
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, fmt.Sprintf("listen port (default %d, or $%s)", config.DefaultPort, config.PortEnv))
	return cmd
}

// withApp runs fn against a freshly loaded, non-watching app.
func withApp(ctx context.Context, loadCfg func() (*config.AppConfig, error), fn func(*App) error) error {
	cfg, err := loadCfg()
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
