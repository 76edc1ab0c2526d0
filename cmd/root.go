package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fieldops/rove/app"
	"github.com/fieldops/rove/config"
	"github.com/fieldops/rove/infra/logger"
)

var (
	cfgPath    string
	bootstrap  bool
	noSnapshot bool
)

var rootCmd = &cobra.Command{
	Use:   "rove",
	Short: "Field-agent dispatch service",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVar(&bootstrap, "bootstrap", false, "force the cold-start bootstrap even when spawn data exists")
	rootCmd.PersistentFlags().BoolVar(&noSnapshot, "no-snapshot", false, "ignore the persisted spawn snapshot on the initial load")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx, bootstrap, !noSnapshot)
}
