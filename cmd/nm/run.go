package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/maker"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the generation, submission and reconciliation loops",
		Long: "Starts every enabled loop and the statistics dashboard. SIGINT or SIGTERM " +
			"stops the loops after their in-flight database writes complete.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMaker(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runMaker(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := maker.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return maker.Run(ctx, maker.Opts{Config: cfg, Logger: logger})
}
