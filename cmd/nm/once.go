package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/netmaker/internal/db"
	"github.com/zulandar/netmaker/internal/gateway"
	"github.com/zulandar/netmaker/internal/maker"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/notify"
	"github.com/zulandar/netmaker/internal/reconcile"
	"github.com/zulandar/netmaker/internal/stats"
	"github.com/zulandar/netmaker/internal/submit"
	"github.com/zulandar/netmaker/internal/ticket"
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submission commands",
	}

	cmd.AddCommand(newSubmitOnceCmd())
	return cmd
}

func newSubmitOnceCmd() *cobra.Command {
	var (
		configPath string
		kind       string
	)

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run one submission iteration",
		Long:  "Registers one ticket. Without --kind the kind is drawn from submit.kinds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmitOnce(cmd, configPath, kind)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&kind, "kind", "", "ticket kind to submit (cascade, sense, nft, collection)")
	return cmd
}

func runSubmitOnce(cmd *cobra.Command, configPath, kind string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	logger, closer, err := maker.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	gw, err := gateway.New(cfg.Network, cfg.Gateway)
	if err != nil {
		return err
	}
	defer gw.Close()

	sub, err := submit.New(submit.Opts{DB: gormDB, Gateway: gw, Config: cfg.Submit, Logger: logger})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var t *models.Ticket
	if kind != "" {
		k, perr := models.ParseKind(kind)
		if perr != nil {
			return perr
		}
		t, err = sub.Submit(ctx, k)
	} else {
		t, err = sub.RunOnce(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s ticket %d (result %s, %s)\n", t.Kind, t.ID, t.ResultID, t.Status)
	return nil
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconciliation commands",
	}

	cmd.AddCommand(newReconcileOnceCmd())
	return cmd
}

func newReconcileOnceCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Poll the gateway once for every unsettled ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcileOnce(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runReconcileOnce(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	logger, closer, err := maker.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	gw, err := gateway.New(cfg.Network, cfg.Gateway)
	if err != nil {
		return err
	}
	defer gw.Close()

	notifier, err := notify.New(cfg.Notify)
	if err != nil {
		return err
	}

	pub := &stats.Publisher{}
	rec, err := reconcile.New(reconcile.Opts{
		DB:       gormDB,
		Gateway:  gw,
		Policy:   ticket.PolicyFromConfig(cfg.Reconcile),
		Stats:    pub,
		Notifier: notifier,
		Network:  cfg.Network,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := rec.RunOnce(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "checked=%d updated=%d unchanged=%d progressed=%d missing=%d skipped=%d failed=%d\n",
		res.Checked, res.Updated, res.Unchanged, res.Progressed, res.Missing, res.Skipped, res.Failed)
	fmt.Fprintln(out, pub.Current().Summary())
	return nil
}
