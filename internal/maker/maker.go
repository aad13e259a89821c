// Package maker wires the Netmaker loops into one long-running process.
package maker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/dashboard"
	"github.com/zulandar/netmaker/internal/db"
	"github.com/zulandar/netmaker/internal/gateway"
	"github.com/zulandar/netmaker/internal/generate"
	"github.com/zulandar/netmaker/internal/notify"
	"github.com/zulandar/netmaker/internal/reconcile"
	"github.com/zulandar/netmaker/internal/schedule"
	"github.com/zulandar/netmaker/internal/stats"
	"github.com/zulandar/netmaker/internal/submit"
	"github.com/zulandar/netmaker/internal/ticket"
	"gorm.io/gorm"
)

// Opts holds parameters for Run. DB, Gateway and Generator override what
// Config would otherwise build; Run does not close overrides.
type Opts struct {
	Config    *config.Config
	Logger    *slog.Logger
	DB        *gorm.DB
	Gateway   gateway.Client
	Generator generate.Generator
	Notifier  notify.Notifier
}

// Run starts the enabled loops and the dashboard and blocks until ctx is
// cancelled. In-flight iterations finish their durable writes before Run
// returns; then the gateway client and database are closed.
func Run(ctx context.Context, opts Opts) error {
	cfg := opts.Config
	if cfg == nil {
		return fmt.Errorf("maker: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gdb := opts.DB
	if gdb == nil {
		var err error
		if gdb, err = db.Open(cfg.Database); err != nil {
			return fmt.Errorf("maker: %w", err)
		}
		defer db.Close(gdb)
		if err := db.AutoMigrate(gdb); err != nil {
			return fmt.Errorf("maker: %w", err)
		}
	}

	gw := opts.Gateway
	if gw == nil {
		var err error
		if gw, err = gateway.New(cfg.Network, cfg.Gateway); err != nil {
			return fmt.Errorf("maker: %w", err)
		}
		defer gw.Close()
	}

	notifier := opts.Notifier
	if notifier == nil {
		var err error
		if notifier, err = notify.New(cfg.Notify); err != nil {
			return fmt.Errorf("maker: %w", err)
		}
	}

	pub := &stats.Publisher{}
	if _, err := pub.Refresh(gdb); err != nil {
		logger.Warn("initial statistics unavailable", "err", err)
	}

	rec, err := reconcile.New(reconcile.Opts{
		DB:       gdb,
		Gateway:  gw,
		Policy:   ticket.PolicyFromConfig(cfg.Reconcile),
		Stats:    pub,
		Notifier: notifier,
		Network:  cfg.Network,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("maker: %w", err)
	}

	var tasks []func(context.Context) error

	if cfg.GenerateEnabled() {
		gen := opts.Generator
		if gen == nil {
			if gen, err = generate.NewCommandGenerator(generate.CommandOpts{
				Command:  cfg.Generate.Command,
				BasePath: cfg.Generate.BasePath,
				Timeout:  time.Duration(cfg.Generate.TimeoutSec) * time.Second,
			}); err != nil {
				return fmt.Errorf("maker: %w", err)
			}
		}
		loop, err := generate.NewLoop(generate.LoopOpts{
			DB:          gdb,
			Generator:   gen,
			CreatorName: cfg.Generate.CreatorName,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("maker: %w", err)
		}
		sched, err := schedule.New(cfg.Generate.IntervalSec, cfg.Generate.Schedule)
		if err != nil {
			return fmt.Errorf("maker: generate: %w", err)
		}
		tasks = append(tasks, func(ctx context.Context) error {
			loop.Run(ctx, sched)
			return nil
		})
	}

	if cfg.SubmitEnabled() {
		sub, err := submit.New(submit.Opts{
			DB:      gdb,
			Gateway: gw,
			Config:  cfg.Submit,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("maker: %w", err)
		}
		sched, err := schedule.New(cfg.Submit.IntervalSec, cfg.Submit.Schedule)
		if err != nil {
			return fmt.Errorf("maker: submit: %w", err)
		}
		tasks = append(tasks, func(ctx context.Context) error {
			sub.Run(ctx, sched)
			return nil
		})
	}

	if cfg.ReconcileEnabled() {
		sched, err := schedule.New(cfg.Reconcile.IntervalSec, cfg.Reconcile.Schedule)
		if err != nil {
			return fmt.Errorf("maker: reconcile: %w", err)
		}
		tasks = append(tasks, func(ctx context.Context) error {
			rec.Run(ctx, sched)
			return nil
		})
	}

	if cfg.DashboardEnabled() {
		dopts := dashboard.StartOpts{
			DB:             gdb,
			Port:           cfg.Dashboard.Port,
			Network:        cfg.Network,
			Stats:          pub,
			Refresher:      rec,
			RefreshTimeout: time.Duration(cfg.Dashboard.RefreshTimeoutSec) * time.Second,
			Logger:         logger,
		}
		tasks = append(tasks, func(ctx context.Context) error {
			return dashboard.Start(ctx, dopts)
		})
	}

	if len(tasks) == 0 {
		return fmt.Errorf("maker: nothing enabled")
	}
	logger.Info("netmaker starting", "network", cfg.Network, "gateway", cfg.Gateway.Mode,
		"database", cfg.Database.Driver, "tasks", len(tasks))

	err = runAll(ctx, tasks)
	logger.Info("netmaker stopped")
	return err
}

// runAll runs every task until ctx is cancelled or one of them fails, then
// cancels the rest and waits for them.
func runAll(ctx context.Context, tasks []func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil {
				once.Do(func() { firstErr = err })
				cancel()
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return fmt.Errorf("maker: %w", firstErr)
	}
	return nil
}
