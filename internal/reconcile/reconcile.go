// Package reconcile polls the gateway for every ticket that is still in
// flight and merges status changes into the ticket store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/zulandar/netmaker/internal/gateway"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/notify"
	"github.com/zulandar/netmaker/internal/schedule"
	"github.com/zulandar/netmaker/internal/stats"
	"github.com/zulandar/netmaker/internal/ticket"
	"gorm.io/gorm"
)

// Opts holds parameters for creating a Reconciler.
type Opts struct {
	DB       *gorm.DB
	Gateway  gateway.Client
	Policy   ticket.Policy
	Stats    *stats.Publisher // optional; refreshed after every pass
	Notifier notify.Notifier  // optional; told about final transitions
	Network  string
	Logger   *slog.Logger
}

// Reconciler runs reconciliation passes. Passes are serialized, so the loop
// and on-demand callers can share one Reconciler.
type Reconciler struct {
	sem      chan struct{} // held for the duration of a pass
	db       *gorm.DB
	gw       gateway.Client
	policy   ticket.Policy
	stats    *stats.Publisher
	notifier notify.Notifier
	network  string
	log      *slog.Logger
}

// ErrBusy is returned by RunOnce when ctx ends while another pass is still
// running.
var ErrBusy = errors.New("reconcile: pass already running")

// Result summarises one pass.
type Result struct {
	Checked    int // tickets the gateway was asked about
	Updated    int
	Unchanged  int // status unchanged, including those in Progressed
	Progressed int // raw gateway status or tx ids newly recorded
	Missing    int // gateway had nothing for the result id
	Skipped    int // no result id to poll, or already terminal
	Failed     int
}

// New creates a Reconciler.
func New(opts Opts) (*Reconciler, error) {
	if opts.DB == nil || opts.Gateway == nil {
		return nil, fmt.Errorf("reconcile: db and gateway are required")
	}
	n := opts.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		sem:      make(chan struct{}, 1),
		db:       opts.DB,
		gw:       opts.Gateway,
		policy:   opts.Policy,
		stats:    opts.Stats,
		notifier: n,
		network:  opts.Network,
		log:      logger.With("loop", "reconcile"),
	}, nil
}

// Run performs one pass per schedule tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, sched schedule.Schedule) {
	r.log.Info("starting", "schedule", sched.String(),
		"repoll_failed", r.policy.RepollFailed, "max_failed_polls", r.policy.MaxFailedPolls)
	schedule.Every(ctx, sched, func(ctx context.Context) {
		r.RunOnce(ctx)
	})
	r.log.Info("stopped")
}

// RunOnce reconciles every kind and then republishes statistics. Errors for
// individual tickets are logged and counted, never returned; the error
// result reports a failed statistics rebuild, or ErrBusy when ctx ended
// while waiting for another pass. Notifications go out after the pass has
// released the Reconciler.
func (r *Reconciler) RunOnce(ctx context.Context) (Result, error) {
	select {
	case r.sem <- struct{}{}:
	default:
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return Result{}, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
		}
	}
	res, events, err := r.pass(ctx)
	<-r.sem

	for _, ev := range events {
		if nerr := r.notifier.Notify(ctx, ev); nerr != nil {
			r.log.Warn("notification failed", "ticket", ev.TicketID, "err", nerr)
		}
	}
	return res, err
}

// pass runs one reconciliation pass with the semaphore held and returns the
// notifications it produced.
func (r *Reconciler) pass(ctx context.Context) (Result, []notify.Event, error) {
	var (
		res    Result
		events []notify.Event
	)
	for _, kind := range models.AllKinds {
		if ctx.Err() != nil {
			break
		}
		r.reconcileKind(ctx, kind, &res, &events)
	}
	r.log.Info("pass complete", "checked", res.Checked, "updated", res.Updated,
		"unchanged", res.Unchanged, "progressed", res.Progressed, "missing", res.Missing,
		"skipped", res.Skipped, "failed", res.Failed)

	if r.stats == nil {
		return res, events, nil
	}
	snap, err := r.stats.Refresh(r.db.WithContext(context.WithoutCancel(ctx)))
	if err != nil {
		r.log.Error("statistics rebuild failed", "err", err)
		return res, events, fmt.Errorf("reconcile: %w", err)
	}
	r.log.Info("statistics", "summary", snap.Summary())
	return res, events, nil
}

func (r *Reconciler) reconcileKind(ctx context.Context, kind models.Kind, res *Result, events *[]notify.Event) {
	tickets, err := ticket.ListNonTerminal(r.db, kind, r.policy)
	if err != nil {
		r.log.Error("list tickets failed", "kind", kind, "err", err)
		res.Failed++
		return
	}
	for i := range tickets {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcileTicket(ctx, &tickets[i], res, events); err != nil {
			res.Failed++
			r.log.Error("reconcile ticket failed",
				"kind", kind, "ticket", tickets[i].ID, "result_id", tickets[i].ResultID, "err", err)
		}
	}
}

func (r *Reconciler) reconcileTicket(ctx context.Context, t *models.Ticket, res *Result, events *[]notify.Event) error {
	if t.ResultID == "" {
		res.Skipped++
		return nil
	}

	res.Checked++
	result, err := r.gw.GetResult(ctx, t.Kind, t.ResultID)

	// Writes below must finish even if shutdown starts mid-ticket.
	wdb := r.db.WithContext(context.WithoutCancel(ctx))
	if errors.Is(err, gateway.ErrNoResult) || (err == nil && result == nil) {
		res.Missing++
		r.log.Info("no result from gateway", "kind", t.Kind, "ticket", t.ID, "result_id", t.ResultID)
		return ticket.RecordPoll(wdb, t.ID)
	}
	if err != nil {
		return err
	}
	if err := ticket.RecordPoll(wdb, t.ID); err != nil {
		return err
	}

	status := gateway.NormalizeStatus(result.ResultStatus)
	if status == t.Status {
		res.Unchanged++
		if !progressed(t, result) {
			return nil
		}
		if err := ticket.RecordProgress(wdb, t.ID, result.ResultStatus, result.RegistrationTxID, result.ActivationTxID); err != nil {
			return err
		}
		res.Progressed++
		r.log.Info("gateway progress recorded", "kind", t.Kind, "ticket", t.ID, "result_id", t.ResultID,
			"remote_status", result.ResultStatus)
		return nil
	}

	// The ticket may have moved on since it was listed.
	current, err := ticket.Get(wdb, t.ID)
	if err != nil {
		return err
	}
	if r.policy.IsTerminal(current.Status) {
		res.Skipped++
		r.log.Info("ticket already terminal, not updating",
			"kind", t.Kind, "ticket", t.ID, "status", current.Status, "err", ticket.ErrTerminal)
		return nil
	}

	if err := ticket.UpdateStatus(wdb, t.ID, status, result.RegistrationTxID, result.ActivationTxID); err != nil {
		return err
	}
	if err := ticket.RecordProgress(wdb, t.ID, result.ResultStatus, "", ""); err != nil {
		return err
	}
	res.Updated++
	r.log.Info("ticket status changed", "kind", t.Kind, "ticket", t.ID, "result_id", t.ResultID,
		"from", current.Status, "to", status, "remote_status", result.ResultStatus)

	if status == models.StatusSuccess || status == models.StatusFailure {
		*events = append(*events, notify.Event{
			Network:          r.network,
			Kind:             t.Kind,
			TicketID:         t.ID,
			ResultID:         t.ResultID,
			PreviousStatus:   current.Status,
			Status:           status,
			RegistrationTxID: result.RegistrationTxID,
			ActivationTxID:   result.ActivationTxID,
		})
	}
	return nil
}

// progressed reports whether the gateway says something about t that is not
// stored yet, without a change of local status.
func progressed(t *models.Ticket, result *gateway.ResultRegistration) bool {
	return result.ResultStatus != t.RemoteStatus ||
		(result.RegistrationTxID != "" && result.RegistrationTxID != t.RegistrationTxID) ||
		(result.ActivationTxID != "" && result.ActivationTxID != t.ActivationTxID)
}
