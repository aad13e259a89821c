package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/reconcile"
	"github.com/zulandar/netmaker/internal/stats"
	"github.com/zulandar/netmaker/internal/ticket"
)

const (
	defaultTicketLimit = 100
	maxTicketLimit     = 1000
	recentTickets      = 10
)

type handlers struct {
	opts StartOpts
	log  *slog.Logger
}

// registerRoutes sets up all dashboard routes on the Gin router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/", h.index)
	router.GET("/healthz", h.health)
	router.GET("/api/stats", h.apiStats)
	router.GET("/api/tickets", h.apiTickets)
	router.GET("/api/events", handleSSE(h.opts.Stats))
}

// index runs an on-demand reconciliation pass so the page reflects the
// gateway's latest view, then renders the snapshot. If another pass holds
// the reconciler past the refresh timeout, the last published snapshot is
// rendered instead.
func (h *handlers) index(c *gin.Context) {
	if h.opts.Refresher != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RefreshTimeout)
		_, err := h.opts.Refresher.RunOnce(ctx)
		switch {
		case errors.Is(err, reconcile.ErrBusy):
			h.log.Info("reconcile pass still running, rendering last statistics")
		case err != nil:
			h.log.Warn("on-demand reconcile failed", "err", err)
		}
		cancel()
	}

	snap, err := h.snapshot(c.Request.Context())
	if err != nil {
		h.log.Error("statistics unavailable", "err", err)
		c.String(http.StatusInternalServerError, "statistics unavailable")
		return
	}
	recent, err := RecentTickets(h.opts.DB.WithContext(c.Request.Context()), ticket.ListFilters{Limit: recentTickets})
	if err != nil {
		h.log.Error("recent tickets unavailable", "err", err)
	}

	c.HTML(http.StatusOK, "index.html", gin.H{
		"network":  h.opts.Network,
		"snapshot": snap,
		"recent":   recent,
	})
}

func (h *handlers) apiStats(c *gin.Context) {
	snap, err := h.snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"network":  h.opts.Network,
		"snapshot": snap,
	})
}

func (h *handlers) apiTickets(c *gin.Context) {
	var filters ticket.ListFilters
	if k := c.Query("kind"); k != "" {
		kind, err := models.ParseKind(k)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filters.Kind = kind
	}
	if s := c.Query("status"); s != "" {
		if !models.IsValidStatus(s) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(s)})
			return
		}
		filters.Status = s
	}
	filters.Limit = defaultTicketLimit
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filters.Limit = min(n, maxTicketLimit)
	}

	rows, err := RecentTickets(h.opts.DB.WithContext(c.Request.Context()), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": rows, "count": len(rows)})
}

func (h *handlers) health(c *gin.Context) {
	sqlDB, err := h.opts.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// snapshot returns the published statistics, building them first if no
// reconciliation pass has published any yet.
func (h *handlers) snapshot(ctx context.Context) (*stats.Snapshot, error) {
	snap := h.opts.Stats.Current()
	if !snap.GeneratedAt.IsZero() {
		return snap, nil
	}
	return h.opts.Stats.Refresh(h.opts.DB.WithContext(ctx))
}
