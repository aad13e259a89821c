// Package stats aggregates per-kind ticket counts into an immutable snapshot
// that readers can take without touching the database.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zulandar/netmaker/internal/content"
	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/ticket"
	"gorm.io/gorm"
)

// KindStats holds ticket counts for one kind.
type KindStats struct {
	Kind     models.Kind    `json:"kind"`
	Title    string         `json:"title"`
	Total    int            `json:"total"`
	Pending  int            `json:"pending"`
	Success  int            `json:"success"`
	Failure  int            `json:"failure"`
	ByStatus map[string]int `json:"by_status"`

	// ByRemoteStatus breaks tickets down by the raw status the gateway last
	// reported, which is finer than the local vocabulary.
	ByRemoteStatus map[string]int `json:"by_remote_status,omitempty"`
}

// Snapshot is a point-in-time view of the ticket store. A published
// snapshot is never modified.
type Snapshot struct {
	ContentTotal int64       `json:"content_total"`
	Kinds        []KindStats `json:"kinds"`
	GeneratedAt  time.Time   `json:"generated_at"`
}

// Build counts content items and tickets of every kind.
func Build(db *gorm.DB) (*Snapshot, error) {
	total, err := content.Count(db)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	snap := &Snapshot{ContentTotal: total, GeneratedAt: time.Now()}
	for _, k := range models.AllKinds {
		counts, err := ticket.CountsByStatus(db, k)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		remote, err := ticket.CountsByRemoteStatus(db, k)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		ks := KindStats{Kind: k, Title: k.Title(), ByStatus: counts, ByRemoteStatus: remote}
		for status, n := range counts {
			ks.Total += n
			switch status {
			case models.StatusPending:
				ks.Pending += n
			case models.StatusSuccess:
				ks.Success += n
			case models.StatusFailure:
				ks.Failure += n
			}
		}
		snap.Kinds = append(snap.Kinds, ks)
	}
	return snap, nil
}

// Kind returns the counts for k, or zero counts if k is absent.
func (s *Snapshot) Kind(k models.Kind) KindStats {
	for _, ks := range s.Kinds {
		if ks.Kind == k {
			return ks
		}
	}
	return KindStats{Kind: k, Title: k.Title()}
}

// Summary renders a one-line description for logs, e.g.
// "content=12 Cascade=3 (pending: 1 success: 2) ...".
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "content=%d", s.ContentTotal)
	for _, ks := range s.Kinds {
		fmt.Fprintf(&b, " %s=%d", ks.Title, ks.Total)
		if len(ks.ByStatus) == 0 {
			continue
		}
		statuses := make([]string, 0, len(ks.ByStatus))
		for st := range ks.ByStatus {
			statuses = append(statuses, st)
		}
		sort.Strings(statuses)
		parts := make([]string, len(statuses))
		for i, st := range statuses {
			parts[i] = fmt.Sprintf("%s: %d", st, ks.ByStatus[st])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, " "))
	}
	return b.String()
}

// Publisher holds the latest snapshot. Writers replace it wholesale.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// Publish makes snap the current snapshot.
func (p *Publisher) Publish(snap *Snapshot) {
	p.current.Store(snap)
}

// Current returns the latest snapshot, or an empty one before the first
// publish.
func (p *Publisher) Current() *Snapshot {
	if s := p.current.Load(); s != nil {
		return s
	}
	return &Snapshot{}
}

// Refresh builds a new snapshot from db and publishes it.
func (p *Publisher) Refresh(db *gorm.DB) (*Snapshot, error) {
	snap, err := Build(db)
	if err != nil {
		return nil, err
	}
	p.Publish(snap)
	return snap, nil
}
