package dashboard

import (
	"fmt"
	"time"

	"github.com/zulandar/netmaker/internal/models"
	"github.com/zulandar/netmaker/internal/ticket"
	"gorm.io/gorm"
)

// TicketRow holds ticket data for display.
type TicketRow struct {
	ID               uint        `json:"id"`
	Kind             models.Kind `json:"kind"`
	Title            string      `json:"title"`
	Status           string      `json:"status"`
	ResultID         string      `json:"result_id"`
	RegistrationTxID string      `json:"registration_tx_id,omitempty"`
	ActivationTxID   string      `json:"activation_tx_id,omitempty"`
	PollCount        int         `json:"poll_count"`
	CreatedAt        time.Time   `json:"created_at"`
	CompletedAt      *time.Time  `json:"completed_at,omitempty"`
}

// RecentTickets returns tickets matching filters, newest first.
func RecentTickets(db *gorm.DB, filters ticket.ListFilters) ([]TicketRow, error) {
	tickets, err := ticket.List(db, filters)
	if err != nil {
		return nil, err
	}
	rows := make([]TicketRow, len(tickets))
	for i, t := range tickets {
		rows[i] = TicketRow{
			ID:               t.ID,
			Kind:             t.Kind,
			Title:            t.Kind.Title(),
			Status:           t.Status,
			ResultID:         t.ResultID,
			RegistrationTxID: t.RegistrationTxID,
			ActivationTxID:   t.ActivationTxID,
			PollCount:        t.PollCount,
			CreatedAt:        t.CreatedAt,
			CompletedAt:      t.CompletedAt,
		}
	}
	return rows, nil
}

// timeAgo renders the age of t relative to now in the coarsest whole unit.
func timeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
