// Package ticket provides the durable registration-ticket store and its
// state machine. All ticket kinds share one table; kind-specific fields are
// kept in the ticket's options map.
package ticket

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrNoContent is returned when no content is left for a kind.
	ErrNoContent = fmt.Errorf("ticket: no unclaimed content: %w", gorm.ErrRecordNotFound)
	// ErrAlreadyClaimed is returned when the content was claimed by another
	// ticket of the same kind, or no longer exists.
	ErrAlreadyClaimed = errors.New("ticket: content already claimed")
	// ErrTerminal is returned when a write targets a ticket in a terminal status.
	ErrTerminal = errors.New("ticket: ticket is terminal")
)

// Policy decides which statuses are terminal. Success always is; failure is
// terminal unless RepollFailed is set.
type Policy struct {
	RepollFailed bool
	// MaxFailedPolls caps re-polls of a failed ticket; 0 means unlimited.
	MaxFailedPolls int
}

// PolicyFromConfig builds a Policy from the reconcile settings.
func PolicyFromConfig(c config.ReconcileConfig) Policy {
	return Policy{
		RepollFailed:   c.FailurePolicy == config.FailureRepoll,
		MaxFailedPolls: c.MaxFailedPolls,
	}
}

// IsTerminal reports whether no further reconciliation may touch a ticket in
// status.
func (p Policy) IsTerminal(status string) bool {
	switch status {
	case models.StatusSuccess:
		return true
	case models.StatusFailure:
		return !p.RepollFailed
	default:
		return false
	}
}

// CreateOpts holds parameters for recording a newly submitted ticket.
type CreateOpts struct {
	Kind             models.Kind
	ContentID        *uint // required for content-consuming kinds, nil for collections
	Status           string
	RemoteStatus     string
	RequestID        string
	RequestStatus    string
	ResultID         string
	RegistrationTxID string
	ActivationTxID   string
	Options          map[string]interface{}
}

// ListFilters holds optional filters for listing tickets.
type ListFilters struct {
	Kind   models.Kind
	Status string
	Limit  int
}

// FindUnclaimedContent returns one content item that kind has not consumed
// yet, oldest first. It returns ErrNoContent when everything is claimed.
func FindUnclaimedContent(db *gorm.DB, kind models.Kind) (*models.ContentItem, error) {
	col, ok := kind.ClaimColumn()
	if !ok {
		return nil, fmt.Errorf("ticket: kind %s does not consume content", kind)
	}

	var item models.ContentItem
	result := db.Where(col + " IS NULL").Order("id ASC").Limit(1).Find(&item)
	if result.Error != nil {
		return nil, fmt.Errorf("ticket: find content for %s: %w", kind, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrNoContent
	}
	return &item, nil
}

// Create inserts a ticket and claims its content in one transaction. The
// claim only succeeds while the content's reference for the kind is still
// unset; otherwise nothing is written and ErrAlreadyClaimed is returned.
func Create(db *gorm.DB, opts CreateOpts) (*models.Ticket, error) {
	if _, err := models.ParseKind(string(opts.Kind)); err != nil {
		return nil, fmt.Errorf("ticket: %w", err)
	}
	if opts.Status == "" {
		opts.Status = models.StatusPending
	}
	if !models.IsValidStatus(opts.Status) {
		return nil, fmt.Errorf("ticket: invalid status %q", opts.Status)
	}
	if opts.ResultID == "" && opts.Status != models.StatusPending {
		return nil, fmt.Errorf("ticket: result id is required once status is %q", opts.Status)
	}
	col, consumes := opts.Kind.ClaimColumn()
	if consumes && opts.ContentID == nil {
		return nil, fmt.Errorf("ticket: %s ticket requires a content id", opts.Kind)
	}
	if !consumes && opts.ContentID != nil {
		return nil, fmt.Errorf("ticket: %s ticket cannot reference content", opts.Kind)
	}
	if err := ValidateOptions(opts.Kind, opts.Options); err != nil {
		return nil, err
	}

	t := models.Ticket{
		Kind:             opts.Kind,
		ContentID:        opts.ContentID,
		Status:           opts.Status,
		RemoteStatus:     opts.RemoteStatus,
		RequestID:        opts.RequestID,
		RequestStatus:    opts.RequestStatus,
		ResultID:         opts.ResultID,
		RegistrationTxID: opts.RegistrationTxID,
		ActivationTxID:   opts.ActivationTxID,
		Options:          opts.Options,
	}
	if t.Options == nil {
		t.Options = map[string]interface{}{}
	}
	if isFinal(t.Status) {
		now := time.Now()
		t.CompletedAt = &now
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&t).Error; err != nil {
			return fmt.Errorf("ticket: create %s: %w", opts.Kind, err)
		}
		if !consumes {
			return nil
		}
		res := tx.Model(&models.ContentItem{}).
			Where("id = ? AND "+col+" IS NULL", *opts.ContentID).
			Update(col, t.ID)
		if res.Error != nil {
			return fmt.Errorf("ticket: claim content %d for %s: %w", *opts.ContentID, opts.Kind, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("ticket: claim content %d for %s: %w", *opts.ContentID, opts.Kind, ErrAlreadyClaimed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateStatus overwrites a ticket's status and transaction ids. The caller
// must not call it for a ticket that is already terminal. The poll counter
// restarts because it counts polls since the last status change.
func UpdateStatus(db *gorm.DB, id uint, status, regTxID, actTxID string) error {
	if !models.IsValidStatus(status) {
		return fmt.Errorf("ticket: invalid status %q", status)
	}
	updates := map[string]interface{}{
		"status":             status,
		"registration_tx_id": regTxID,
		"activation_tx_id":   actTxID,
		"poll_count":         0,
		"completed_at":       nil,
	}
	if isFinal(status) {
		updates["completed_at"] = time.Now()
	}

	res := db.Model(&models.Ticket{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("ticket: update %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ticket: not found: %d", id)
	}
	return nil
}

// RecordProgress stores what the gateway reported for a ticket whose local
// status has not changed: the raw result status and any transaction ids it
// has issued so far. Empty ids never overwrite stored ones.
func RecordProgress(db *gorm.DB, id uint, remoteStatus, regTxID, actTxID string) error {
	updates := map[string]interface{}{"remote_status": remoteStatus}
	if regTxID != "" {
		updates["registration_tx_id"] = regTxID
	}
	if actTxID != "" {
		updates["activation_tx_id"] = actTxID
	}
	if err := db.Model(&models.Ticket{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("ticket: record progress %d: %w", id, err)
	}
	return nil
}

// CountsByRemoteStatus returns the number of tickets of kind per raw gateway
// status. Tickets the gateway has not reported on yet are left out.
func CountsByRemoteStatus(db *gorm.DB, kind models.Kind) (map[string]int, error) {
	type row struct {
		RemoteStatus string
		Count        int
	}
	var rows []row
	if err := db.Model(&models.Ticket{}).
		Select("remote_status, COUNT(*) as count").
		Where("kind = ? AND remote_status <> ''", kind).
		Group("remote_status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ticket: remote counts for %s: %w", kind, err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.RemoteStatus] += r.Count
	}
	return counts, nil
}

// RecordPoll notes that the gateway was asked about a ticket.
func RecordPoll(db *gorm.DB, id uint) error {
	res := db.Model(&models.Ticket{}).Where("id = ?", id).UpdateColumns(map[string]interface{}{
		"poll_count":     gorm.Expr("poll_count + 1"),
		"last_polled_at": time.Now(),
	})
	if res.Error != nil {
		return fmt.Errorf("ticket: record poll %d: %w", id, res.Error)
	}
	return nil
}

// ListNonTerminal returns every ticket of kind that reconciliation should
// still poll under policy, oldest first.
func ListNonTerminal(db *gorm.DB, kind models.Kind, p Policy) ([]models.Ticket, error) {
	q := db.Where("kind = ? AND status <> ?", kind, models.StatusSuccess)
	switch {
	case !p.RepollFailed:
		q = q.Where("status <> ?", models.StatusFailure)
	case p.MaxFailedPolls > 0:
		q = q.Where("(status <> ? OR poll_count < ?)", models.StatusFailure, p.MaxFailedPolls)
	}

	var tickets []models.Ticket
	if err := q.Order("id ASC").Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("ticket: list non-terminal %s: %w", kind, err)
	}
	return tickets, nil
}

// CountsByStatus returns the number of tickets of kind per status.
func CountsByStatus(db *gorm.DB, kind models.Kind) (map[string]int, error) {
	type row struct {
		Status string
		Count  int
	}
	var rows []row
	if err := db.Model(&models.Ticket{}).
		Select("status, COUNT(*) as count").
		Where("kind = ?", kind).
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ticket: counts for %s: %w", kind, err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] += r.Count
	}
	return counts, nil
}

// Get retrieves a ticket by ID.
func Get(db *gorm.DB, id uint) (*models.Ticket, error) {
	var t models.Ticket
	if err := db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("ticket: not found: %d", id)
		}
		return nil, fmt.Errorf("ticket: get %d: %w", id, err)
	}
	return &t, nil
}

// List returns tickets matching filters, newest first.
func List(db *gorm.DB, filters ListFilters) ([]models.Ticket, error) {
	q := db.Model(&models.Ticket{})
	if filters.Kind != "" {
		q = q.Where("kind = ?", filters.Kind)
	}
	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.Limit > 0 {
		q = q.Limit(filters.Limit)
	}

	var tickets []models.Ticket
	if err := q.Order("id DESC").Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("ticket: list: %w", err)
	}
	return tickets, nil
}

// LatestCollection returns the newest successfully registered collection of
// the given collection type ("sense" or "nft"), or nil when there is none.
func LatestCollection(db *gorm.DB, collectionType string) (*models.Ticket, error) {
	var tickets []models.Ticket
	if err := db.Where("kind = ? AND status = ? AND activation_tx_id <> ''", models.KindCollection, models.StatusSuccess).
		Order("id DESC").Find(&tickets).Error; err != nil {
		return nil, fmt.Errorf("ticket: latest collection: %w", err)
	}
	for i := range tickets {
		if tickets[i].OptString(OptCollectionType) == collectionType {
			return &tickets[i], nil
		}
	}
	return nil, nil
}

// HasOpenCollection reports whether a collection ticket is registered or
// still being registered, so a new one should not be started.
func HasOpenCollection(db *gorm.DB) (bool, error) {
	var n int64
	if err := db.Model(&models.Ticket{}).
		Where("kind = ? AND status <> ?", models.KindCollection, models.StatusFailure).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("ticket: count open collections: %w", err)
	}
	return n > 0, nil
}

// isFinal reports whether status ends a registration attempt, regardless of
// whether the failure policy will poll it again.
func isFinal(status string) bool {
	return status == models.StatusSuccess || status == models.StatusFailure
}
