package models

import "time"

// DefaultCreatorName is recorded on content when the generator supplies none.
const DefaultCreatorName = "pastel.network"

// ContentItem is a generated artifact available for ticket submission. The
// three ticket references mark which kinds have consumed it; once set they
// are never cleared.
type ContentItem struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Description     string `gorm:"type:text;not null"`
	DisplayName     string `gorm:"size:255"`
	CreatorName     string `gorm:"size:128"`
	FilePath        string `gorm:"size:1024"`
	Keywords        string `gorm:"type:text"`
	SeriesName      string `gorm:"size:255"`
	CascadeTicketID *uint  `gorm:"column:cascade_ticket_id;index"`
	SenseTicketID   *uint  `gorm:"column:sense_ticket_id;index"`
	NFTTicketID     *uint  `gorm:"column:nft_ticket_id;index"`
	CreatedAt       time.Time
}

// TicketRef returns the claim for kind, or nil when unclaimed or when the
// kind does not consume content.
func (c *ContentItem) TicketRef(kind Kind) *uint {
	switch kind {
	case KindCascade:
		return c.CascadeTicketID
	case KindSense:
		return c.SenseTicketID
	case KindNFT:
		return c.NFTTicketID
	default:
		return nil
	}
}
