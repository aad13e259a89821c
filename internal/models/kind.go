package models

import (
	"fmt"
	"strings"
)

// Kind identifies a category of registration ticket.
type Kind string

const (
	KindCascade    Kind = "cascade"
	KindSense      Kind = "sense"
	KindNFT        Kind = "nft"
	KindCollection Kind = "collection"
)

// AllKinds lists every ticket kind in display order.
var AllKinds = []Kind{KindCascade, KindSense, KindNFT, KindCollection}

// Ticket statuses as reported by the registration gateway.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ValidStatuses is the closed status vocabulary.
var ValidStatuses = []string{StatusPending, StatusSuccess, StatusFailure}

// ParseKind converts a user-supplied string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("models: unknown ticket kind %q", s)
}

// Title returns the display name used in statistics and logs.
func (k Kind) Title() string {
	switch k {
	case KindCascade:
		return "Cascade"
	case KindSense:
		return "Sense"
	case KindNFT:
		return "NFT"
	case KindCollection:
		return "Collection"
	default:
		return string(k)
	}
}

// ConsumesContent reports whether tickets of this kind claim a ContentItem.
// Collection tickets register a container and reference no content.
func (k Kind) ConsumesContent() bool {
	_, ok := claimColumns[k]
	return ok
}

// claimColumns maps content-consuming kinds to their content_items column.
var claimColumns = map[Kind]string{
	KindCascade: "cascade_ticket_id",
	KindSense:   "sense_ticket_id",
	KindNFT:     "nft_ticket_id",
}

// ClaimColumn returns the content_items column holding this kind's claim.
func (k Kind) ClaimColumn() (string, bool) {
	col, ok := claimColumns[k]
	return col, ok
}

// IsValidStatus reports whether s belongs to the status vocabulary.
func IsValidStatus(s string) bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}
