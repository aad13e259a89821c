package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Ticket is one registration submitted to the gateway, of any kind. Fields
// that only some kinds carry live in Options.
type Ticket struct {
	ID               uint              `gorm:"primaryKey;autoIncrement"`
	Kind             Kind              `gorm:"size:16;not null;index"`
	ContentID        *uint             `gorm:"index"`
	Status           string            `gorm:"size:16;index"`
	RemoteStatus     string            `gorm:"size:64"` // result status exactly as the gateway last reported it
	RequestID        string            `gorm:"size:128"`
	RequestStatus    string            `gorm:"size:32"`
	ResultID         string            `gorm:"size:128;index"`
	RegistrationTxID string            `gorm:"column:registration_tx_id;size:128"`
	ActivationTxID   string            `gorm:"column:activation_tx_id;size:128"`
	Options          datatypes.JSONMap `gorm:"column:options"`
	PollCount        int               `gorm:"default:0"`
	LastPolledAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// OptString returns a string option or "".
func (t *Ticket) OptString(key string) string {
	s, _ := t.Options[key].(string)
	return s
}

// OptBool returns a boolean option or false.
func (t *Ticket) OptBool(key string) bool {
	b, _ := t.Options[key].(bool)
	return b
}

// OptFloat returns a numeric option as float64. Options read back from the
// database hold json.Number; freshly built maps hold Go numbers.
func (t *Ticket) OptFloat(key string) float64 {
	switch v := t.Options[key].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// OptInt returns a numeric option truncated to int.
func (t *Ticket) OptInt(key string) int {
	return int(t.OptFloat(key))
}
