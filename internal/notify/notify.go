// Package notify announces terminal ticket transitions on a chat platform.
package notify

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/models"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff between rate-limited retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = time.Minute
)

// Colors used for message accents.
const (
	colorSuccess = "#2eb67d"
	colorFailure = "#e01e5a"
	colorOther   = "#8f8f8f"
)

// Event is a ticket status change worth announcing.
type Event struct {
	Network          string
	Kind             models.Kind
	TicketID         uint
	ResultID         string
	PreviousStatus   string
	Status           string
	RegistrationTxID string
	ActivationTxID   string
}

// Title renders a one-line headline, e.g. "Cascade ticket 12: success".
func (e Event) Title() string {
	return fmt.Sprintf("%s ticket %d: %s", e.Kind.Title(), e.TicketID, e.Status)
}

type field struct {
	Name  string
	Value string
}

func (e Event) fields() []field {
	fs := []field{
		{"Network", e.Network},
		{"Result ID", e.ResultID},
		{"Previous status", e.PreviousStatus},
	}
	if e.RegistrationTxID != "" {
		fs = append(fs, field{"Registration tx", e.RegistrationTxID})
	}
	if e.ActivationTxID != "" {
		fs = append(fs, field{"Activation tx", e.ActivationTxID})
	}
	return fs
}

func (e Event) color() string {
	switch e.Status {
	case models.StatusSuccess:
		return colorSuccess
	case models.StatusFailure:
		return colorFailure
	default:
		return colorOther
	}
}

// Notifier delivers events. Implementations must be safe for use by one
// goroutine at a time; callers log and drop errors.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, Event) error { return nil }

// New builds the notifier selected by the configuration. An empty platform
// yields Nop.
func New(c config.NotifyConfig) (Notifier, error) {
	switch c.Platform {
	case "":
		return Nop{}, nil
	case "slack":
		return NewSlack(SlackOpts{BotToken: c.Slack.BotToken, ChannelID: c.Channel})
	case "discord":
		return NewDiscord(DiscordOpts{BotToken: c.Discord.BotToken, ChannelID: c.Channel})
	default:
		return nil, fmt.Errorf("notify: unknown platform %q", c.Platform)
	}
}

// backoff returns the wait before retry attempt n (0-based).
func backoff(base time.Duration, attempt int) time.Duration {
	wait := time.Duration(math.Pow(2, float64(attempt))) * base
	if wait > maxBackoff {
		wait = maxBackoff
	}
	return wait
}

// retry calls fn until it succeeds, fails with an error retryAfter does not
// recognise, or maxRetries is exhausted. retryAfter returns the wait for a
// rate-limit error and false for anything else.
func retry(ctx context.Context, base time.Duration, fn func() error, retryAfter func(error) (time.Duration, bool)) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		wait, ok := retryAfter(err)
		if !ok || attempt == maxRetries {
			return err
		}
		if wait <= 0 {
			wait = backoff(base, attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
