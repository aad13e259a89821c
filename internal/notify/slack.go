package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// SlackOpts holds parameters for creating a Slack notifier.
type SlackOpts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// Slack posts events to a Slack channel.
type Slack struct {
	client    slackClient
	channelID string
	backoff   time.Duration
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOpts) (*Slack, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Slack{client: client, channelID: opts.ChannelID, backoff: baseBackoff}, nil
}

// Notify posts e as a message attachment.
func (s *Slack) Notify(ctx context.Context, e Event) error {
	options := slackMessageOptions(e)
	err := retry(ctx, s.backoff, func() error {
		_, _, postErr := s.client.PostMessage(s.channelID, options...)
		return postErr
	}, slackRetryAfter)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func slackMessageOptions(e Event) []slackapi.MsgOption {
	att := slackapi.Attachment{
		Title:    e.Title(),
		Color:    e.color(),
		Fallback: e.Title(),
	}
	for _, f := range e.fields() {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: len(f.Value) < 40,
		})
	}
	return []slackapi.MsgOption{
		slackapi.MsgOptionText(e.Title(), false),
		slackapi.MsgOptionAttachments(att),
	}
}

func slackRetryAfter(err error) (time.Duration, bool) {
	var rle *slackapi.RateLimitedError
	if !errors.As(err, &rle) {
		return 0, false
	}
	return rle.RetryAfter, true
}
