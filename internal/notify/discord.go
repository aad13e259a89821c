package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo.Session methods we use, enabling
// test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordOpts holds parameters for creating a Discord notifier.
type DiscordOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session discordSession
}

// Discord posts events to a Discord channel over the REST API. No gateway
// connection is opened.
type Discord struct {
	sess      discordSession
	channelID string
	backoff   time.Duration
}

// NewDiscord creates a Discord notifier.
func NewDiscord(opts DiscordOpts) (*Discord, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = s
	}
	return &Discord{sess: sess, channelID: opts.ChannelID, backoff: baseBackoff}, nil
}

// Notify sends e as an embed.
func (d *Discord) Notify(ctx context.Context, e Event) error {
	embed := discordEmbed(e)
	err := retry(ctx, d.backoff, func() error {
		_, sendErr := d.sess.ChannelMessageSendEmbed(d.channelID, embed)
		return sendErr
	}, discordRetryAfter)
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func discordEmbed(e Event) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: e.Title(),
		Color: hexColor(e.color()),
	}
	for _, f := range e.fields() {
		v := f.Value
		if v == "" {
			v = "-"
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  v,
			Inline: len(v) < 40,
		})
	}
	return embed
}

func discordRetryAfter(err error) (time.Duration, bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != 429 {
		return 0, false
	}
	return 0, true
}

// hexColor converts "#rrggbb" to the integer Discord expects.
func hexColor(s string) int {
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return 0
	}
	return int(n)
}
