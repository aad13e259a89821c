package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/netmaker/internal/config"
	"github.com/zulandar/netmaker/internal/models"
)

var successEvent = Event{
	Network:          "testnet",
	Kind:             models.KindCascade,
	TicketID:         12,
	ResultID:         "r1",
	PreviousStatus:   models.StatusPending,
	Status:           models.StatusSuccess,
	RegistrationTxID: "tx1",
	ActivationTxID:   "tx2",
}

// --- Slack mock ---

type mockSlackClient struct {
	mu      sync.Mutex
	posted  []postedMessage
	errs    []error // returned in order, one per call
	callNum int
}

type postedMessage struct {
	channelID string
	options   []slackapi.MsgOption
}

func (m *mockSlackClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callNum++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID, options: options})
	return channelID, "1234567890.123456", nil
}

// --- Discord mock ---

type mockSession struct {
	mu      sync.Mutex
	sent    []*discordgo.MessageEmbed
	channel string
	errs    []error
	callNum int
}

func (m *mockSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callNum++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	m.channel = channelID
	m.sent = append(m.sent, embed)
	return &discordgo.Message{ID: "msg-123"}, nil
}

func TestEvent_Title(t *testing.T) {
	if got := successEvent.Title(); got != "Cascade ticket 12: success" {
		t.Errorf("Title() = %q", got)
	}
}

func TestNew_Platforms(t *testing.T) {
	n, err := New(config.NotifyConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := n.(Nop); !ok {
		t.Errorf("empty platform = %T, want Nop", n)
	}
	if err := n.Notify(context.Background(), successEvent); err != nil {
		t.Errorf("Nop.Notify: %v", err)
	}

	n, err = New(config.NotifyConfig{Platform: "slack", Channel: "C1", Slack: config.SlackConfig{BotToken: "xoxb-1"}})
	if err != nil {
		t.Fatalf("slack: %v", err)
	}
	if _, ok := n.(*Slack); !ok {
		t.Errorf("slack platform = %T", n)
	}

	n, err = New(config.NotifyConfig{Platform: "discord", Channel: "123", Discord: config.DiscordConfig{BotToken: "tok"}})
	if err != nil {
		t.Fatalf("discord: %v", err)
	}
	if _, ok := n.(*Discord); !ok {
		t.Errorf("discord platform = %T", n)
	}

	if _, err := New(config.NotifyConfig{Platform: "teams"}); err == nil {
		t.Error("expected error for unknown platform")
	}
}

func TestNewSlack_RequiresTokenAndChannel(t *testing.T) {
	if _, err := NewSlack(SlackOpts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token")
	}
	if _, err := NewSlack(SlackOpts{BotToken: "xoxb"}); err == nil {
		t.Error("expected error without channel")
	}
}

func TestSlack_Notify(t *testing.T) {
	mock := &mockSlackClient{}
	s, err := NewSlack(SlackOpts{ChannelID: "C123", Client: mock})
	if err != nil {
		t.Fatalf("NewSlack: %v", err)
	}
	if err := s.Notify(context.Background(), successEvent); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mock.posted) != 1 {
		t.Fatalf("posted = %d, want 1", len(mock.posted))
	}
	if mock.posted[0].channelID != "C123" {
		t.Errorf("channel = %q, want C123", mock.posted[0].channelID)
	}
	if len(mock.posted[0].options) != 2 {
		t.Errorf("options = %d, want text + attachment", len(mock.posted[0].options))
	}
}

func TestSlack_RetriesOnRateLimit(t *testing.T) {
	mock := &mockSlackClient{errs: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: mock})

	if err := s.Notify(context.Background(), successEvent); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if mock.callNum != 2 {
		t.Errorf("calls = %d, want 2", mock.callNum)
	}
}

func TestSlack_OtherErrorsNotRetried(t *testing.T) {
	mock := &mockSlackClient{errs: []error{errors.New("channel_not_found")}}
	s, _ := NewSlack(SlackOpts{ChannelID: "C1", Client: mock})

	err := s.Notify(context.Background(), successEvent)
	if err == nil || !strings.Contains(err.Error(), "slack: post message") {
		t.Fatalf("err = %v, want wrapped post error", err)
	}
	if mock.callNum != 1 {
		t.Errorf("calls = %d, want 1", mock.callNum)
	}
}

func TestDiscord_Notify(t *testing.T) {
	mock := &mockSession{}
	d, err := NewDiscord(DiscordOpts{ChannelID: "chan-1", Session: mock})
	if err != nil {
		t.Fatalf("NewDiscord: %v", err)
	}
	if err := d.Notify(context.Background(), successEvent); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if mock.channel != "chan-1" || len(mock.sent) != 1 {
		t.Fatalf("sent %d embeds to %q", len(mock.sent), mock.channel)
	}
	embed := mock.sent[0]
	if embed.Title != "Cascade ticket 12: success" {
		t.Errorf("Title = %q", embed.Title)
	}
	if embed.Color != 0x2eb67d {
		t.Errorf("Color = %#x, want 0x2eb67d", embed.Color)
	}
	if len(embed.Fields) != 5 {
		t.Errorf("Fields = %d, want 5", len(embed.Fields))
	}
}

func TestDiscord_RetriesOn429(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	mock := &mockSession{errs: []error{rateLimited, rateLimited}}
	d, _ := NewDiscord(DiscordOpts{ChannelID: "c", Session: mock})
	d.backoff = time.Millisecond

	if err := d.Notify(context.Background(), successEvent); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if mock.callNum != 3 {
		t.Errorf("calls = %d, want 3", mock.callNum)
	}
}

func TestDiscord_GivesUpAfterMaxRetries(t *testing.T) {
	rateLimited := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	mock := &mockSession{errs: []error{rateLimited, rateLimited, rateLimited, rateLimited, rateLimited}}
	d, _ := NewDiscord(DiscordOpts{ChannelID: "c", Session: mock})
	d.backoff = time.Millisecond

	if err := d.Notify(context.Background(), successEvent); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if mock.callNum != maxRetries+1 {
		t.Errorf("calls = %d, want %d", mock.callNum, maxRetries+1)
	}
}

func TestRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retry(ctx, time.Hour, func() error {
		calls++
		return errors.New("busy")
	}, func(error) (time.Duration, bool) { return 0, true })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestHexColor(t *testing.T) {
	if got := hexColor("#e01e5a"); got != 0xe01e5a {
		t.Errorf("hexColor = %#x", got)
	}
	if got := hexColor("nope"); got != 0 {
		t.Errorf("hexColor(invalid) = %d, want 0", got)
	}
}
