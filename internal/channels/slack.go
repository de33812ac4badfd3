package channels

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"

	"github.com/javiormeow/nanoclaw/internal/bus"
)

// SlackConfig holds the Slack transport settings.
type SlackConfig struct {
	Enabled  bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
}

// SlackChannel is an alternate outbound-capable transport. Groups
// registered with channel "slack" use a Slack channel ID as their JID.
type SlackChannel struct {
	BaseChannel
	config SlackConfig
	api    *slack.Client
}

// NewSlackChannel creates a Slack channel.
func NewSlackChannel(cfg SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}
	c.api = slack.New(c.config.BotToken)

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Send(sendCtx, msg); err != nil {
				slog.Error("Slack send failed", "channel", msg.ChatJID, "error", err)
			}
		}()
	})
	slog.Info("Slack channel started")
	return nil
}

func (c *SlackChannel) Stop() error { return nil }

// Send delivers one outbound message.
func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	return c.SendMessage(ctx, msg.ChatJID, msg.Content)
}

// SendMessage posts plain text to a Slack channel ID. Satisfies the task
// control surface's Sender interface.
func (c *SlackChannel) SendMessage(ctx context.Context, channelID, text string) error {
	if c.api == nil {
		return fmt.Errorf("slack client not initialized")
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID, slack.MsgOptionText(text, false))
	return err
}
