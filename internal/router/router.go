package router

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/javiormeow/nanoclaw/internal/agent"
	"github.com/javiormeow/nanoclaw/internal/bus"
	"github.com/javiormeow/nanoclaw/internal/session"
	"github.com/javiormeow/nanoclaw/internal/taskctl"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// clearCommand archives the group's session and starts fresh.
const clearCommand = "/clear"

// Config holds router settings.
type Config struct {
	// AssistantName forms the trigger pattern: a message must mention
	// @<AssistantName> to reach the agent.
	AssistantName string        `json:"assistantName" envconfig:"ASSISTANT_NAME"`
	PollInterval  time.Duration `json:"pollInterval"`
}

// DefaultConfig returns sensible router defaults.
func DefaultConfig() Config {
	return Config{
		AssistantName: "Andy",
		PollInterval:  2 * time.Second,
	}
}

// Router ingests transport messages into the store, polls for new rows in
// registered groups, and runs the agent for triggered messages.
type Router struct {
	cfg      Config
	store    *taskstore.Store
	groups   *Registry
	runner   agent.Runner
	sessions *session.Store
	bus      *bus.MessageBus
	sender   taskctl.Sender
	trigger  *regexp.Regexp

	watermark string
}

// New creates a Router. The watermark starts at now: only messages arriving
// after startup are processed.
func New(cfg Config, store *taskstore.Store, groups *Registry, runner agent.Runner, sessions *session.Store, b *bus.MessageBus, sender taskctl.Sender) *Router {
	if cfg.AssistantName == "" {
		cfg.AssistantName = DefaultConfig().AssistantName
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Router{
		cfg:       cfg,
		store:     store,
		groups:    groups,
		runner:    runner,
		sessions:  sessions,
		bus:       b,
		sender:    sender,
		trigger:   regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(cfg.AssistantName) + `\b`),
		watermark: taskstore.Watermark(time.Now()),
	}
}

// Run starts the ingest and poll loops. Blocks until context cancellation.
func (r *Router) Run(ctx context.Context) error {
	go r.ingestInbound(ctx)

	slog.Info("Router started", "assistant", r.cfg.AssistantName, "poll", r.cfg.PollInterval)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Router stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Poll(ctx)
		}
	}
}

// ingestInbound copies transport messages off the bus into the store.
func (r *Router) ingestInbound(ctx context.Context) {
	for {
		msg, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			return
		}
		err = r.store.StoreChatMessage(&taskstore.ChatMessage{
			ID:        msg.MessageID,
			ChatJID:   msg.ChatJID,
			Sender:    msg.Sender,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
			IsFromMe:  msg.IsFromMe,
		})
		if err != nil {
			slog.Error("Message store failed", "chat", msg.ChatJID, "error", err)
		}
	}
}

// Poll processes all messages newer than the watermark in registered
// groups. A store failure leaves the watermark alone so the next poll
// retries the same window.
func (r *Router) Poll(ctx context.Context) {
	jids := r.groups.JIDs()
	if len(jids) == 0 {
		return
	}
	messages, err := r.store.GetMessagesAfter(r.watermark, jids)
	if err != nil {
		slog.Error("Router poll failed", "error", err)
		return
	}

	for _, msg := range messages {
		r.watermark = taskstore.Watermark(msg.Timestamp)
		if msg.IsFromMe {
			continue
		}
		group, ok := r.groups.Get(msg.ChatJID)
		if !ok {
			continue
		}
		r.handle(ctx, group, msg)
	}
}

// handle processes one inbound message for a registered group.
func (r *Router) handle(ctx context.Context, group Group, msg *taskstore.ChatMessage) {
	content := strings.TrimSpace(msg.Content)

	if strings.EqualFold(content, clearCommand) {
		if err := r.sessions.Clear(group.Folder); err != nil {
			slog.Error("Session clear failed", "group", group.Folder, "error", err)
			r.reply(group, "Failed to clear session.")
			return
		}
		slog.Info("Session cleared", "group", group.Folder)
		r.reply(group, "Session cleared. Starting fresh.")
		return
	}

	if !r.trigger.MatchString(content) {
		return
	}

	prompt := strings.TrimSpace(r.trigger.ReplaceAllString(content, ""))
	if prompt == "" {
		return
	}

	sessionID, ok := r.sessions.Get(group.Folder)
	if !ok {
		sessionID = uuid.NewString()
		if err := r.sessions.Set(group.Folder, sessionID); err != nil {
			slog.Error("Session save failed", "group", group.Folder, "error", err)
		}
	}

	surface := taskctl.NewSurface(r.store, r.sender, group.Folder, group.JID)
	result, err := r.runner.Run(ctx, agent.RunRequest{
		GroupFolder: group.Folder,
		ChatJID:     group.JID,
		Prompt:      prompt,
		SessionID:   sessionID,
		Registry:    taskctl.Registry(surface),
	})
	if err != nil {
		slog.Error("Agent run failed", "group", group.Folder, "error", err)
		r.reply(group, fmt.Sprintf("Sorry, something went wrong: %v", err))
		return
	}
	if result.Content != "" {
		r.reply(group, result.Content)
	}
}

func (r *Router) reply(group Group, text string) {
	r.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: group.Channel,
		ChatJID: group.JID,
		Content: text,
	})
}
