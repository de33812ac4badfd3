package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/javiormeow/nanoclaw/internal/agent"
	"github.com/javiormeow/nanoclaw/internal/bus"
	"github.com/javiormeow/nanoclaw/internal/channels"
	"github.com/javiormeow/nanoclaw/internal/config"
	"github.com/javiormeow/nanoclaw/internal/events"
	"github.com/javiormeow/nanoclaw/internal/ipc"
	"github.com/javiormeow/nanoclaw/internal/provider"
	"github.com/javiormeow/nanoclaw/internal/router"
	"github.com/javiormeow/nanoclaw/internal/scheduler"
	"github.com/javiormeow/nanoclaw/internal/session"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

var runVerbose bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the assistant daemon",
	Long:  "Starts the channels, message router, task scheduler and command queue. Blocks until interrupted.",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// busSender delivers task and tool sends through the outbound bus so they
// leave on the same transport the group is registered with.
type busSender struct {
	groups *router.Registry
	bus    *bus.MessageBus
}

func (s *busSender) SendMessage(ctx context.Context, jid, text string) error {
	channel := "whatsapp"
	if g, ok := s.groups.Get(jid); ok {
		channel = g.Channel
	}
	s.bus.PublishOutbound(&bus.OutboundMessage{
		Channel: channel,
		ChatJID: jid,
		Content: text,
	})
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	printHeader("🤖 NanoClaw Daemon")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("no API key configured (set OPENAI_API_KEY or provider.apiKey)")
	}
	if err := config.EnsureDir(cfg.Paths.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := taskstore.Open(cfg.Paths.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	sessions, err := session.NewStore(cfg.Paths.SessionsDir)
	if err != nil {
		return fmt.Errorf("open sessions: %w", err)
	}

	groups, err := router.LoadRegistry(cfg.Paths.GroupsFile)
	if err != nil {
		return fmt.Errorf("load groups: %w", err)
	}

	msgBus := bus.NewMessageBus()
	sender := &busSender{groups: groups, bus: msgBus}

	if cfg.Channels.WhatsApp.Enabled {
		wa := channels.NewWhatsAppChannel(cfg.Channels.WhatsApp, msgBus)
		if err := wa.Start(ctx); err != nil {
			return fmt.Errorf("whatsapp: %w", err)
		}
		defer wa.Stop()
	}
	if cfg.Channels.Slack.Enabled {
		sl := channels.NewSlackChannel(cfg.Channels.Slack, msgBus)
		if err := sl.Start(ctx); err != nil {
			return fmt.Errorf("slack: %w", err)
		}
		defer sl.Stop()
	}
	go msgBus.DispatchOutbound(ctx)

	prov := provider.NewOpenAIProvider(cfg.Provider.APIKey, cfg.Provider.APIBase, cfg.Provider.Model)
	loop := agent.NewLoopRunner(prov, agent.Options{
		Model:         cfg.Provider.Model,
		MaxIterations: cfg.Provider.MaxIterations,
		MaxTokens:     cfg.Provider.MaxTokens,
		Temperature:   cfg.Provider.Temperature,
	})

	rtr := router.New(cfg.Assistant, store, groups, loop, sessions, msgBus, sender)

	sched := scheduler.New(cfg.Scheduler, store, agent.NewTaskRunner(loop, store, sender))
	if pub := events.NewPublisher(cfg.Events); pub != nil {
		sched.SetObserver(pub)
		defer pub.Close()
	}

	snapshot := ipc.NewSnapshotter(store, cfg.IPC.GroupDir)
	if err := snapshot.Refresh(); err != nil {
		slog.Warn("Initial task snapshot failed", "error", err)
	}
	consumer := ipc.NewConsumer(cfg.IPC.Root, store, sender, cfg.IPC.PollInterval, snapshot)

	errs := make(chan error, 3)
	go func() { errs <- rtr.Run(ctx) }()
	go func() { errs <- sched.Run(ctx) }()
	go func() { errs <- consumer.Run(ctx) }()

	slog.Info("NanoClaw started",
		"version", version,
		"groups", len(groups.All()),
		"db", filepath.Base(cfg.Paths.DBPath))

	err = <-errs
	stop()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
