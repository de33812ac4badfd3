package channels

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	_ "modernc.org/sqlite"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/javiormeow/nanoclaw/internal/bus"
)

// WhatsAppConfig holds the WhatsApp transport settings.
type WhatsAppConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
	QRPath  string `json:"qrPath" envconfig:"QR_PATH"`
}

// WhatsAppChannel is the native WhatsApp transport. Inbound group messages
// go onto the bus; outbound replies arrive via a bus subscription.
type WhatsAppChannel struct {
	BaseChannel
	config    WhatsAppConfig
	client    *whatsmeow.Client
	container *sqlstore.Container
}

// NewWhatsAppChannel creates a WhatsApp channel.
func NewWhatsAppChannel(cfg WhatsAppConfig, messageBus *bus.MessageBus) *WhatsAppChannel {
	return &WhatsAppChannel{
		BaseChannel: BaseChannel{Bus: messageBus},
		config:      cfg,
	}
}

func (c *WhatsAppChannel) Name() string { return "whatsapp" }

// Start connects to WhatsApp, pairing via QR code on first run.
func (c *WhatsAppChannel) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	dbLog := waLog.Stdout("Database", "WARN", true)
	clientLog := waLog.Stdout("Client", "INFO", true)

	if err := os.MkdirAll(filepath.Dir(c.config.DBPath), 0755); err != nil {
		return fmt.Errorf("whatsapp db dir: %w", err)
	}
	container, err := sqlstore.New(ctx, "sqlite", "file:"+c.config.DBPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("init whatsapp db: %w", err)
	}
	c.container = container

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("get device: %w", err)
	}

	c.client = whatsmeow.NewClient(deviceStore, clientLog)
	c.client.AddEventHandler(c.eventHandler)

	if c.client.Store.ID == nil {
		qrChan, _ := c.client.GetQRChannel(context.Background())
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, c.config.QRPath); err == nil {
					slog.Info("WhatsApp login QR code written", "path", c.config.QRPath)
				} else {
					slog.Error("QR code write failed", "error", err)
				}
			} else {
				slog.Info("WhatsApp login event", "event", evt.Event)
			}
		}
	} else {
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		slog.Info("WhatsApp connected")
	}

	c.Bus.Subscribe(c.Name(), func(msg *bus.OutboundMessage) {
		go func() {
			sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Send(sendCtx, msg); err != nil {
				slog.Error("WhatsApp send failed", "chat", msg.ChatJID, "error", err)
			}
		}()
	})

	return nil
}

func (c *WhatsAppChannel) Stop() error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		c.container.Close()
	}
	return nil
}

// Send delivers one outbound message.
func (c *WhatsAppChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	return c.SendMessage(ctx, msg.ChatJID, msg.Content)
}

// SendMessage sends plain text to a JID. Satisfies the task control
// surface's Sender interface.
func (c *WhatsAppChannel) SendMessage(ctx context.Context, jidStr, text string) error {
	if c.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	jid, err := types.ParseJID(jidStr)
	if err != nil {
		return fmt.Errorf("invalid JID: %w", err)
	}
	waMsg := &waE2E.Message{
		Conversation: proto.String(text),
	}
	_, err = c.client.SendMessage(ctx, jid, waMsg)
	return err
}

func (c *WhatsAppChannel) eventHandler(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		content := extractText(v)
		if content == "" || isSystemNoise(content) {
			return
		}
		c.Bus.PublishInbound(&bus.InboundMessage{
			Channel:   c.Name(),
			MessageID: v.Info.ID,
			ChatJID:   v.Info.Chat.String(),
			ChatName:  v.Info.PushName,
			Sender:    v.Info.Sender.User,
			Content:   content,
			IsFromMe:  v.Info.IsFromMe,
			Timestamp: v.Info.Timestamp,
		})
	}
}

// extractText pulls the plain text out of a message event.
func extractText(v *events.Message) string {
	if t := v.Message.GetConversation(); t != "" {
		return t
	}
	if t := v.Message.GetExtendedTextMessage().GetText(); t != "" {
		return t
	}
	return ""
}

// isSystemNoise filters raw protobuf-like payloads WhatsApp emits for
// security and reaction events.
func isSystemNoise(content string) bool {
	if strings.Contains(content, "senderKeyDistributionMessage") {
		return true
	}
	if strings.Contains(content, "messageContextInfo") &&
		strings.Contains(content, "{") &&
		strings.Contains(content, ":") {
		return true
	}
	return strings.Contains(content, "reactionMessage:{")
}
