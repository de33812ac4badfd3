// Package channels implements the chat transports.
package channels

import (
	"context"

	"github.com/javiormeow/nanoclaw/internal/bus"
)

// Channel defines the interface for chat transports.
type Channel interface {
	// Name returns the channel name (e.g. "whatsapp").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send delivers a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus *bus.MessageBus
}
