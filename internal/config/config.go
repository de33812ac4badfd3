// Package config provides configuration types and loading for nanoclaw.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/javiormeow/nanoclaw/internal/channels"
	"github.com/javiormeow/nanoclaw/internal/events"
	"github.com/javiormeow/nanoclaw/internal/router"
	"github.com/javiormeow/nanoclaw/internal/scheduler"
)

// Config is the root configuration struct.
// Top-level groups: Paths, Assistant, Provider, Channels, Scheduler, IPC, Events.
type Config struct {
	Paths     PathsConfig      `json:"paths"`
	Assistant router.Config    `json:"assistant"`
	Provider  ProviderConfig   `json:"provider"`
	Channels  ChannelsConfig   `json:"channels"`
	Scheduler scheduler.Config `json:"scheduler"`
	IPC       IPCConfig        `json:"ipc"`
	Events    events.Config    `json:"events"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups all filesystem path settings. Fields left empty are
// derived from DataDir at load time.
type PathsConfig struct {
	DataDir     string `json:"dataDir" envconfig:"DATA_DIR"`
	DBPath      string `json:"dbPath" envconfig:"DB_PATH"`
	GroupsFile  string `json:"groupsFile" envconfig:"GROUPS_FILE"`
	SessionsDir string `json:"sessionsDir" envconfig:"SESSIONS_DIR"`
}

// ---------------------------------------------------------------------------
// Provider – LLM API key & endpoint
// ---------------------------------------------------------------------------

// ProviderConfig contains settings for the LLM provider and agent loop.
type ProviderConfig struct {
	APIKey        string  `json:"apiKey" envconfig:"API_KEY"`
	APIBase       string  `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Model         string  `json:"model" envconfig:"MODEL"`
	MaxTokens     int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
	Temperature   float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxIterations int     `json:"maxIterations" envconfig:"MAX_ITERATIONS"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	WhatsApp channels.WhatsAppConfig `json:"whatsapp"`
	Slack    channels.SlackConfig    `json:"slack"`
}

// ---------------------------------------------------------------------------
// IPC – filesystem command queue
// ---------------------------------------------------------------------------

// IPCConfig contains settings for the filesystem command queue shared with
// containerized agents. Root holds the inbound queue, GroupDir the per-group
// task snapshots.
type IPCConfig struct {
	Root         string        `json:"root" envconfig:"ROOT"`
	GroupDir     string        `json:"groupDir" envconfig:"GROUP_DIR"`
	PollInterval time.Duration `json:"pollInterval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/." + AppName,
		},
		Assistant: router.DefaultConfig(),
		Provider: ProviderConfig{
			Model:         "gpt-4o-mini",
			MaxTokens:     4096,
			Temperature:   0.7,
			MaxIterations: 10,
		},
		Scheduler: scheduler.DefaultConfig(),
		IPC: IPCConfig{
			PollInterval: 2 * time.Second,
		},
		Events: events.DefaultConfig(),
	}
}

// resolveDerivedPaths fills path fields that default relative to DataDir.
func resolveDerivedPaths(cfg *Config) {
	d := cfg.Paths.DataDir
	if cfg.Paths.DBPath == "" {
		cfg.Paths.DBPath = filepath.Join(d, "nanoclaw.db")
	}
	if cfg.Paths.GroupsFile == "" {
		cfg.Paths.GroupsFile = filepath.Join(d, "groups.json")
	}
	if cfg.Paths.SessionsDir == "" {
		cfg.Paths.SessionsDir = filepath.Join(d, "sessions")
	}
	if cfg.IPC.Root == "" {
		cfg.IPC.Root = filepath.Join(d, "ipc")
	}
	if cfg.IPC.GroupDir == "" {
		cfg.IPC.GroupDir = filepath.Join(d, "groups")
	}
	if cfg.Channels.WhatsApp.DBPath == "" {
		cfg.Channels.WhatsApp.DBPath = filepath.Join(d, "whatsapp.db")
	}
	if cfg.Channels.WhatsApp.QRPath == "" {
		cfg.Channels.WhatsApp.QRPath = filepath.Join(d, "whatsapp-qr.png")
	}
	if cfg.Scheduler.LockPath == "" {
		cfg.Scheduler.LockPath = filepath.Join(d, "scheduler.lock")
	}
}

func expandHome(p *string) {
	if *p != "" && (*p)[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			*p = filepath.Join(home, (*p)[1:])
		}
	}
}
