package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("NANOCLAW_HOME", dir)
	t.Setenv("NANOCLAW_CONFIG", "")
	t.Setenv("NANOCLAW_ENV_FILE", "")
	t.Setenv("OPENAI_API_KEY", "")
	return dir
}

func writeConfigFile(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	home := setHome(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Paths.DataDir != filepath.Join(home, ConfigDir) {
		t.Errorf("DataDir = %q", cfg.Paths.DataDir)
	}
	if want := filepath.Join(home, ConfigDir, "nanoclaw.db"); cfg.Paths.DBPath != want {
		t.Errorf("DBPath = %q, want %q", cfg.Paths.DBPath, want)
	}
	if want := filepath.Join(home, ConfigDir, "ipc"); cfg.IPC.Root != want {
		t.Errorf("IPC.Root = %q, want %q", cfg.IPC.Root, want)
	}
	if cfg.Assistant.AssistantName == "" {
		t.Error("AssistantName default missing")
	}
	if cfg.Provider.Model != "gpt-4o-mini" {
		t.Errorf("Model = %q", cfg.Provider.Model)
	}
	if cfg.Events.Brokers != "" {
		t.Errorf("Events.Brokers = %q, want disabled", cfg.Events.Brokers)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	home := setHome(t)
	writeConfigFile(t, home, `{
		"assistant": {"assistantName": "Max"},
		"provider": {"model": "gpt-4o", "apiKey": "file-key"},
		"channels": {"slack": {"enabled": true, "botToken": "xoxb-1"}},
		"events": {"brokers": "localhost:9092"}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Assistant.AssistantName != "Max" {
		t.Errorf("AssistantName = %q", cfg.Assistant.AssistantName)
	}
	if cfg.Provider.Model != "gpt-4o" || cfg.Provider.APIKey != "file-key" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if !cfg.Channels.Slack.Enabled || cfg.Channels.Slack.BotToken != "xoxb-1" {
		t.Errorf("slack = %+v", cfg.Channels.Slack)
	}
	if cfg.Events.Brokers != "localhost:9092" {
		t.Errorf("brokers = %q", cfg.Events.Brokers)
	}
	// Untouched groups keep their defaults.
	if cfg.Provider.MaxIterations != 10 {
		t.Errorf("MaxIterations = %d", cfg.Provider.MaxIterations)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := setHome(t)
	writeConfigFile(t, home, `{"provider": {"model": "gpt-4o", "apiKey": "file-key"}}`)
	t.Setenv("NANOCLAW_PROVIDER_MODEL", "gpt-4.1")
	t.Setenv("NANOCLAW_CHANNELS_WHATSAPP_ENABLED", "true")
	t.Setenv("NANOCLAW_EVENTS_BROKERS", "broker-a:9092,broker-b:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider.Model != "gpt-4.1" {
		t.Errorf("Model = %q, env should win", cfg.Provider.Model)
	}
	if cfg.Provider.APIKey != "file-key" {
		t.Errorf("APIKey = %q, file value should survive", cfg.Provider.APIKey)
	}
	if !cfg.Channels.WhatsApp.Enabled {
		t.Error("whatsapp not enabled from env")
	}
	if cfg.Events.Brokers != "broker-a:9092,broker-b:9092" {
		t.Errorf("brokers = %q", cfg.Events.Brokers)
	}
}

func TestOpenAIKeyFallback(t *testing.T) {
	setHome(t)
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-fallback" {
		t.Errorf("APIKey = %q", cfg.Provider.APIKey)
	}
}

func TestIncludeAndEnvSubstitution(t *testing.T) {
	home := setHome(t)
	t.Setenv("NC_TEST_TOKEN", "xoxb-resolved")

	base := filepath.Join(home, ConfigDir, "base.json")
	if err := os.MkdirAll(filepath.Dir(base), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(base, []byte(`{"provider": {"model": "gpt-4o", "maxTokens": 2048}}`), 0600); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, home, `{
		"$include": ["base.json"],
		"provider": {"model": "gpt-4.1"},
		"channels": {"slack": {"botToken": "${NC_TEST_TOKEN}"}}
	}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// Including file wins over included values, non-conflicting keys merge.
	if cfg.Provider.Model != "gpt-4.1" {
		t.Errorf("Model = %q", cfg.Provider.Model)
	}
	if cfg.Provider.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d", cfg.Provider.MaxTokens)
	}
	if cfg.Channels.Slack.BotToken != "xoxb-resolved" {
		t.Errorf("BotToken = %q", cfg.Channels.Slack.BotToken)
	}
}

func TestIncludeCycle(t *testing.T) {
	home := setHome(t)
	writeConfigFile(t, home, `{"$include": ["config.json"]}`)

	if _, err := Load(); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestEnvFileLoaded(t *testing.T) {
	home := setHome(t)
	envPath := filepath.Join(home, "env")
	content := "# comment\nexport NANOCLAW_PROVIDER_MODEL=\"gpt-4o\"\nNANOCLAW_ASSISTANT_ASSISTANT_NAME='Robo'\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NANOCLAW_ENV_FILE", envPath)
	// Load exports the env-file vars into the process env; undo that so
	// later tests in this process are not polluted.
	t.Cleanup(func() {
		os.Unsetenv("NANOCLAW_PROVIDER_MODEL")
		os.Unsetenv("NANOCLAW_ASSISTANT_ASSISTANT_NAME")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.Model != "gpt-4o" {
		t.Errorf("Model = %q", cfg.Provider.Model)
	}
	if cfg.Assistant.AssistantName != "Robo" {
		t.Errorf("AssistantName = %q", cfg.Assistant.AssistantName)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	setHome(t)

	cfg := DefaultConfig()
	cfg.Assistant.AssistantName = "Saved"
	cfg.IPC.PollInterval = 5 * time.Second
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Assistant.AssistantName != "Saved" {
		t.Errorf("AssistantName = %q", got.Assistant.AssistantName)
	}
	if got.IPC.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v", got.IPC.PollInterval)
	}
}

func TestConfigPathExplicit(t *testing.T) {
	setHome(t)
	t.Setenv("NANOCLAW_CONFIG", "/etc/nanoclaw/config.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != "/etc/nanoclaw/config.json" {
		t.Errorf("path = %q", path)
	}
}
