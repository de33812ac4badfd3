package cli

import (
	"fmt"
	"os"

	"github.com/javiormeow/nanoclaw/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ NanoClaw Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 NanoClaw Status")
		fmt.Printf("Version: %s\n", version)

		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Println("Config:   ✓ Found (" + configPath + ")")
		} else {
			fmt.Println("Config:   ✗ Not found (using defaults)")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Config:   ? Unable to load:", err)
			return
		}
		if cfg.Provider.APIKey != "" {
			fmt.Println("API Key:  ✓ Found")
		} else {
			fmt.Println("API Key:  ✗ Not found (set OPENAI_API_KEY)")
		}

		if cfg.Channels.WhatsApp.Enabled {
			fmt.Println("WhatsApp: ✓ Enabled")
			if _, err := os.Stat(cfg.Channels.WhatsApp.DBPath); err == nil {
				fmt.Println("WhatsApp Link: ✓ Session found (no QR needed)")
			} else {
				fmt.Println("WhatsApp Link: ✗ No session (QR needed)")
				fmt.Println("WhatsApp QR:   " + cfg.Channels.WhatsApp.QRPath)
			}
		} else {
			fmt.Println("WhatsApp: ✗ Disabled")
		}
		if cfg.Channels.Slack.Enabled {
			fmt.Println("Slack:    ✓ Enabled")
		} else {
			fmt.Println("Slack:    ✗ Disabled")
		}
		if cfg.Events.Brokers != "" {
			fmt.Println("Audit:    ✓ Kafka (" + cfg.Events.Brokers + ")")
		} else {
			fmt.Println("Audit:    ✗ Disabled")
		}

		if _, err := os.Stat(cfg.Paths.GroupsFile); err == nil {
			fmt.Println("Groups:   " + cfg.Paths.GroupsFile)
		} else {
			fmt.Println("Groups:   ✗ None registered (run 'nanoclaw group add')")
		}

		fmt.Println("Status:   Ready")
	},
}
