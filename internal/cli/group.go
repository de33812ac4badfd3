package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/javiormeow/nanoclaw/internal/config"
	"github.com/javiormeow/nanoclaw/internal/router"
)

var (
	groupFolder  string
	groupName    string
	groupChannel string

	groupCmd = &cobra.Command{
		Use:   "group",
		Short: "Manage registered chat groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	groupListCmd = &cobra.Command{
		Use:   "list",
		Short: "List registered groups",
		RunE:  runGroupList,
	}

	groupAddCmd = &cobra.Command{
		Use:   "add <jid>",
		Short: "Register a chat group",
		Args:  cobra.ExactArgs(1),
		RunE:  runGroupAdd,
	}

	groupRemoveCmd = &cobra.Command{
		Use:   "remove <jid>",
		Short: "Unregister a chat group",
		Args:  cobra.ExactArgs(1),
		RunE:  runGroupRemove,
	}
)

func init() {
	groupAddCmd.Flags().StringVar(&groupFolder, "folder", "", "Group folder, doubles as the tenant id (required)")
	groupAddCmd.Flags().StringVar(&groupName, "name", "", "Display name")
	groupAddCmd.Flags().StringVar(&groupChannel, "channel", "whatsapp", "Transport channel (whatsapp or slack)")
	groupAddCmd.MarkFlagRequired("folder")
	groupCmd.AddCommand(groupListCmd, groupAddCmd, groupRemoveCmd)
	rootCmd.AddCommand(groupCmd)
}

func loadGroups() (*router.Registry, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return router.LoadRegistry(cfg.Paths.GroupsFile)
}

func runGroupList(cmd *cobra.Command, args []string) error {
	groups, err := loadGroups()
	if err != nil {
		return err
	}
	all := groups.All()
	if len(all) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No groups registered.")
		return nil
	}
	for _, g := range all {
		fmt.Fprintf(cmd.OutOrStdout(), "%-12s %-10s %s (%s)\n", g.Folder, g.Channel, g.JID, g.Name)
	}
	return nil
}

func runGroupAdd(cmd *cobra.Command, args []string) error {
	groups, err := loadGroups()
	if err != nil {
		return err
	}
	g := router.Group{
		JID:     args[0],
		Folder:  groupFolder,
		Name:    groupName,
		Channel: groupChannel,
	}
	if err := groups.Register(g); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s as %q\n", g.JID, g.Folder)
	return nil
}

func runGroupRemove(cmd *cobra.Command, args []string) error {
	groups, err := loadGroups()
	if err != nil {
		return err
	}
	if err := groups.Unregister(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s\n", args[0])
	return nil
}
