package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/javiormeow/nanoclaw/internal/config"
	"github.com/javiormeow/nanoclaw/internal/taskctl"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

var (
	taskJSON  bool
	taskGroup string

	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Inspect and manage scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List scheduled tasks",
		RunE:  runTaskList,
	}

	taskGetCmd = &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task with its recent runs",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskGet,
	}

	taskPauseCmd = &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause a task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runTaskAction(cmd, args[0], "pause") },
	}

	taskResumeCmd = &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runTaskAction(cmd, args[0], "resume") },
	}

	taskCancelCmd = &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel and delete a task",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return runTaskAction(cmd, args[0], "cancel") },
	}
)

func init() {
	taskCmd.PersistentFlags().BoolVar(&taskJSON, "json", false, "Output machine-readable JSON")
	taskListCmd.Flags().StringVar(&taskGroup, "group", "", "Only show tasks for this group folder")
	taskCmd.AddCommand(taskListCmd, taskGetCmd, taskPauseCmd, taskResumeCmd, taskCancelCmd)
	rootCmd.AddCommand(taskCmd)
}

// openStore opens the task store at the configured path.
func openStore() (*taskstore.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return taskstore.Open(cfg.Paths.DBPath)
}

// adminSurface returns a surface with main-group authority. CLI operations
// never send chat messages, so the sender is nil.
func adminSurface(store *taskstore.Store) *taskctl.Surface {
	return taskctl.NewSurface(store, nil, taskctl.MainGroupFolder, "")
}

func runTaskList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var tasks []*taskstore.ScheduledTask
	if taskGroup != "" {
		tasks, err = store.GetTasksForGroup(taskGroup)
	} else {
		tasks, err = store.GetAllTasks()
	}
	if err != nil {
		return err
	}

	if taskJSON {
		return printJSON(cmd.OutOrStdout(), tasks)
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scheduled tasks.")
		return nil
	}
	for _, t := range tasks {
		next := "-"
		if t.NextRun != nil {
			next = t.NextRun.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %-8s %-10s %s [%s %s] next=%s\n",
			t.ID, t.Status, t.GroupFolder, truncatePrompt(t.Prompt), t.ScheduleType, t.ScheduleValue, next)
	}
	return nil
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	task, runs, err := adminSurface(store).Get(args[0])
	if err != nil {
		return err
	}

	if taskJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"task": task, "runs": runs})
	}
	fmt.Fprintln(cmd.OutOrStdout(), taskctl.FormatTask(task))
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Recent runs:")
	for _, r := range runs {
		line := fmt.Sprintf("  %s %s (%dms)", r.RunAt.Local().Format(time.RFC3339), r.Status, r.DurationMS)
		if r.Error != nil {
			line += " " + *r.Error
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}

func runTaskAction(cmd *cobra.Command, id, action string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	surface := adminSurface(store)

	switch action {
	case "pause":
		err = surface.Pause(id)
	case "resume":
		_, err = surface.Resume(id)
	case "cancel":
		err = surface.Cancel(id)
	}
	if err != nil {
		return err
	}

	if taskJSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"taskId": id, "action": action, "status": "ok"})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s: %s ok\n", id, action)
	return nil
}

func printJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func truncatePrompt(s string) string {
	if len(s) <= 40 {
		return s
	}
	return s[:37] + "..."
}
