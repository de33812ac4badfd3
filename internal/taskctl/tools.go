package taskctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/javiormeow/nanoclaw/internal/taskstore"
	"github.com/javiormeow/nanoclaw/internal/tools"
)

// RegisterTools adds the task-control tools for one caller to a registry.
// The surface carries the caller's scope, so a task executing through these
// tools can only manage its own tenant.
func RegisterTools(reg *tools.Registry, s *Surface) {
	reg.Register(&scheduleTaskTool{s})
	reg.Register(&listTasksTool{s})
	reg.Register(&getTaskTool{s})
	reg.Register(&updateTaskTool{s})
	reg.Register(&pauseTaskTool{s})
	reg.Register(&resumeTaskTool{s})
	reg.Register(&cancelTaskTool{s})
	reg.Register(&sendMessageTool{s})
}

// Registry builds a fresh registry holding only the task-control tools.
func Registry(s *Surface) *tools.Registry {
	reg := tools.NewRegistry()
	RegisterTools(reg, s)
	return reg
}

// FormatTask renders a task for chat output.
func FormatTask(task *taskstore.ScheduledTask) string {
	lines := []string{
		"ID: " + task.ID,
		"Group: " + task.GroupFolder,
		"Prompt: " + task.Prompt,
		fmt.Sprintf("Schedule: %s (%s)", task.ScheduleType, task.ScheduleValue),
		"Status: " + task.Status,
		"Next run: " + formatOptTime(task.NextRun),
		"Last run: " + formatOptTime(task.LastRun),
		"Last result: " + formatOptString(task.LastResult),
	}
	return strings.Join(lines, "\n")
}

func formatOptTime(t *time.Time) string {
	if t == nil {
		return "N/A"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptString(s *string) string {
	if s == nil || *s == "" {
		return "N/A"
	}
	return *s
}

// recoverText renders surface sentinel errors as a user-facing message.
// Unexpected (store) errors pass through as real errors.
func recoverText(err error) (string, error) {
	switch {
	case errors.Is(err, ErrNotFound):
		return "Task not found.", nil
	case errors.Is(err, ErrAccessDenied):
		return "Access denied: task belongs to another group.", nil
	case errors.Is(err, ErrInvalidSchedule):
		return fmt.Sprintf("Error: %v.", err), nil
	default:
		return "", err
	}
}

func taskIDParam() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{"type": "string", "description": "The task ID"},
		},
		"required": []string{"task_id"},
	}
}

type scheduleTaskTool struct{ s *Surface }

func (t *scheduleTaskTool) Name() string { return "schedule_task" }
func (t *scheduleTaskTool) Description() string {
	return "Schedule a recurring or one-time task. schedule_value depends on schedule_type: " +
		`cron expression (e.g. "0 9 * * 1"), interval milliseconds (e.g. "300000"), or a RFC3339 timestamp for once.`
}
func (t *scheduleTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"prompt":         map[string]any{"type": "string", "description": "What the agent should do when the task runs"},
			"schedule_type":  map[string]any{"type": "string", "enum": []string{"cron", "interval", "once"}},
			"schedule_value": map[string]any{"type": "string", "description": "Cron expression, milliseconds, or RFC3339 timestamp"},
			"target_group":   map[string]any{"type": "string", "description": "(Main only) Target group folder, defaults to current group"},
			"target_jid":     map[string]any{"type": "string", "description": "(Main only) Chat JID receiving the task's replies"},
		},
		"required": []string{"prompt", "schedule_type", "schedule_value"},
	}
}
func (t *scheduleTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	task, err := t.s.Create(CreateRequest{
		Prompt:        tools.GetString(params, "prompt", ""),
		ScheduleType:  tools.GetString(params, "schedule_type", ""),
		ScheduleValue: tools.GetString(params, "schedule_value", ""),
		TargetGroup:   tools.GetString(params, "target_group", ""),
		TargetJID:     tools.GetString(params, "target_jid", ""),
	})
	if err != nil {
		return recoverText(err)
	}
	return "Task scheduled successfully!\n\n" + FormatTask(task), nil
}

type listTasksTool struct{ s *Surface }

func (t *listTasksTool) Name() string { return "list_tasks" }
func (t *listTasksTool) Description() string {
	return "List scheduled tasks. Shows tasks for the current group, or all tasks when called from the main group."
}
func (t *listTasksTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *listTasksTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	list, err := t.s.List()
	if err != nil {
		return recoverText(err)
	}
	if len(list) == 0 {
		return "No scheduled tasks found.", nil
	}
	parts := make([]string, len(list))
	for i, task := range list {
		parts[i] = fmt.Sprintf("--- Task %d ---\n%s", i+1, FormatTask(task))
	}
	return fmt.Sprintf("Found %d task(s):\n\n%s", len(list), strings.Join(parts, "\n\n")), nil
}

type getTaskTool struct{ s *Surface }

func (t *getTaskTool) Name() string { return "get_task" }
func (t *getTaskTool) Description() string {
	return "Get details about a specific task including recent run history."
}
func (t *getTaskTool) Parameters() map[string]any { return taskIDParam() }
func (t *getTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	task, runs, err := t.s.Get(tools.GetString(params, "task_id", ""))
	if err != nil {
		return recoverText(err)
	}
	out := FormatTask(task)
	if len(runs) > 0 {
		out += "\n\n--- Recent Runs ---"
		for _, r := range runs {
			line := fmt.Sprintf("\n%s: %s (%dms)", r.RunAt.UTC().Format(time.RFC3339), r.Status, r.DurationMS)
			if r.Error != nil && *r.Error != "" {
				line += " - " + *r.Error
			}
			out += line
		}
	}
	return out, nil
}

type updateTaskTool struct{ s *Surface }

func (t *updateTaskTool) Name() string        { return "update_task" }
func (t *updateTaskTool) Description() string { return "Update a scheduled task." }
func (t *updateTaskTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id":        map[string]any{"type": "string", "description": "The task ID"},
			"prompt":         map[string]any{"type": "string", "description": "New prompt for the task"},
			"schedule_type":  map[string]any{"type": "string", "enum": []string{"cron", "interval", "once"}},
			"schedule_value": map[string]any{"type": "string", "description": "New schedule value"},
		},
		"required": []string{"task_id"},
	}
}
func (t *updateTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	req := UpdateRequest{}
	if v := tools.GetString(params, "prompt", ""); v != "" {
		req.Prompt = &v
	}
	if v := tools.GetString(params, "schedule_type", ""); v != "" {
		req.ScheduleType = &v
	}
	if v := tools.GetString(params, "schedule_value", ""); v != "" {
		req.ScheduleValue = &v
	}
	task, err := t.s.Update(tools.GetString(params, "task_id", ""), req)
	if err != nil {
		return recoverText(err)
	}
	return "Task updated!\n\n" + FormatTask(task), nil
}

type pauseTaskTool struct{ s *Surface }

func (t *pauseTaskTool) Name() string { return "pause_task" }
func (t *pauseTaskTool) Description() string {
	return "Pause a scheduled task. It will not run until resumed."
}
func (t *pauseTaskTool) Parameters() map[string]any { return taskIDParam() }
func (t *pauseTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := tools.GetString(params, "task_id", "")
	if err := t.s.Pause(id); err != nil {
		return recoverText(err)
	}
	return fmt.Sprintf("Task %s paused.", id), nil
}

type resumeTaskTool struct{ s *Surface }

func (t *resumeTaskTool) Name() string        { return "resume_task" }
func (t *resumeTaskTool) Description() string { return "Resume a paused task." }
func (t *resumeTaskTool) Parameters() map[string]any { return taskIDParam() }
func (t *resumeTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := tools.GetString(params, "task_id", "")
	task, err := t.s.Resume(id)
	if err != nil {
		return recoverText(err)
	}
	return fmt.Sprintf("Task %s resumed. Next run: %s", id, formatOptTime(task.NextRun)), nil
}

type cancelTaskTool struct{ s *Surface }

func (t *cancelTaskTool) Name() string        { return "cancel_task" }
func (t *cancelTaskTool) Description() string { return "Cancel and delete a scheduled task." }
func (t *cancelTaskTool) Parameters() map[string]any { return taskIDParam() }
func (t *cancelTaskTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	id := tools.GetString(params, "task_id", "")
	if err := t.s.Cancel(id); err != nil {
		return recoverText(err)
	}
	return fmt.Sprintf("Task %s cancelled and deleted.", id), nil
}

type sendMessageTool struct{ s *Surface }

func (t *sendMessageTool) Name() string { return "send_message" }
func (t *sendMessageTool) Description() string {
	return "Send a message to the chat group. Use this to notify the group about task results or updates."
}
func (t *sendMessageTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text":       map[string]any{"type": "string", "description": "The message text to send"},
			"target_jid": map[string]any{"type": "string", "description": "(Main only) Target chat JID, defaults to current group"},
		},
		"required": []string{"text"},
	}
}
func (t *sendMessageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	err := t.s.SendMessage(ctx,
		tools.GetString(params, "text", ""),
		tools.GetString(params, "target_jid", ""))
	if err != nil {
		// Transport failure is reported back, not raised as a fault.
		return fmt.Sprintf("Failed to send message: %v", err), nil
	}
	return "Message sent successfully.", nil
}
