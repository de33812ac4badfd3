package agent

import (
	"context"

	"github.com/javiormeow/nanoclaw/internal/taskctl"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// TaskRunner executes scheduled tasks through the agent runtime. Each task
// runs with a tool registry scoped to the task's own group, so a task
// created from a regular group can never manage another tenant's tasks.
type TaskRunner struct {
	runner Runner
	store  *taskstore.Store
	sender taskctl.Sender
}

// NewTaskRunner creates a TaskRunner.
func NewTaskRunner(runner Runner, store *taskstore.Store, sender taskctl.Sender) *TaskRunner {
	return &TaskRunner{runner: runner, store: store, sender: sender}
}

// RunTask runs one due task's prompt and returns the agent's final output.
// The run's surface is never privileged, even for tasks owned by main.
func (t *TaskRunner) RunTask(ctx context.Context, task *taskstore.ScheduledTask) (string, error) {
	surface := taskctl.NewRestrictedSurface(t.store, t.sender, task.GroupFolder, task.ChatJID)
	result, err := t.runner.Run(ctx, RunRequest{
		GroupFolder: task.GroupFolder,
		ChatJID:     task.ChatJID,
		Prompt:      task.Prompt,
		Registry:    taskctl.Registry(surface),
	})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}
