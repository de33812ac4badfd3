package taskctl

import (
	"context"
	"strings"
	"testing"

	"github.com/javiormeow/nanoclaw/internal/tools"
)

func newTestRegistry(t *testing.T) (*Surface, *tools.Registry) {
	t.Helper()
	store := newTestStore(t)
	surface := NewSurface(store, &recordingSender{}, "alpha", "alpha@g.us")
	return surface, Registry(surface)
}

func TestRegistryHasAllTools(t *testing.T) {
	_, reg := newTestRegistry(t)

	for _, name := range []string{
		"schedule_task", "list_tasks", "get_task", "update_task",
		"pause_task", "resume_task", "cancel_task", "send_message",
	} {
		if _, ok := reg.Get(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
	if n := len(reg.List()); n != 8 {
		t.Fatalf("registry holds %d tools, want 8", n)
	}
}

func TestScheduleTaskToolLifecycle(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	out, err := reg.Execute(ctx, "schedule_task", map[string]any{
		"prompt":         "summarize the news",
		"schedule_type":  "interval",
		"schedule_value": "60000",
	})
	if err != nil {
		t.Fatalf("schedule_task: %v", err)
	}
	if !strings.Contains(out, "Task scheduled successfully") {
		t.Fatalf("unexpected output: %q", out)
	}

	// Pull the ID back out of the formatted reply.
	id := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "ID: ") {
			id = strings.TrimPrefix(line, "ID: ")
		}
	}
	if id == "" {
		t.Fatalf("no task ID in output: %q", out)
	}

	out, err = reg.Execute(ctx, "list_tasks", map[string]any{})
	if err != nil {
		t.Fatalf("list_tasks: %v", err)
	}
	if !strings.Contains(out, "Found 1 task(s)") || !strings.Contains(out, id) {
		t.Fatalf("list output: %q", out)
	}

	out, err = reg.Execute(ctx, "pause_task", map[string]any{"task_id": id})
	if err != nil {
		t.Fatalf("pause_task: %v", err)
	}
	if !strings.Contains(out, "paused") {
		t.Fatalf("pause output: %q", out)
	}

	out, err = reg.Execute(ctx, "resume_task", map[string]any{"task_id": id})
	if err != nil {
		t.Fatalf("resume_task: %v", err)
	}
	if !strings.Contains(out, "resumed") {
		t.Fatalf("resume output: %q", out)
	}

	out, err = reg.Execute(ctx, "cancel_task", map[string]any{"task_id": id})
	if err != nil {
		t.Fatalf("cancel_task: %v", err)
	}
	if !strings.Contains(out, "cancelled") {
		t.Fatalf("cancel output: %q", out)
	}

	out, err = reg.Execute(ctx, "list_tasks", map[string]any{})
	if err != nil {
		t.Fatalf("list_tasks: %v", err)
	}
	if out != "No scheduled tasks found." {
		t.Fatalf("list after cancel: %q", out)
	}
}

func TestToolErrorsRenderAsText(t *testing.T) {
	_, reg := newTestRegistry(t)
	ctx := context.Background()

	// A never-firing schedule comes back as a chat message, not a fault.
	out, err := reg.Execute(ctx, "schedule_task", map[string]any{
		"prompt":         "stale",
		"schedule_type":  "once",
		"schedule_value": "2001-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("schedule_task returned hard error: %v", err)
	}
	if !strings.Contains(out, "invalid schedule") {
		t.Fatalf("output: %q", out)
	}

	out, err = reg.Execute(ctx, "get_task", map[string]any{"task_id": "task-0-deadbeef"})
	if err != nil {
		t.Fatalf("get_task returned hard error: %v", err)
	}
	if out != "Task not found." {
		t.Fatalf("output: %q", out)
	}
}

func TestToolTenantDenial(t *testing.T) {
	store := newTestStore(t)
	alpha := NewSurface(store, &recordingSender{}, "alpha", "alpha@g.us")
	betaReg := Registry(NewSurface(store, &recordingSender{}, "beta", "beta@g.us"))

	task := mustCreate(t, alpha, "alpha only")

	out, err := betaReg.Execute(context.Background(), "cancel_task", map[string]any{"task_id": task.ID})
	if err != nil {
		t.Fatalf("cancel_task returned hard error: %v", err)
	}
	if !strings.Contains(out, "Access denied") {
		t.Fatalf("output: %q", out)
	}
	if got, _ := store.GetTaskByID(task.ID); got == nil {
		t.Fatal("foreign cancel deleted the task")
	}
}

func TestSendMessageTool(t *testing.T) {
	store := newTestStore(t)
	sender := &recordingSender{}
	reg := Registry(NewSurface(store, sender, "alpha", "alpha@g.us"))

	out, err := reg.Execute(context.Background(), "send_message", map[string]any{"text": "ping"})
	if err != nil {
		t.Fatalf("send_message: %v", err)
	}
	if !strings.Contains(out, "sent successfully") {
		t.Fatalf("output: %q", out)
	}
	if len(sender.texts) != 1 || sender.texts[0] != "ping" {
		t.Fatalf("sender saw %v", sender.texts)
	}
}

func TestToolDefinitionsWellFormed(t *testing.T) {
	_, reg := newTestRegistry(t)

	for _, def := range reg.Definitions() {
		fn, ok := def["function"].(map[string]any)
		if !ok {
			t.Fatalf("definition missing function block: %v", def)
		}
		if fn["name"] == "" || fn["description"] == "" {
			t.Fatalf("incomplete definition: %v", fn)
		}
		params, ok := fn["parameters"].(map[string]any)
		if !ok || params["type"] != "object" {
			t.Fatalf("parameters not an object schema: %v", fn)
		}
	}
}
