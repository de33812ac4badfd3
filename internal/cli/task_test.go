package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/javiormeow/nanoclaw/internal/taskctl"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

func setupCLIHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("NANOCLAW_HOME", dir)
	t.Setenv("NANOCLAW_CONFIG", "")
	t.Setenv("NANOCLAW_ENV_FILE", "")
	if err := os.MkdirAll(filepath.Join(dir, ".nanoclaw"), 0755); err != nil {
		t.Fatal(err)
	}
	taskJSON = false
	taskGroup = ""
	return dir
}

// seedTask creates one task directly through the store the CLI will open.
func seedTask(t *testing.T, home, folder string) string {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(home, ".nanoclaw", "nanoclaw.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	surface := taskctl.NewSurface(store, nil, folder, folder+"@g.us")
	task, err := surface.Create(taskctl.CreateRequest{
		Prompt:        "send the standup summary",
		ScheduleType:  "interval",
		ScheduleValue: "3600000",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task.ID
}

func captureCmd() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func TestTaskListEmpty(t *testing.T) {
	setupCLIHome(t)

	cmd, buf := captureCmd()
	if err := runTaskList(cmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(buf.String(), "No scheduled tasks.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTaskListAndGet(t *testing.T) {
	home := setupCLIHome(t)
	id := seedTask(t, home, "family")

	cmd, buf := captureCmd()
	if err := runTaskList(cmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, id) || !strings.Contains(out, "family") {
		t.Errorf("list output = %q", out)
	}

	cmd, buf = captureCmd()
	if err := runTaskGet(cmd, []string{id}); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(buf.String(), "send the standup summary") {
		t.Errorf("get output = %q", buf.String())
	}
	if !strings.Contains(buf.String(), "No runs recorded.") {
		t.Errorf("get output = %q", buf.String())
	}
}

func TestTaskListGroupFilter(t *testing.T) {
	home := setupCLIHome(t)
	seedTask(t, home, "family")
	otherID := seedTask(t, home, "work")

	taskGroup = "work"
	cmd, buf := captureCmd()
	if err := runTaskList(cmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, otherID) {
		t.Errorf("filtered list missing work task: %q", out)
	}
	if strings.Contains(out, "family") {
		t.Errorf("filtered list leaked family task: %q", out)
	}
}

func TestTaskListJSON(t *testing.T) {
	home := setupCLIHome(t)
	id := seedTask(t, home, "family")

	taskJSON = true
	cmd, buf := captureCmd()
	if err := runTaskList(cmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	var tasks []*taskstore.ScheduledTask
	if err := json.Unmarshal(buf.Bytes(), &tasks); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(tasks) != 1 || tasks[0].ID != id {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestTaskPauseResumeCancel(t *testing.T) {
	home := setupCLIHome(t)
	id := seedTask(t, home, "family")

	cmd, _ := captureCmd()
	if err := runTaskAction(cmd, id, "pause"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	assertTaskStatus(t, home, id, taskstore.StatusPaused)

	cmd, _ = captureCmd()
	if err := runTaskAction(cmd, id, "resume"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	assertTaskStatus(t, home, id, taskstore.StatusActive)

	cmd, _ = captureCmd()
	if err := runTaskAction(cmd, id, "cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	cmd, _ = captureCmd()
	if err := runTaskGet(cmd, []string{id}); err == nil {
		t.Fatal("expected error for cancelled task")
	}
}

func TestTaskActionUnknownID(t *testing.T) {
	setupCLIHome(t)

	cmd, _ := captureCmd()
	if err := runTaskAction(cmd, "task-missing", "pause"); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func assertTaskStatus(t *testing.T, home, id, want string) {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(home, ".nanoclaw", "nanoclaw.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	task, err := store.GetTaskByID(id)
	if err != nil || task == nil {
		t.Fatalf("task lookup: %v %v", task, err)
	}
	if task.Status != want {
		t.Errorf("status = %q, want %q", task.Status, want)
	}
}
