package ipc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

type recordingSender struct {
	jids  []string
	texts []string
}

func (r *recordingSender) SendMessage(ctx context.Context, jid, text string) error {
	r.jids = append(r.jids, jid)
	r.texts = append(r.texts, text)
	return nil
}

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := NewQueue(filepath.Join(t.TempDir(), "ipc"))
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func newTestConsumer(t *testing.T, q *Queue) (*Consumer, *taskstore.Store, *recordingSender) {
	t.Helper()
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	sender := &recordingSender{}
	return NewConsumer(q.Root(), store, sender, time.Second, nil), store, sender
}

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestEnqueueWritesDurableFile(t *testing.T) {
	q := newTestQueue(t)

	path, err := q.Enqueue(&Command{
		Op:          OpSendMessage,
		GroupFolder: "alpha",
		ChatJID:     "alpha@g.us",
		Text:        "hello",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(q.Root(), CategoryMessages) {
		t.Fatalf("message landed in %s", filepath.Dir(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Command
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Op != OpSendMessage || got.Text != "hello" || got.GroupFolder != "alpha" {
		t.Fatalf("round trip: %+v", got)
	}

	// Nothing lingers in the staging dir.
	if left := listFiles(t, filepath.Join(q.Root(), "tmp")); len(left) != 0 {
		t.Fatalf("staging dir not empty: %v", left)
	}
}

func TestEnqueueCategoryRouting(t *testing.T) {
	q := newTestQueue(t)

	for _, op := range []string{OpCreateTask, OpPauseTask, OpCancelTask} {
		path, err := q.Enqueue(&Command{Op: op, GroupFolder: "alpha", ChatJID: "j", TaskID: "t"})
		if err != nil {
			t.Fatalf("enqueue %s: %v", op, err)
		}
		if filepath.Dir(path) != filepath.Join(q.Root(), CategoryTaskOps) {
			t.Fatalf("%s landed in %s", op, filepath.Dir(path))
		}
	}
}

func TestEnqueueSameMillisecondNoCollision(t *testing.T) {
	q := newTestQueue(t)

	// Burst far faster than millisecond resolution.
	seen := map[string]bool{}
	var names []string
	for i := 0; i < 200; i++ {
		path, err := q.Enqueue(&Command{Op: OpSendMessage, GroupFolder: "alpha", Text: "x"})
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		name := filepath.Base(path)
		if seen[name] {
			t.Fatalf("duplicate filename %s", name)
		}
		seen[name] = true
		names = append(names, name)
	}

	// Lexical filename order must equal enqueue order.
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for i := range names {
		if names[i] != sorted[i] {
			t.Fatalf("enqueue order broken at %d: %s vs %s", i, names[i], sorted[i])
		}
	}
}

func TestConsumerAppliesTaskOps(t *testing.T) {
	q := newTestQueue(t)
	consumer, store, _ := newTestConsumer(t, q)
	ctx := context.Background()

	if _, err := q.Enqueue(&Command{
		Op:            OpCreateTask,
		GroupFolder:   "alpha",
		ChatJID:       "alpha@g.us",
		Prompt:        "daily digest",
		ScheduleType:  "interval",
		ScheduleValue: "60000",
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	consumer.ProcessOnce(ctx)

	all, err := store.GetAllTasks()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].Prompt != "daily digest" || all[0].GroupFolder != "alpha" {
		t.Fatalf("tasks after consume: %+v", all)
	}

	// Applied command files are gone.
	if left := listFiles(t, filepath.Join(q.Root(), CategoryTaskOps)); len(left) != 0 {
		t.Fatalf("task_ops not drained: %v", left)
	}

	// Second pass is a no-op.
	consumer.ProcessOnce(ctx)
	all, _ = store.GetAllTasks()
	if len(all) != 1 {
		t.Fatalf("replay created %d tasks", len(all))
	}
}

func TestConsumerDeliversMessages(t *testing.T) {
	q := newTestQueue(t)
	consumer, _, sender := newTestConsumer(t, q)

	q.Enqueue(&Command{Op: OpSendMessage, GroupFolder: "alpha", ChatJID: "alpha@g.us", Text: "first"})
	q.Enqueue(&Command{Op: OpSendMessage, GroupFolder: "alpha", ChatJID: "alpha@g.us", Text: "second"})

	consumer.ProcessOnce(context.Background())

	if len(sender.texts) != 2 || sender.texts[0] != "first" || sender.texts[1] != "second" {
		t.Fatalf("delivery order: %v", sender.texts)
	}
	if sender.jids[0] != "alpha@g.us" {
		t.Fatalf("jid: %v", sender.jids)
	}
}

func TestConsumerScopesCommandsToIssuingGroup(t *testing.T) {
	q := newTestQueue(t)
	consumer, store, _ := newTestConsumer(t, q)
	ctx := context.Background()

	// Seed a task owned by alpha directly.
	nr := time.Now().Add(time.Hour)
	task := &taskstore.ScheduledTask{
		GroupFolder: "alpha", ChatJID: "alpha@g.us", Prompt: "p",
		ScheduleType: "interval", ScheduleValue: "60000", NextRun: &nr,
	}
	if err := store.CreateTask(task); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Beta's sandboxed agent tries to cancel alpha's task.
	q.Enqueue(&Command{Op: OpCancelTask, GroupFolder: "beta", ChatJID: "beta@g.us", TaskID: task.ID})
	consumer.ProcessOnce(ctx)

	if got, _ := store.GetTaskByID(task.ID); got == nil {
		t.Fatal("cross-group cancel succeeded")
	}
	// The denial is a resolved outcome: the file is consumed, not
	// dead-lettered and not retried forever.
	if left := listFiles(t, filepath.Join(q.Root(), failedDir)); len(left) != 0 {
		t.Fatalf("denied command dead-lettered: %v", left)
	}
	if left := listFiles(t, filepath.Join(q.Root(), CategoryTaskOps)); len(left) != 0 {
		t.Fatalf("task_ops not drained: %v", left)
	}

	// A main-issued command crosses groups.
	q.Enqueue(&Command{Op: OpCancelTask, GroupFolder: "main", ChatJID: "main@g.us", TaskID: task.ID})
	consumer.ProcessOnce(ctx)
	if got, _ := store.GetTaskByID(task.ID); got != nil {
		t.Fatal("main cancel did not apply")
	}
}

func TestEnqueueWireFieldNames(t *testing.T) {
	q := newTestQueue(t)

	path, err := q.Enqueue(&Command{
		Op:            OpCreateTask,
		GroupFolder:   "alpha",
		ChatJID:       "alpha@g.us",
		Prompt:        "p",
		ScheduleType:  "interval",
		ScheduleValue: "60000",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// Sandboxed writers in other languages target these exact names.
	if raw["type"] != "schedule_task" {
		t.Fatalf(`type = %v, want "schedule_task"`, raw["type"])
	}
	if _, ok := raw["op"]; ok {
		t.Fatal(`payload carries legacy "op" field`)
	}
	if _, ok := raw["timestamp"]; !ok {
		t.Fatal("payload missing timestamp")
	}
}

func TestConsumerConsumesReplayedCancel(t *testing.T) {
	q := newTestQueue(t)
	consumer, _, _ := newTestConsumer(t, q)

	// At-least-once delivery: a cancel may be applied once and then seen
	// again. The replay resolves to NotFound and must not dead-letter.
	q.Enqueue(&Command{Op: OpCancelTask, GroupFolder: "alpha", ChatJID: "alpha@g.us", TaskID: "task-gone"})
	consumer.ProcessOnce(context.Background())

	if left := listFiles(t, filepath.Join(q.Root(), CategoryTaskOps)); len(left) != 0 {
		t.Fatalf("replayed cancel still queued: %v", left)
	}
	if left := listFiles(t, filepath.Join(q.Root(), failedDir)); len(left) != 0 {
		t.Fatalf("replayed cancel dead-lettered: %v", left)
	}
}

func TestConsumerRefreshesSnapshotWithoutQueueTraffic(t *testing.T) {
	q := newTestQueue(t)
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	groupDir := t.TempDir()
	consumer := NewConsumer(q.Root(), store, &recordingSender{}, time.Second, NewSnapshotter(store, groupDir))

	// Mutate the store directly, the way router tools and the scheduler do.
	nr := time.Now().Add(time.Hour)
	task := &taskstore.ScheduledTask{
		GroupFolder: "alpha", ChatJID: "alpha@g.us", Prompt: "p",
		ScheduleType: "interval", ScheduleValue: "60000", NextRun: &nr,
	}
	if err := store.CreateTask(task); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// An empty queue still refreshes the sandboxed mirror.
	consumer.ProcessOnce(context.Background())

	data, err := os.ReadFile(filepath.Join(groupDir, "alpha", "tasks.json"))
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	var tasks []taskstore.ScheduledTask
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("snapshot tasks: %+v", tasks)
	}
}

func TestConsumerDeadLettersMalformedFile(t *testing.T) {
	q := newTestQueue(t)
	consumer, _, _ := newTestConsumer(t, q)

	bad := filepath.Join(q.Root(), CategoryTaskOps, "0000000000000-000000-dead.json")
	if err := os.WriteFile(bad, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	consumer.ProcessOnce(context.Background())

	if left := listFiles(t, filepath.Join(q.Root(), CategoryTaskOps)); len(left) != 0 {
		t.Fatalf("malformed file still queued: %v", left)
	}
	failed := listFiles(t, filepath.Join(q.Root(), failedDir))
	if len(failed) != 1 {
		t.Fatalf("failed dir: %v", failed)
	}
}

func TestConsumerIgnoresNonCommandFiles(t *testing.T) {
	q := newTestQueue(t)
	consumer, _, sender := newTestConsumer(t, q)

	os.WriteFile(filepath.Join(q.Root(), CategoryMessages, "README.txt"), []byte("hi"), 0644)
	consumer.ProcessOnce(context.Background())

	if len(sender.texts) != 0 {
		t.Fatalf("non-json file was applied: %v", sender.texts)
	}
	if left := listFiles(t, filepath.Join(q.Root(), CategoryMessages)); len(left) != 1 {
		t.Fatalf("non-json file removed: %v", left)
	}
}

func TestSnapshotMirrorsStore(t *testing.T) {
	store, err := taskstore.Open(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	groupDir := t.TempDir()
	snap := NewSnapshotter(store, groupDir)

	nr := time.Now().Add(time.Hour)
	for _, g := range []string{"alpha", "alpha", "beta"} {
		task := &taskstore.ScheduledTask{
			GroupFolder: g, ChatJID: g + "@g.us", Prompt: "p",
			ScheduleType: "interval", ScheduleValue: "60000", NextRun: &nr,
		}
		if err := store.CreateTask(task); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if err := snap.Refresh(); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	readSnap := func(folder string) []taskstore.ScheduledTask {
		data, err := os.ReadFile(filepath.Join(groupDir, folder, "tasks.json"))
		if err != nil {
			t.Fatalf("read %s snapshot: %v", folder, err)
		}
		var tasks []taskstore.ScheduledTask
		if err := json.Unmarshal(data, &tasks); err != nil {
			t.Fatalf("unmarshal %s snapshot: %v", folder, err)
		}
		return tasks
	}

	if got := readSnap("alpha"); len(got) != 2 {
		t.Fatalf("alpha snapshot has %d tasks", len(got))
	}
	if got := readSnap("beta"); len(got) != 1 {
		t.Fatalf("beta snapshot has %d tasks", len(got))
	}
	// Main sees everything.
	if got := readSnap("main"); len(got) != 3 {
		t.Fatalf("main snapshot has %d tasks", len(got))
	}

	// No stray .tmp left behind.
	for _, folder := range []string{"alpha", "beta", "main"} {
		entries, _ := os.ReadDir(filepath.Join(groupDir, folder))
		for _, e := range entries {
			if filepath.Ext(e.Name()) == ".tmp" {
				t.Fatalf("partial snapshot visible: %s/%s", folder, e.Name())
			}
		}
	}
}
