package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/javiormeow/nanoclaw/internal/taskctl"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// Snapshotter mirrors each group's tasks into a tasks.json inside that
// group's folder. Sandboxed agents have no store access; the snapshot is
// their read-only view of what is scheduled. The main group sees all tasks.
type Snapshotter struct {
	store    *taskstore.Store
	groupDir string
}

// NewSnapshotter writes snapshots under groupDir/<folder>/tasks.json.
func NewSnapshotter(store *taskstore.Store, groupDir string) *Snapshotter {
	return &Snapshotter{store: store, groupDir: groupDir}
}

// Refresh rewrites every group's snapshot from the store. A group folder is
// created on demand so a task scheduled into a fresh group is visible there.
func (s *Snapshotter) Refresh() error {
	all, err := s.store.GetAllTasks()
	if err != nil {
		return fmt.Errorf("snapshot read: %w", err)
	}

	byGroup := map[string][]*taskstore.ScheduledTask{
		taskctl.MainGroupFolder: all,
	}
	for _, task := range all {
		if task.GroupFolder == taskctl.MainGroupFolder {
			continue
		}
		byGroup[task.GroupFolder] = append(byGroup[task.GroupFolder], task)
	}

	for folder, tasks := range byGroup {
		if err := s.writeGroup(folder, tasks); err != nil {
			return err
		}
	}
	return nil
}

// writeGroup atomically replaces one group's tasks.json.
func (s *Snapshotter) writeGroup(folder string, tasks []*taskstore.ScheduledTask) error {
	dir := filepath.Join(s.groupDir, folder)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("snapshot dir %s: %w", folder, err)
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot marshal %s: %w", folder, err)
	}

	path := filepath.Join(dir, "tasks.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("snapshot write %s: %w", folder, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot publish %s: %w", folder, err)
	}
	return nil
}
