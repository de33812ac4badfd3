package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/javiormeow/nanoclaw/internal/taskctl"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// Consumer drains the command queue inside the privileged daemon. Each
// command is applied through a Surface scoped to the command's own group,
// so a sandboxed agent gains no authority by writing files directly.
type Consumer struct {
	root     string
	store    *taskstore.Store
	sender   taskctl.Sender
	interval time.Duration
	snapshot *Snapshotter
}

// NewConsumer creates a Consumer polling root at the given interval.
// A nil snapshotter disables the per-group task mirror.
func NewConsumer(root string, store *taskstore.Store, sender taskctl.Sender, interval time.Duration, snapshot *Snapshotter) *Consumer {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Consumer{
		root:     root,
		store:    store,
		sender:   sender,
		interval: interval,
		snapshot: snapshot,
	}
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("IPC consumer started", "root", c.root, "poll", c.interval)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("IPC consumer stopped")
			return ctx.Err()
		case <-ticker.C:
			c.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce drains both categories in filename order. Messages first so
// replies queued before a task op are delivered before its effects. The
// snapshot mirror is refreshed every tick, not only after queue traffic,
// so tasks mutated in-process (router tools, scheduler reschedules) still
// reach the sandboxed view.
func (c *Consumer) ProcessOnce(ctx context.Context) {
	for _, category := range []string{CategoryMessages, CategoryTaskOps} {
		c.drainCategory(ctx, category)
	}
	if c.snapshot != nil {
		if err := c.snapshot.Refresh(); err != nil {
			slog.Error("IPC snapshot refresh failed", "error", err)
		}
	}
}

// drainCategory applies every command file in one directory.
func (c *Consumer) drainCategory(ctx context.Context, category string) {
	dir := filepath.Join(c.root, category)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("IPC read dir failed", "dir", dir, "error", err)
		}
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		c.applyFile(ctx, filepath.Join(dir, name))
	}
}

// applyFile processes one command file end to end. On success the file is
// removed. Domain rejections (unknown task, denied, bad schedule) also
// consume the file: delivery is at-least-once, so a replayed cancel must
// resolve quietly instead of poisoning failed/. Only malformed payloads
// and store errors dead-letter.
func (c *Consumer) applyFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Another consumer instance or a crash cleanup got here first.
		if !os.IsNotExist(err) {
			slog.Error("IPC read failed", "file", path, "error", err)
		}
		return
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		c.reject(path, fmt.Errorf("malformed command: %w", err))
		return
	}

	if err := c.apply(ctx, &cmd); err != nil {
		if !isDomainReject(err) {
			c.reject(path, err)
			return
		}
		slog.Info("IPC command resolved without effect", "op", cmd.Op, "group", cmd.GroupFolder, "outcome", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("IPC remove failed", "file", path, "error", err)
	}
	slog.Debug("IPC command applied", "op", cmd.Op, "group", cmd.GroupFolder)
}

// isDomainReject reports whether an apply failure is a normal task-control
// outcome rather than an operational fault.
func isDomainReject(err error) bool {
	return errors.Is(err, taskctl.ErrNotFound) ||
		errors.Is(err, taskctl.ErrAccessDenied) ||
		errors.Is(err, taskctl.ErrInvalidSchedule)
}

// apply routes one command through a group-scoped surface. The surface
// carries the command's own GroupFolder, so "main" privileges apply only
// when the main agent itself issued the command.
func (c *Consumer) apply(ctx context.Context, cmd *Command) error {
	if cmd.GroupFolder == "" {
		return fmt.Errorf("command missing group_folder")
	}
	surface := taskctl.NewSurface(c.store, c.sender, cmd.GroupFolder, cmd.ChatJID)

	switch cmd.Op {
	case OpSendMessage:
		return surface.SendMessage(ctx, cmd.Text, cmd.TargetJID)
	case OpCreateTask:
		_, err := surface.Create(taskctl.CreateRequest{
			Prompt:        cmd.Prompt,
			ScheduleType:  cmd.ScheduleType,
			ScheduleValue: cmd.ScheduleValue,
			TargetGroup:   cmd.TargetGroup,
			TargetJID:     cmd.TargetJID,
		})
		return err
	case OpUpdateTask:
		req := taskctl.UpdateRequest{}
		if cmd.Prompt != "" {
			req.Prompt = &cmd.Prompt
		}
		if cmd.ScheduleType != "" {
			req.ScheduleType = &cmd.ScheduleType
		}
		if cmd.ScheduleValue != "" {
			req.ScheduleValue = &cmd.ScheduleValue
		}
		_, err := surface.Update(cmd.TaskID, req)
		return err
	case OpPauseTask:
		return surface.Pause(cmd.TaskID)
	case OpResumeTask:
		_, err := surface.Resume(cmd.TaskID)
		return err
	case OpCancelTask:
		return surface.Cancel(cmd.TaskID)
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
}

// reject moves a failed command into the dead-letter directory.
func (c *Consumer) reject(path string, cause error) {
	slog.Warn("IPC command rejected", "file", filepath.Base(path), "error", cause)
	dir := filepath.Join(c.root, failedDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Error("IPC failed dir", "error", err)
		return
	}
	if err := os.Rename(path, filepath.Join(dir, filepath.Base(path))); err != nil && !os.IsNotExist(err) {
		slog.Error("IPC dead-letter move failed", "file", path, "error", err)
	}
}
