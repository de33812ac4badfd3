// Package taskctl exposes the task-control operations available to agents.
//
// A Surface is scoped to one caller: the privileged "main" group sees and
// mutates every task, while any other group is confined to its own. All
// tenant checks happen here, before any store mutation.
package taskctl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/javiormeow/nanoclaw/internal/schedule"
	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// MainGroupFolder is the privileged tenant with global visibility.
const MainGroupFolder = "main"

// Sender delivers outbound messages to the chat transport.
type Sender interface {
	SendMessage(ctx context.Context, jid, text string) error
}

// Surface is a task-control handle scoped to one caller.
type Surface struct {
	store       *taskstore.Store
	sender      Sender
	groupFolder string
	chatJID     string
	isMain      bool
	runLogLimit int
}

// NewSurface creates a Surface for the given caller. The caller is
// privileged iff its group folder is MainGroupFolder.
func NewSurface(store *taskstore.Store, sender Sender, groupFolder, chatJID string) *Surface {
	return &Surface{
		store:       store,
		sender:      sender,
		groupFolder: groupFolder,
		chatJID:     chatJID,
		isMain:      groupFolder == MainGroupFolder,
		runLogLimit: 5,
	}
}

// NewRestrictedSurface creates a Surface confined to its own group even
// when the group is MainGroupFolder. Scheduled runs use it so a task's
// tools never carry main privileges.
func NewRestrictedSurface(store *taskstore.Store, sender Sender, groupFolder, chatJID string) *Surface {
	s := NewSurface(store, sender, groupFolder, chatJID)
	s.isMain = false
	return s
}

// GroupFolder returns the caller's tenant.
func (s *Surface) GroupFolder() string { return s.groupFolder }

// ChatJID returns the caller's bound chat destination.
func (s *Surface) ChatJID() string { return s.chatJID }

// IsMain reports whether the caller is the privileged tenant.
func (s *Surface) IsMain() bool { return s.isMain }

// CreateRequest holds the inputs for Create.
type CreateRequest struct {
	Prompt        string
	ScheduleType  string
	ScheduleValue string
	// TargetGroup and TargetJID are honored only for the privileged caller.
	TargetGroup string
	TargetJID   string
}

// Create validates the schedule and persists a new active task. A schedule
// that cannot produce a future fire time is rejected before persistence,
// including a "once" timestamp that already passed.
func (s *Surface) Create(req CreateRequest) (*taskstore.ScheduledTask, error) {
	typ, err := schedule.ParseType(req.ScheduleType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	nextRun, err := schedule.NextRun(typ, req.ScheduleValue, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if nextRun == nil {
		return nil, ErrInvalidSchedule
	}

	targetGroup := s.groupFolder
	targetJID := s.chatJID
	if s.isMain && req.TargetGroup != "" {
		targetGroup = req.TargetGroup
		if req.TargetJID != "" {
			targetJID = req.TargetJID
		}
	}

	task := &taskstore.ScheduledTask{
		GroupFolder:   targetGroup,
		ChatJID:       targetJID,
		Prompt:        req.Prompt,
		ScheduleType:  typ,
		ScheduleValue: req.ScheduleValue,
		NextRun:       nextRun,
	}
	if err := s.store.CreateTask(task); err != nil {
		return nil, err
	}
	slog.Info("Task created", "id", task.ID, "group", targetGroup, "type", typ)
	return task, nil
}

// List returns the tasks visible to the caller.
func (s *Surface) List() ([]*taskstore.ScheduledTask, error) {
	if s.isMain {
		return s.store.GetAllTasks()
	}
	return s.store.GetTasksForGroup(s.groupFolder)
}

// Get returns a task the caller owns, together with its most recent run log
// entries (newest first, bounded).
func (s *Surface) Get(id string) (*taskstore.ScheduledTask, []*taskstore.TaskRun, error) {
	task, err := s.authorize(id)
	if err != nil {
		return nil, nil, err
	}
	runs, err := s.store.GetTaskRunLogs(id, s.runLogLimit)
	if err != nil {
		return nil, nil, err
	}
	return task, runs, nil
}

// UpdateRequest holds the optional fields for Update. Nil fields are left
// untouched.
type UpdateRequest struct {
	Prompt        *string
	ScheduleType  *string
	ScheduleValue *string
}

// Update patches a task. If either schedule field changes, next_run is
// recomputed from the merged schedule; a non-once schedule that cannot fire
// rejects the whole update.
func (s *Surface) Update(id string, req UpdateRequest) (*taskstore.ScheduledTask, error) {
	task, err := s.authorize(id)
	if err != nil {
		return nil, err
	}

	patch := taskstore.TaskPatch{Prompt: req.Prompt}

	if req.ScheduleType != nil || req.ScheduleValue != nil {
		typ := task.ScheduleType
		if req.ScheduleType != nil {
			typ, err = schedule.ParseType(*req.ScheduleType)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
			}
			patch.ScheduleType = &typ
		}
		value := task.ScheduleValue
		if req.ScheduleValue != nil {
			value = *req.ScheduleValue
			patch.ScheduleValue = req.ScheduleValue
		}

		nextRun, err := schedule.NextRun(typ, value, time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		if nextRun == nil && typ != schedule.TypeOnce {
			return nil, ErrInvalidSchedule
		}
		if nextRun == nil {
			patch.ClearNextRun = true
		} else {
			patch.NextRun = nextRun
		}
	}

	if err := s.store.UpdateTask(id, patch); err != nil {
		return nil, err
	}
	return s.store.GetTaskByID(id)
}

// Pause marks a task paused. The stored next_run is left untouched; the
// scheduler never selects a non-active task.
func (s *Surface) Pause(id string) error {
	if _, err := s.authorize(id); err != nil {
		return err
	}
	status := taskstore.StatusPaused
	if err := s.store.UpdateTask(id, taskstore.TaskPatch{Status: &status}); err != nil {
		return err
	}
	slog.Info("Task paused", "id", id, "group", s.groupFolder)
	return nil
}

// Resume reactivates a task, recomputing next_run from the current schedule
// fields at resume time. A "once" schedule whose time passed while paused
// resumes with a nil next_run and will never be selected as due.
func (s *Surface) Resume(id string) (*taskstore.ScheduledTask, error) {
	task, err := s.authorize(id)
	if err != nil {
		return nil, err
	}

	nextRun, err := schedule.NextRun(task.ScheduleType, task.ScheduleValue, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}

	status := taskstore.StatusActive
	patch := taskstore.TaskPatch{Status: &status}
	if nextRun == nil {
		patch.ClearNextRun = true
	} else {
		patch.NextRun = nextRun
	}
	if err := s.store.UpdateTask(id, patch); err != nil {
		return nil, err
	}
	slog.Info("Task resumed", "id", id, "group", s.groupFolder)
	return s.store.GetTaskByID(id)
}

// Cancel deletes a task permanently. Cancelling an already-deleted id
// returns ErrNotFound.
func (s *Surface) Cancel(id string) error {
	if _, err := s.authorize(id); err != nil {
		return err
	}
	deleted, err := s.store.DeleteTask(id)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	slog.Info("Task cancelled", "id", id, "group", s.groupFolder)
	return nil
}

// SendMessage delivers text via the transport. Restricted callers are always
// pinned to their own chat destination.
func (s *Surface) SendMessage(ctx context.Context, text, target string) error {
	jid := s.chatJID
	if s.isMain && target != "" {
		jid = target
	}
	if s.sender == nil {
		return fmt.Errorf("no message transport configured")
	}
	return s.sender.SendMessage(ctx, jid, text)
}

// authorize loads a task and enforces tenant isolation.
func (s *Surface) authorize(id string) (*taskstore.ScheduledTask, error) {
	task, err := s.store.GetTaskByID(id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if !s.isMain && task.GroupFolder != s.groupFolder {
		return nil, ErrAccessDenied
	}
	return task, nil
}
