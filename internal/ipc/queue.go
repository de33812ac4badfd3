// Package ipc bridges sandboxed agent processes to the privileged daemon
// through a durable file-based command queue. Producers drop one JSON file
// per command into a category directory; the daemon consumes them in
// filename order. Files survive a crash on either side.
package ipc

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Command categories map to subdirectories of the IPC root.
const (
	CategoryMessages = "messages"
	CategoryTaskOps  = "task_ops"
)

// failedDir collects commands the consumer could not apply.
const failedDir = "failed"

// Command operations. The values are the cross-process wire contract;
// sandboxed writers in other languages emit these strings.
const (
	OpSendMessage = "send_message"
	OpCreateTask  = "schedule_task"
	OpUpdateTask  = "update_task"
	OpPauseTask   = "pause_task"
	OpResumeTask  = "resume_task"
	OpCancelTask  = "cancel_task"
)

// Command is one queued instruction from a sandboxed agent. GroupFolder and
// ChatJID identify the issuing tenant; the consumer enforces scope with them.
type Command struct {
	Op          string    `json:"type"`
	GroupFolder string    `json:"group_folder"`
	ChatJID     string    `json:"chat_jid"`
	Timestamp   time.Time `json:"timestamp"`

	// Message delivery.
	Text      string `json:"text,omitempty"`
	TargetJID string `json:"target_jid,omitempty"`

	// Task operations.
	TaskID        string `json:"task_id,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	ScheduleType  string `json:"schedule_type,omitempty"`
	ScheduleValue string `json:"schedule_value,omitempty"`
	TargetGroup   string `json:"target_group,omitempty"`
}

// Category returns the subdirectory this command belongs in.
func (c *Command) Category() string {
	if c.Op == OpSendMessage {
		return CategoryMessages
	}
	return CategoryTaskOps
}

// Queue is the producer side. Safe for concurrent use within one process;
// the random filename suffix keeps separate processes from colliding.
type Queue struct {
	root string

	mu     sync.Mutex
	lastMS int64
	seq    int
}

// NewQueue creates the category directories under root.
func NewQueue(root string) (*Queue, error) {
	for _, dir := range []string{CategoryMessages, CategoryTaskOps, "tmp"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("ipc dir %s: %w", dir, err)
		}
	}
	return &Queue{root: root}, nil
}

// Root returns the queue's base directory.
func (q *Queue) Root() string { return q.root }

// Enqueue durably writes one command. The file is staged in tmp/ and
// renamed into its category directory, so a consumer never observes a
// partially written command.
func (q *Queue) Enqueue(cmd *Command) (string, error) {
	if cmd.Op == "" {
		return "", fmt.Errorf("enqueue: missing op")
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("enqueue marshal: %w", err)
	}

	name := q.nextName()
	tmpPath := filepath.Join(q.root, "tmp", name)
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("enqueue stage: %w", err)
	}
	finalPath := filepath.Join(q.root, cmd.Category(), name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("enqueue publish: %w", err)
	}
	return finalPath, nil
}

// nextName builds a filename whose lexical order matches enqueue order.
// Width-fixed millisecond timestamp, then a counter that only advances
// within the same millisecond, then random bytes for cross-process safety.
func (q *Queue) nextName() string {
	q.mu.Lock()
	ms := time.Now().UnixMilli()
	if ms == q.lastMS {
		q.seq++
	} else {
		q.lastMS = ms
		q.seq = 0
	}
	seq := q.seq
	q.mu.Unlock()

	var rnd [4]byte
	rand.Read(rnd[:])
	return fmt.Sprintf("%013d-%06d-%s.json", ms, seq, hex.EncodeToString(rnd[:]))
}
