package taskstore

import (
	"time"

	"github.com/javiormeow/nanoclaw/internal/schedule"
)

// ScheduledTask is a registered automated job owned by a group.
type ScheduledTask struct {
	ID            string        `json:"id"`
	GroupFolder   string        `json:"group_folder"`
	ChatJID       string        `json:"chat_jid"`
	Prompt        string        `json:"prompt"`
	ScheduleType  schedule.Type `json:"schedule_type"`
	ScheduleValue string        `json:"schedule_value"`
	Status        string        `json:"status"`
	NextRun       *time.Time    `json:"next_run"`
	LastRun       *time.Time    `json:"last_run"`
	LastResult    *string       `json:"last_result"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Task status values. Cancellation deletes the row instead of marking it.
const (
	StatusActive = "active"
	StatusPaused = "paused"
)

// TaskRun is one append-only run log entry. Never mutated after insert.
type TaskRun struct {
	ID         int64     `json:"id"`
	TaskID     string    `json:"task_id"`
	RunAt      time.Time `json:"run_at"`
	DurationMS int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Result     *string   `json:"result"`
	Error      *string   `json:"error"`
}

// Run outcome classification.
const (
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// TaskPatch holds optional fields for UpdateTask. Nil fields are left
// untouched. ClearNextRun sets next_run to NULL and wins over NextRun.
type TaskPatch struct {
	Prompt        *string
	ScheduleType  *schedule.Type
	ScheduleValue *string
	Status        *string
	NextRun       *time.Time
	ClearNextRun  bool
}

// ChatMessage is one stored transport message, used by the ingestion loop.
type ChatMessage struct {
	ID        string    `json:"id"`
	ChatJID   string    `json:"chat_jid"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	IsFromMe  bool      `json:"is_from_me"`
}

// Schema is applied on open. Timestamps are stored as fixed-width UTC text
// (millisecond precision) so lexical comparison matches chronological order.
const Schema = `
CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id TEXT PRIMARY KEY,
	group_folder TEXT NOT NULL,
	chat_jid TEXT NOT NULL,
	prompt TEXT NOT NULL,
	schedule_type TEXT NOT NULL,
	schedule_value TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	next_run TEXT,
	last_run TEXT,
	last_result TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_group ON scheduled_tasks(group_folder);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(status, next_run);

CREATE TABLE IF NOT EXISTS task_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT NOT NULL,
	run_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	status TEXT NOT NULL,
	result TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_runs_task ON task_runs(task_id, run_at);

CREATE TABLE IF NOT EXISTS chats (
	jid TEXT PRIMARY KEY,
	name TEXT,
	last_message_time TEXT
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT,
	chat_jid TEXT,
	sender TEXT,
	content TEXT,
	timestamp TEXT,
	is_from_me INTEGER,
	PRIMARY KEY (id, chat_jid),
	FOREIGN KEY (chat_jid) REFERENCES chats(jid)
);
CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);
`
