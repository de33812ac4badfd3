// Package taskstore persists scheduled tasks, their run log, and raw chat
// messages in a single SQLite database.
package taskstore

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/javiormeow/nanoclaw/internal/schedule"
)

// timeLayout is fixed-width UTC with millisecond precision, so stored values
// compare correctly as strings.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Store is the persistent task store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the task database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open task db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewTaskID generates a unique task identifier.
func NewTaskID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("task-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("task-%d-%s", time.Now().UnixMilli(), hex.EncodeToString(b[:]))
}

// CreateTask inserts a new task. ID, Status, and CreatedAt are filled in if
// empty.
func (s *Store) CreateTask(task *ScheduledTask) error {
	if task.ID == "" {
		task.ID = NewTaskID()
	}
	if task.Status == "" {
		task.Status = StatusActive
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks (id, group_folder, chat_jid, prompt, schedule_type, schedule_value, status, next_run, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.GroupFolder, task.ChatJID, task.Prompt,
		string(task.ScheduleType), task.ScheduleValue, task.Status,
		formatTimePtr(task.NextRun), formatTime(task.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

const taskColumns = `id, group_folder, chat_jid, prompt, schedule_type, schedule_value, status, next_run, last_run, last_result, created_at`

func scanTask(row interface{ Scan(...any) error }) (*ScheduledTask, error) {
	var t ScheduledTask
	var schedType string
	var nextRun, lastRun, lastResult sql.NullString
	var createdAt string

	err := row.Scan(&t.ID, &t.GroupFolder, &t.ChatJID, &t.Prompt,
		&schedType, &t.ScheduleValue, &t.Status,
		&nextRun, &lastRun, &lastResult, &createdAt)
	if err != nil {
		return nil, err
	}
	t.ScheduleType = schedule.Type(schedType)
	if t.NextRun, err = parseTimePtr(nextRun); err != nil {
		return nil, fmt.Errorf("parse next_run: %w", err)
	}
	if t.LastRun, err = parseTimePtr(lastRun); err != nil {
		return nil, fmt.Errorf("parse last_run: %w", err)
	}
	if lastResult.Valid {
		t.LastResult = &lastResult.String
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &t, nil
}

// GetTaskByID returns a task, or (nil, nil) if it does not exist.
func (s *Store) GetTaskByID(id string) (*ScheduledTask, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetTasksForGroup returns all tasks owned by one group.
func (s *Store) GetTasksForGroup(group string) ([]*ScheduledTask, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM scheduled_tasks WHERE group_folder = ? ORDER BY created_at`, group)
}

// GetAllTasks returns every task in the store.
func (s *Store) GetAllTasks() ([]*ScheduledTask, error) {
	return s.queryTasks(`SELECT ` + taskColumns + ` FROM scheduled_tasks ORDER BY created_at`)
}

// GetDueTasks returns active tasks whose next_run has elapsed.
func (s *Store) GetDueTasks(now time.Time) ([]*ScheduledTask, error) {
	return s.queryTasks(`SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE status = ? AND next_run IS NOT NULL AND next_run <= ?`,
		StatusActive, formatTime(now))
}

func (s *Store) queryTasks(query string, args ...any) ([]*ScheduledTask, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask applies a partial update to one task as a single statement.
func (s *Store) UpdateTask(id string, patch TaskPatch) error {
	var sets []string
	var args []any

	if patch.Prompt != nil {
		sets = append(sets, "prompt = ?")
		args = append(args, *patch.Prompt)
	}
	if patch.ScheduleType != nil {
		sets = append(sets, "schedule_type = ?")
		args = append(args, string(*patch.ScheduleType))
	}
	if patch.ScheduleValue != nil {
		sets = append(sets, "schedule_value = ?")
		args = append(args, *patch.ScheduleValue)
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	if patch.ClearNextRun {
		sets = append(sets, "next_run = NULL")
	} else if patch.NextRun != nil {
		sets = append(sets, "next_run = ?")
		args = append(args, formatTime(*patch.NextRun))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// UpdateTaskAfterRun records the outcome of a run and the next fire time in
// one atomic statement. A nil nextRun marks the task as never firing again.
func (s *Store) UpdateTaskAfterRun(id string, nextRun *time.Time, lastRun time.Time, lastResult string) error {
	_, err := s.db.Exec(`UPDATE scheduled_tasks SET next_run = ?, last_run = ?, last_result = ? WHERE id = ?`,
		formatTimePtr(nextRun), formatTime(lastRun), lastResult, id)
	if err != nil {
		return fmt.Errorf("update task after run: %w", err)
	}
	return nil
}

// DeleteTask removes a task. Returns false if no row existed.
func (s *Store) DeleteTask(id string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LogTaskRun appends one run log entry.
func (s *Store) LogTaskRun(run *TaskRun) error {
	var result, errText any
	if run.Result != nil {
		result = *run.Result
	}
	if run.Error != nil {
		errText = *run.Error
	}
	res, err := s.db.Exec(`INSERT INTO task_runs (task_id, run_at, duration_ms, status, result, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.TaskID, formatTime(run.RunAt), run.DurationMS, run.Status, result, errText)
	if err != nil {
		return fmt.Errorf("log task run: %w", err)
	}
	run.ID, _ = res.LastInsertId()
	return nil
}

// GetTaskRunLogs returns the most recent run entries for a task, newest first.
func (s *Store) GetTaskRunLogs(taskID string, limit int) ([]*TaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT id, task_id, run_at, duration_ms, status, result, error
		FROM task_runs WHERE task_id = ? ORDER BY run_at DESC, id DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("get run logs: %w", err)
	}
	defer rows.Close()

	var runs []*TaskRun
	for rows.Next() {
		var r TaskRun
		var runAt string
		var result, errText sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &runAt, &r.DurationMS, &r.Status, &result, &errText); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		if r.RunAt, err = parseTime(runAt); err != nil {
			return nil, fmt.Errorf("parse run_at: %w", err)
		}
		if result.Valid {
			r.Result = &result.String
		}
		if errText.Valid {
			r.Error = &errText.String
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// StoreChatMessage upserts a chat row and stores one transport message.
func (s *Store) StoreChatMessage(m *ChatMessage) error {
	ts := formatTime(m.Timestamp)
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO chats (jid, name, last_message_time) VALUES (?, ?, ?)`,
		m.ChatJID, m.ChatJID, ts); err != nil {
		return fmt.Errorf("store chat: %w", err)
	}
	fromMe := 0
	if m.IsFromMe {
		fromMe = 1
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO messages (id, chat_jid, sender, content, timestamp, is_from_me)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatJID, m.Sender, m.Content, ts, fromMe); err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

// GetMessagesAfter returns messages newer than the watermark for the given
// chats, oldest first. An empty watermark returns everything.
func (s *Store) GetMessagesAfter(watermark string, jids []string) ([]*ChatMessage, error) {
	if len(jids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(jids)), ",")
	args := make([]any, 0, len(jids)+1)
	args = append(args, watermark)
	for _, jid := range jids {
		args = append(args, jid)
	}

	rows, err := s.db.Query(`SELECT id, chat_jid, sender, content, timestamp, is_from_me
		FROM messages WHERE timestamp > ? AND chat_jid IN (`+placeholders+`) ORDER BY timestamp`, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*ChatMessage
	for rows.Next() {
		var m ChatMessage
		var ts string
		var fromMe int
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.Sender, &m.Content, &ts, &fromMe); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		m.IsFromMe = fromMe == 1
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// Watermark formats a timestamp for use with GetMessagesAfter.
func Watermark(t time.Time) string {
	return formatTime(t)
}
