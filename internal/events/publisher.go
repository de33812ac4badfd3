// Package events publishes task run records to a Kafka audit topic.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/javiormeow/nanoclaw/internal/taskstore"
)

// Config holds the audit publisher settings. Empty brokers disable it.
type Config struct {
	Brokers string `json:"brokers" envconfig:"BROKERS"`
	Topic   string `json:"topic" envconfig:"TOPIC"`
}

// DefaultConfig returns audit defaults (disabled).
func DefaultConfig() Config {
	return Config{Topic: "nanoclaw.task-runs"}
}

// RunEvent is the JSON record published per task run.
type RunEvent struct {
	EventID     string    `json:"event_id"`
	TaskID      string    `json:"task_id"`
	GroupFolder string    `json:"group_folder"`
	RunAt       time.Time `json:"run_at"`
	DurationMS  int64     `json:"duration_ms"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
}

// Publisher writes run events to Kafka. Audit is best-effort: publish
// failures are logged and dropped, never surfaced to the scheduler.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher returns nil when no brokers are configured; callers treat a
// nil Publisher as disabled.
func NewPublisher(cfg Config) *Publisher {
	if strings.TrimSpace(cfg.Brokers) == "" {
		return nil
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultConfig().Topic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(cfg.Brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// TaskRan implements the scheduler's run observer.
func (p *Publisher) TaskRan(task *taskstore.ScheduledTask, run *taskstore.TaskRun) {
	if p == nil {
		return
	}
	event := RunEvent{
		EventID:     uuid.NewString(),
		TaskID:      task.ID,
		GroupFolder: task.GroupFolder,
		RunAt:       run.RunAt,
		DurationMS:  run.DurationMS,
		Status:      run.Status,
	}
	if run.Error != nil {
		event.Error = *run.Error
	}
	value, err := json.Marshal(event)
	if err != nil {
		slog.Error("Run event marshal failed", "task", task.ID, "error", err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := p.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(task.ID),
			Value: value,
		})
		if err != nil {
			slog.Warn("Run event publish failed", "task", task.ID, "error", err)
		}
	}()
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
