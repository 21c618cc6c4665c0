// Package events connects the progression service to the message brokers:
// task completions arrive over Kafka and change signals are shared between
// instances over an AMQP fanout exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/tendant/simple-stars/internal/config"
	"github.com/tendant/simple-stars/pkg/celebration"
	"github.com/tendant/simple-stars/pkg/domain"
	"github.com/tendant/simple-stars/pkg/progress"
)

const (
	defaultMessageTimeout = 10 * time.Second
	minRetryDelay         = time.Second
	maxRetryDelay         = 30 * time.Second
)

// MessageReader is the part of *kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TaskHandler applies a task completion change.
type TaskHandler interface {
	HandleTaskCompletion(ctx context.Context, tc domain.TaskCompletion, sink celebration.Sink) (*progress.TaskResult, error)
}

// SinkFunc returns where celebrations for a user go.
type SinkFunc func(userID uuid.UUID) celebration.Sink

// TaskConsumer reads task completion changes from Kafka.
//
// An offset is committed only after the ledger recorded the change, or when
// the message can never succeed (malformed, or the assignee is not a member).
// Other failures are retried with backoff; redelivered changes are recognised
// by their event id.
type TaskConsumer struct {
	reader  MessageReader
	handler TaskHandler
	sinks   SinkFunc
	timeout time.Duration
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) bool
}

// NewTaskConsumer creates a consumer for the configured topic and group.
func NewTaskConsumer(cfg config.KafkaConfig, handler TaskHandler, sinks SinkFunc, logger *slog.Logger) *TaskConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return NewTaskConsumerWithReader(reader, handler, sinks, cfg.MessageTimeout, logger)
}

// NewTaskConsumerWithReader creates a consumer on an existing reader.
func NewTaskConsumerWithReader(reader MessageReader, handler TaskHandler, sinks SinkFunc, timeout time.Duration, logger *slog.Logger) *TaskConsumer {
	if timeout <= 0 {
		timeout = defaultMessageTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sinks == nil {
		sinks = func(uuid.UUID) celebration.Sink { return celebration.Discard }
	}
	return &TaskConsumer{
		reader:  reader,
		handler: handler,
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Run consumes until ctx is cancelled.
func (c *TaskConsumer) Run(ctx context.Context) error {
	c.logger.Info("task consumer started")
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("failed to fetch message", "error", err)
			if !c.sleep(ctx, minRetryDelay) {
				return nil
			}
			continue
		}

		if !c.process(ctx, m) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit offset", "error", err, "partition", m.Partition, "offset", m.Offset)
		}
	}
}

// Close closes the reader.
func (c *TaskConsumer) Close() error {
	return c.reader.Close()
}

// process handles m until it succeeded or can be skipped. It returns false
// when ctx was cancelled first.
func (c *TaskConsumer) process(ctx context.Context, m kafka.Message) bool {
	tc, err := decodeTaskCompletion(m)
	if err != nil {
		c.logger.Error("skipping malformed task completion", "error", err, "partition", m.Partition, "offset", m.Offset)
		return true
	}

	delay := minRetryDelay
	for {
		err := c.handle(ctx, tc)
		if err == nil {
			return true
		}
		if errors.Is(err, domain.ErrOperationConflict) {
			c.logger.Warn("skipping task completion with a reused event id",
				"task_id", tc.TaskID,
				"event_id", tc.EventID,
				"user_id", tc.AssigneeID,
				"group_id", tc.GroupID,
			)
			return true
		}
		if errors.Is(err, domain.ErrMembershipNotFound) {
			c.logger.Warn("skipping task completion for non-member",
				"task_id", tc.TaskID,
				"user_id", tc.AssigneeID,
				"group_id", tc.GroupID,
			)
			return true
		}

		c.logger.Error("task completion failed, retrying",
			"error", err,
			"task_id", tc.TaskID,
			"offset", m.Offset,
			"retry_in", delay,
		)
		if !c.sleep(ctx, delay) {
			return false
		}
		delay = min(delay*2, maxRetryDelay)
	}
}

func (c *TaskConsumer) handle(ctx context.Context, tc domain.TaskCompletion) error {
	processCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.handler.HandleTaskCompletion(processCtx, tc, c.sinks(tc.AssigneeID))
	if err != nil {
		return err
	}
	if res.Outcome != nil {
		c.logger.Info("task completion applied",
			"task_id", tc.TaskID,
			"user_id", tc.AssigneeID,
			"group_id", tc.GroupID,
			"total_stars", res.Outcome.Change.Total,
			"replayed", res.Outcome.Change.Replayed,
		)
	}
	return nil
}

func decodeTaskCompletion(m kafka.Message) (domain.TaskCompletion, error) {
	var tc domain.TaskCompletion
	if err := json.Unmarshal(m.Value, &tc); err != nil {
		return tc, fmt.Errorf("failed to decode task completion: %w", err)
	}
	if tc.AssigneeID == uuid.Nil || tc.GroupID == uuid.Nil {
		return tc, errors.New("assignee_id and group_id are required")
	}
	if tc.StarValue < 0 {
		return tc, errors.New("star_value must not be negative")
	}
	if tc.EventID == "" {
		// The message position is stable across redeliveries.
		tc.EventID = fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
	}
	return tc, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
