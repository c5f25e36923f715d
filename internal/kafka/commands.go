package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/job"
	"github.com/yungbote/jobstream-backend/internal/logger"
)

// commandEnvelope is the wire shape on the job command topic. Type selects
// the command; the other fields are filled per type.
type commandEnvelope struct {
	Type    string                   `json:"type"`
	JobType string                   `json:"jobType,omitempty"`
	JobID   uuid.UUID                `json:"jobId"`
	UserID  uuid.UUID                `json:"userId,omitempty"`
	Context job.JsonSerializedObject `json:"serializedContext,omitempty"`
	Command job.JsonSerializedObject `json:"serializedCommand,omitempty"`
	Result  job.JsonSerializedObject `json:"serializedResult,omitempty"`
}

// CommandListener consumes job commands delivered over Kafka (the path other
// services use to enqueue and drive jobs). Delivery is at-least-once; the
// dispatcher's duplicate handling is what makes redelivery harmless.
type CommandListener struct {
	log        *logger.Logger
	dispatcher *job.Dispatcher
	maxRetries uint64
}

func NewCommandListener(baseLog *logger.Logger, dispatcher *job.Dispatcher) *CommandListener {
	return &CommandListener{
		log:        baseLog.With("service", "JobCommandListener"),
		dispatcher: dispatcher,
		maxRetries: 5,
	}
}

func (l *CommandListener) Run(ctx context.Context, brokers []string, group, topic string) error {
	return StartConsumerGroup(ctx, brokers, group, topic, false, l.Handle, l.log)
}

// Handle dispatches one command message. Malformed or unknown messages are
// acknowledged and dropped (they would never succeed); transient dispatch
// failures retry with backoff before halting the claim.
func (l *CommandListener) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env commandEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		l.log.Error("Dropping malformed command message", "offset", msg.Offset, "error", err)
		return nil
	}

	var cmd any
	switch env.Type {
	case "EnqueueJobCommand":
		cmd = job.EnqueueJobCommand{
			JobType: env.JobType,
			JobID:   env.JobID,
			UserID:  env.UserID,
			Context: env.Context,
			Command: env.Command,
		}
	case "StartJobCommand":
		cmd = job.StartJobCommand{JobID: env.JobID}
	case "CompleteJobCommand":
		cmd = job.CompleteJobCommand{JobID: env.JobID, Result: env.Result}
	case "FailJobCommand":
		cmd = job.FailJobCommand{JobID: env.JobID}
	default:
		l.log.Warn("Dropping command of unknown type", "type", env.Type, "offset", msg.Offset)
		return nil
	}

	op := func() error {
		_, err := l.dispatcher.Dispatch(ctx, cmd)
		if err == nil {
			return nil
		}
		if isNonRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, l.maxRetries), ctx))
	if err != nil {
		if isNonRetryable(err) {
			// A command that can never succeed must not wedge the partition.
			l.log.Error("Dropping undeliverable command", "type", env.Type, "job_id", env.JobID, "error", err)
			return nil
		}
		l.log.Error("Command dispatch failed after retries", "type", env.Type, "job_id", env.JobID, "error", err)
		return err
	}
	return nil
}

func isNonRetryable(err error) bool {
	var precondition *eventstore.PreconditionError
	var denied *eventstore.AccessDeniedError
	return errors.Is(err, eventstore.ErrAggregateNotFound) ||
		errors.As(err, &precondition) ||
		errors.As(err, &denied)
}
