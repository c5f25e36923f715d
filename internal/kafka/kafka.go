// Package kafka wraps sarama for the three ways this service touches the
// event transport: producing dispatched events, consuming commands, and
// replaying the event topic during restore.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"

	"github.com/yungbote/jobstream-backend/internal/logger"
)

// NewSyncProducer builds a producer for the event relay. Hash partitioning on
// the message key keeps all events of one aggregate on one partition, which
// is what gives consumers per-aggregate ordering.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return sarama.NewSyncProducer(brokers, config)
}

// MessageHandler processes one consumed message. Returning an error stops the
// claim; the handler owns its own retry policy for transient failures.
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// StartConsumerGroup consumes topic in the given group until ctx is cancelled
// or the handler reports a fatal error.
func StartConsumerGroup(ctx context.Context, brokers []string, group, topic string, fromOldest bool, handler MessageHandler, log *logger.Logger) error {
	config := sarama.NewConfig()
	if fromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	config.Consumer.Return.Errors = true

	cg, err := sarama.NewConsumerGroup(brokers, group, config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cg.Close(); cerr != nil {
			log.Warn("Error closing consumer group", "group", group, "error", cerr)
		}
	}()

	go func() {
		for cgErr := range cg.Errors() {
			log.Error("Consumer group error", "group", group, "error", cgErr)
		}
	}()

	h := &groupHandler{handler: handler, log: log}
	log.Info("Consumer group running", "group", group, "topic", topic, "from_oldest", fromOldest)
	for {
		if err := cg.Consume(ctx, []string{topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type groupHandler struct {
	handler MessageHandler
	log     *logger.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks offsets only after the handler succeeds, so a crash
// between apply and commit redelivers (at-least-once).
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(session.Context(), msg); err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
