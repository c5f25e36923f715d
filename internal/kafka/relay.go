package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/yungbote/jobstream-backend/internal/eventstore"
	"github.com/yungbote/jobstream-backend/internal/logger"
)

// Relay is the outbox dispatcher: it tails undispatched event log rows in
// insert order, produces them to the event topic keyed by aggregate id, and
// marks them dispatched. A produce failure stops the batch so per-aggregate
// order on the topic is never broken; the next tick retries from the same row.
type Relay struct {
	log       *logger.Logger
	eventLog  eventstore.EventLog
	producer  sarama.SyncProducer
	topic     string
	interval  time.Duration
	batchSize int
}

func NewRelay(baseLog *logger.Logger, eventLog eventstore.EventLog, producer sarama.SyncProducer, topic string, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		log:       baseLog.With("service", "EventRelay"),
		eventLog:  eventLog,
		producer:  producer,
		topic:     topic,
		interval:  interval,
		batchSize: batchSize,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.log.Info("Event relay running", "topic", r.topic, "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.DispatchBatch(ctx); err != nil {
				r.log.Error("Relay batch failed, will retry", "error", err)
			}
		}
	}
}

// DispatchBatch produces one batch of undispatched events.
func (r *Relay) DispatchBatch(ctx context.Context) error {
	records, err := r.eventLog.FetchUndispatched(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("fetch undispatched events: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	var sendErr error
	ids := make([]uint64, 0, len(records))
	for _, record := range records {
		evt := eventstore.RecordToEvent(record)
		value, err := json.Marshal(evt)
		if err != nil {
			sendErr = fmt.Errorf("marshal event %d: %w", record.ID, err)
			break
		}
		_, _, err = r.producer.SendMessage(&sarama.ProducerMessage{
			Topic: r.topic,
			Key:   sarama.StringEncoder(evt.AggregateID.String()),
			Value: sarama.ByteEncoder(value),
		})
		if err != nil {
			sendErr = fmt.Errorf("produce event %d: %w", record.ID, err)
			break
		}
		ids = append(ids, record.ID)
	}

	if err := r.eventLog.MarkDispatched(ctx, ids); err != nil {
		// Already produced; redelivery is absorbed by the version guard on
		// the consuming side.
		return fmt.Errorf("mark %d events dispatched: %w", len(ids), err)
	}
	if sendErr != nil {
		return sendErr
	}
	r.log.Debug("Dispatched events to topic", "count", len(ids), "topic", r.topic)
	return nil
}
