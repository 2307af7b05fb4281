package progress

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"photoflow/internal/models"
)

// KafkaMirror copies progress events onto a Kafka topic so consumers outside
// this process (analytics, audit) can observe batch progress. Mirroring is
// best-effort: a write failure is logged and the event is gone.
type KafkaMirror struct {
	writer *kafka.Writer
	events chan models.ProgressEvent
	logger *slog.Logger
}

func NewKafkaMirror(cfg models.KafkaConfig, logger *slog.Logger) *KafkaMirror {
	return &KafkaMirror{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers: []string{cfg.Broker},
			Topic:   cfg.Topic,
		}),
		events: make(chan models.ProgressEvent, 256),
		logger: logger,
	}
}

// Offer hands an event to the mirror without blocking the publisher.
func (m *KafkaMirror) Offer(ev models.ProgressEvent) {
	select {
	case m.events <- ev:
	default:
		m.logger.Warn("kafka mirror backlog full, event dropped", "job_id", ev.JobID)
	}
}

// Run drains the event channel until ctx is cancelled, then closes the
// writer. Call in its own goroutine.
func (m *KafkaMirror) Run(ctx context.Context) {
	defer m.writer.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			value, err := json.Marshal(ev)
			if err != nil {
				m.logger.Error("marshal progress event", "error", err)
				continue
			}
			msg := kafka.Message{
				Key:   []byte(ev.JobID.String()),
				Value: value,
			}
			if err := m.writer.WriteMessages(ctx, msg); err != nil && ctx.Err() == nil {
				m.logger.Error("mirror progress event to kafka", "job_id", ev.JobID, "error", err)
			}
		}
	}
}
