package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fieldsense/alertd/internal/conf"
	"github.com/fieldsense/alertd/internal/logger"
	"github.com/fieldsense/alertd/internal/observability"
)

// messageReader is the subset of *kafka.Reader the source uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource consumes telemetry from a topic as part of a consumer group.
// The message key is the device id; when empty the payload must carry one.
type KafkaSource struct {
	reader messageReader
	intake intake
}

// NewKafkaSource creates a consumer for the configured topic.
func NewKafkaSource(settings conf.KafkaSettings, pub Publisher, metrics *observability.Metrics, log logger.Logger) *KafkaSource {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        settings.Brokers,
		Topic:          settings.Topic,
		GroupID:        settings.GroupID,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafka.LastOffset,
	})
	return newKafkaSource(reader, pub, metrics, log.Module("ingest.kafka").With(logger.String("topic", settings.Topic)))
}

func newKafkaSource(reader messageReader, pub Publisher, metrics *observability.Metrics, log logger.Logger) *KafkaSource {
	return &KafkaSource{
		reader: reader,
		intake: intake{
			source:  "kafka",
			pub:     pub,
			metrics: metrics,
			log:     log,
			now:     time.Now,
		},
	}
}

// Run consumes until ctx is cancelled. Every message is committed after it
// was handed to the publisher, rejected payloads included.
func (s *KafkaSource) Run(ctx context.Context) error {
	s.intake.log.Info("consuming telemetry")
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch telemetry message: %w", err)
		}

		s.intake.accept(string(msg.Key), msg.Value)

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.intake.log.Warn("failed to commit telemetry offset",
				logger.Int("partition", msg.Partition),
				logger.Int64("offset", msg.Offset),
				logger.Error(err))
		}
	}
}

// Close releases the reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}
