package storage

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// KafkaSink publishes reading batches keyed by device so one device's
// readings stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewKafkaSink(cfg config.KafkaConfig, logger *zap.Logger) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // Partitionierung über den Key
		BatchSize:    100,
		RequiredAcks: kafka.RequireAll,
	}

	logger.Info("Kafka sink configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return &KafkaSink{writer: writer, logger: logger}
}

func (s *KafkaSink) WriteBatch(ctx context.Context, readings []types.Reading) error {
	messages := make([]kafka.Message, 0, len(readings))
	for _, r := range readings {
		value, err := json.Marshal(r)
		if err != nil {
			return types.NewKindError(types.ErrKindSink, err)
		}
		messages = append(messages, kafka.Message{
			Key:   []byte(r.DeviceID),
			Value: value,
			Time:  r.Timestamp,
		})
	}

	if err := s.writer.WriteMessages(ctx, messages...); err != nil {
		return types.NewKindError(types.ErrKindSink, err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	if err := s.writer.Close(); err != nil {
		s.logger.Warn("Kafka writer close failed", zap.Error(err))
	}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}
