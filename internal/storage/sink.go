package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// Sink persists finished reading batches. Implementations must be
// safe for use from the batcher's flush goroutine and treat the
// context as the per-attempt deadline.
type Sink interface {
	// WriteBatch persists all readings or none in the success case;
	// partial writes after an error are acceptable, retries are
	// idempotent enough for time series data.
	WriteBatch(ctx context.Context, readings []types.Reading) error

	// Close releases the underlying connections.
	Close()

	// Name identifies the backend in logs.
	Name() string
}

// NewSink builds the configured storage backend.
func NewSink(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Backend {
	case "influxdb":
		return NewInfluxSink(cfg.Influx, logger), nil
	case "timescaledb":
		return NewTimescaleSink(ctx, cfg.Timescale, logger)
	case "kafka":
		return NewKafkaSink(cfg.Kafka, logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
