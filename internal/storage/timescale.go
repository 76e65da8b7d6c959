package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

const createReadingsTable = `
	CREATE TABLE IF NOT EXISTS counter_readings (
		time        TIMESTAMPTZ      NOT NULL,
		device_id   TEXT             NOT NULL,
		location    TEXT,
		channel     INTEGER          NOT NULL,
		count       BIGINT           NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		rate        DOUBLE PRECISION,
		quality     TEXT             NOT NULL
	)
`

const createReadingsIndex = `
	CREATE INDEX IF NOT EXISTS idx_counter_readings_device_time
	ON counter_readings (device_id, time DESC)
`

// Optional, nur mit installierter TimescaleDB Extension
const createHypertable = `
	SELECT create_hypertable('counter_readings', 'time', if_not_exists => TRUE)
`

const insertReading = `
	INSERT INTO counter_readings (time, device_id, location, channel, count, value, rate, quality)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

// TimescaleSink writes reading batches into a hypertable. The pool
// connects lazily so an unreachable database delays writes instead of
// blocking startup.
type TimescaleSink struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	schemaReady bool
}

func NewTimescaleSink(ctx context.Context, cfg config.TimescaleConfig, logger *zap.Logger) (*TimescaleSink, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	s := &TimescaleSink{pool: pool, logger: logger}

	// Schema direkt anlegen; bei nicht erreichbarer DB beim ersten
	// Write nachholen
	setupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.ensureSchema(setupCtx); err != nil {
		logger.Warn("Schema setup deferred until database is reachable", zap.Error(err))
	}

	return s, nil
}

func (s *TimescaleSink) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createReadingsTable); err != nil {
		return fmt.Errorf("failed to create readings table: %w", err)
	}
	if _, err := s.pool.Exec(ctx, createReadingsIndex); err != nil {
		return fmt.Errorf("failed to create readings index: %w", err)
	}

	if _, err := s.pool.Exec(ctx, createHypertable); err != nil {
		s.logger.Warn("Hypertable creation skipped, plain table is used", zap.Error(err))
	}

	s.schemaReady = true
	s.logger.Info("TimescaleDB schema ready")
	return nil
}

func (s *TimescaleSink) WriteBatch(ctx context.Context, readings []types.Reading) error {
	if !s.schemaReady {
		if err := s.ensureSchema(ctx); err != nil {
			return types.NewKindError(types.ErrKindSink, err)
		}
	}

	batch := &pgx.Batch{}
	for _, r := range readings {
		batch.Queue(insertReading,
			r.Timestamp,
			r.DeviceID,
			r.Location,
			r.Channel,
			int64(r.RawValue),
			r.Value,
			r.Rate,
			string(r.Quality),
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range readings {
		if _, err := results.Exec(); err != nil {
			return types.NewKindError(types.ErrKindSink,
				fmt.Errorf("failed to insert reading: %w", err))
		}
	}

	return nil
}

func (s *TimescaleSink) Close() {
	s.pool.Close()
}

func (s *TimescaleSink) Name() string {
	return "timescaledb"
}
