package storage

import (
	"context"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenCounterCore/internal/config"
	"github.com/KevinKickass/OpenCounterCore/internal/types"
)

// InfluxSink writes reading batches through the blocking write API.
type InfluxSink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	logger      *zap.Logger
}

func NewInfluxSink(cfg config.InfluxConfig, logger *zap.Logger) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.Token())
	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)

	logger.Info("InfluxDB sink configured",
		zap.String("url", cfg.URL),
		zap.String("org", cfg.Org),
		zap.String("bucket", cfg.Bucket))

	return &InfluxSink{
		client:      client,
		writeAPI:    writeAPI,
		measurement: cfg.Measurement,
		logger:      logger,
	}
}

func (s *InfluxSink) WriteBatch(ctx context.Context, readings []types.Reading) error {
	points := make([]*write.Point, 0, len(readings))
	for _, r := range readings {
		points = append(points, s.buildPoint(r))
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return types.NewKindError(types.ErrKindSink, err)
	}
	return nil
}

func (s *InfluxSink) buildPoint(r types.Reading) *write.Point {
	tags := map[string]string{
		"device_id": r.DeviceID,
		"channel":   strconv.Itoa(r.Channel),
		"quality":   string(r.Quality),
	}
	if r.Location != "" {
		tags["location"] = r.Location
	}

	fields := map[string]interface{}{
		"count": int64(r.RawValue),
		"value": r.Value,
	}
	if r.Rate != nil {
		fields["rate"] = *r.Rate
	}

	return write.NewPoint(s.measurement, tags, fields, r.Timestamp)
}

func (s *InfluxSink) Close() {
	if s != nil && s.client != nil {
		s.client.Close()
	}
}

func (s *InfluxSink) Name() string {
	return "influxdb"
}
