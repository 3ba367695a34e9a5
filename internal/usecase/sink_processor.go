package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"RiskPull/internal/domain/models"
	drepo "RiskPull/internal/domain/repository"
)

const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
)

// SinkProcessor forwards a finished risk-index build to the configured backends.
type SinkProcessor struct {
	pub     drepo.SnapshotPublisher
	store   drepo.HistoryStore
	metrics drepo.Metrics
	backend string
}

// NewSinkProcessor creates a new SinkProcessor instance. pub and store may be
// nil when the backend does not use them.
func NewSinkProcessor(pub drepo.SnapshotPublisher, store drepo.HistoryStore, metrics drepo.Metrics, backend string) *SinkProcessor {
	if backend == "" {
		backend = BackendNone
	}
	return &SinkProcessor{pub: pub, store: store, metrics: metrics, backend: backend}
}

func (p *SinkProcessor) Backend() string { return p.backend }

func (p *SinkProcessor) useKafka() bool {
	return p.backend == BackendKafka || p.backend == BackendBoth
}

func (p *SinkProcessor) useClickHouse() bool {
	return p.backend == BackendClickHouse || p.backend == BackendBoth
}

// Process delivers the snapshot and the timeseries rows. With backend both,
// a Kafka failure does not stop the ClickHouse write.
func (p *SinkProcessor) Process(ctx context.Context, snap *models.Snapshot, rows []models.TimeseriesRow) error {
	if snap == nil {
		return fmt.Errorf("snapshot is nil")
	}
	switch p.backend {
	case BackendNone:
		return nil
	case BackendKafka, BackendClickHouse, BackendBoth:
	default:
		return fmt.Errorf("unknown backend: %s", p.backend)
	}

	start := time.Now()
	var errs []error

	if p.useKafka() {
		if err := p.toKafka(ctx, snap, rows); err != nil {
			p.metrics.RecordError("sink_kafka")
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		} else {
			p.metrics.RecordMessageSent(BackendKafka, "snapshot")
			p.metrics.RecordRows("kafka_timeseries", len(rows))
		}
	}
	if p.useClickHouse() {
		if err := p.toClickHouse(ctx, snap, rows); err != nil {
			p.metrics.RecordError("sink_clickhouse")
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		} else {
			p.metrics.RecordMessageSent(BackendClickHouse, "snapshot")
			p.metrics.RecordRows("clickhouse_timeseries", len(rows))
		}
	}

	p.metrics.RecordLatency("sink", time.Since(start).Seconds())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("process sinks: %w", err)
	}
	return nil
}

func (p *SinkProcessor) toKafka(ctx context.Context, snap *models.Snapshot, rows []models.TimeseriesRow) error {
	if p.pub == nil {
		return fmt.Errorf("publisher not configured")
	}
	if err := p.pub.PublishSnapshot(ctx, snap); err != nil {
		return err
	}
	return p.pub.PublishTimeseries(ctx, rows)
}

func (p *SinkProcessor) toClickHouse(ctx context.Context, snap *models.Snapshot, rows []models.TimeseriesRow) error {
	if p.store == nil {
		return fmt.Errorf("history store not configured")
	}
	if err := p.store.StoreSnapshot(ctx, snap); err != nil {
		return err
	}
	return p.store.StoreTimeseries(ctx, rows)
}

// Close closes underlying resources if available.
func (p *SinkProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
