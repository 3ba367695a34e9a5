package repository

import (
	"context"
	"errors"
	"time"

	"RiskPull/internal/domain/models"
)

// ErrNoData marks an absent input file or symbol.
var ErrNoData = errors.New("no data")

// PriceSource reads daily closes for one symbol.
type PriceSource interface {
	Closes(ctx context.Context, symbol string) (*models.PriceSeries, error)
}

// ProfileProvider resolves the company header of an equity report.
type ProfileProvider interface {
	Profile(ctx context.Context, symbol string) (*models.Profile, error)
}

// SnapshotPublisher fans risk-index snapshots out to a message bus.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, s *models.Snapshot) error
	PublishTimeseries(ctx context.Context, rows []models.TimeseriesRow) error
	Close() error
}

// HistoryStore keeps the risk-index history in a queryable database.
type HistoryStore interface {
	Init(ctx context.Context) error
	StoreSnapshot(ctx context.Context, s *models.Snapshot) error
	StoreTimeseries(ctx context.Context, rows []models.TimeseriesRow) error
	QueryTimeseries(ctx context.Context, from, to time.Time, limit int) ([]models.TimeseriesRow, error)
	Health(ctx context.Context) error
	Close() error
}

// Metrics receives pipeline measurements.
type Metrics interface {
	RecordMessageSent(backend, kind string)
	RecordError(kind string)
	RecordScore(name string, value float64)
	RecordLatency(op string, seconds float64)
	RecordStage(stage string, dur time.Duration, err error)
	RecordRows(artifact string, n int)
	RecordRegime(current string, all []string)
	RecordGridEvaluations(n int)
}
