package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	pkgch "RiskPull/pkg/clickhouse"
	applogger "RiskPull/pkg/logger"
	"RiskPull/pkg/util"
)

var _ domrepo.HistoryStore = (*CHHistoryStore)(nil)

// HistorySchema returns the idempotent DDL of the history tables.
func HistorySchema(database string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.riskindex_timeseries (
            date Date,
            sc_comp Nullable(Float64),
            risk_gates Nullable(Float64),
            risk_index_bin Nullable(Float64),
            version DateTime64(3)
        ) ENGINE = ReplacingMergeTree(version) ORDER BY date`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.riskindex_snapshots (
            asof DateTime64(3),
            data_asof String,
            composite Nullable(Float64),
            regime LowCardinality(String),
            gate_hits UInt8,
            threshold Float64,
            risk_index_bin Nullable(Float64),
            payload String
        ) ENGINE = MergeTree ORDER BY asof`, database),
	}
}

// CHHistoryStore keeps the risk-index history in ClickHouse.
type CHHistoryStore struct {
	ch       *pkgch.Client
	db       *sql.DB
	database string
	l        *applogger.Logger
}

func NewCHHistoryStore(ch *pkgch.Client, database string) *CHHistoryStore {
	return &CHHistoryStore{ch: ch, db: ch.DB(), database: database, l: applogger.Nop()}
}

// SetLogger injects a structured logger.
func (s *CHHistoryStore) SetLogger(l *applogger.Logger) { s.l = l }

func (s *CHHistoryStore) table(name string) string { return s.database + "." + name }

func (s *CHHistoryStore) Init(ctx context.Context) error {
	if err := s.ch.InitSchema(ctx, HistorySchema(s.database)); err != nil {
		return fmt.Errorf("init history schema: %w", err)
	}
	return nil
}

func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func (s *CHHistoryStore) StoreSnapshot(ctx context.Context, snap *models.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	var composite, bin any
	if snap.Composite != nil {
		composite = *snap.Composite
	}
	if snap.RiskIndexBin != nil {
		bin = *snap.RiskIndexBin
	}
	q := fmt.Sprintf("INSERT INTO %s (asof, data_asof, composite, regime, gate_hits, threshold, risk_index_bin, payload) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.table("riskindex_snapshots"))
	if _, err := s.db.ExecContext(ctx, q, snap.AsOf, snap.DataAsOf, composite, string(snap.Regime),
		uint8(snap.GateHits), snap.Threshold, bin, string(payload)); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// StoreTimeseries upserts rows in chunks; ReplacingMergeTree keeps the latest version per date.
func (s *CHHistoryStore) StoreTimeseries(ctx context.Context, rows []models.TimeseriesRow) error {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	version := time.Now().UTC()
	const chunkSize = 2000
	for lo := 0; lo < len(rows); lo += chunkSize {
		hi := lo + chunkSize
		if hi > len(rows) {
			hi = len(rows)
		}
		values := make([]string, 0, hi-lo)
		args := make([]any, 0, (hi-lo)*5)
		for _, r := range rows[lo:hi] {
			values = append(values, "(?, ?, ?, ?, ?)")
			args = append(args, r.Date, nullable(r.SCComp), nullable(r.RiskGates), nullable(r.RiskIndexBin), version)
		}
		q := fmt.Sprintf("INSERT INTO %s (date, sc_comp, risk_gates, risk_index_bin, version) VALUES %s",
			s.table("riskindex_timeseries"), strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse store_timeseries error", applogger.Int("offset", lo), applogger.Error(err))
			return fmt.Errorf("store timeseries: %w", err)
		}
	}
	s.l.Info("clickhouse store_timeseries ok",
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

// QueryTimeseries returns rows in [from, to] ascending; limit > 0 keeps the most recent.
func (s *CHHistoryStore) QueryTimeseries(ctx context.Context, from, to time.Time, limit int) ([]models.TimeseriesRow, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	q := fmt.Sprintf(`
        SELECT date, sc_comp, risk_gates, risk_index_bin
        FROM %s FINAL
        WHERE date >= ? AND date <= ?
        ORDER BY date DESC`, s.table("riskindex_timeseries"))
	args := []any{util.Day(from), util.Day(to)}
	if limit > 0 {
		q += "\n        LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse query_timeseries error", applogger.Error(err))
		return nil, fmt.Errorf("query timeseries: %w", err)
	}
	defer rows.Close()

	out := make([]models.TimeseriesRow, 0, 256)
	for rows.Next() {
		var (
			r              models.TimeseriesRow
			sc, gates, bin sql.NullFloat64
		)
		if err := rows.Scan(&r.Date, &sc, &gates, &bin); err != nil {
			return nil, fmt.Errorf("scan timeseries: %w", err)
		}
		r.SCComp, r.RiskGates, r.RiskIndexBin = orNaN(sc), orNaN(gates), orNaN(bin)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func (s *CHHistoryStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CHHistoryStore) Close() error {
	return nil // pool owned by pkg/clickhouse.Client
}
