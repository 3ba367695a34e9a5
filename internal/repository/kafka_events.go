package repository

import (
	"context"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	pkgkafka "RiskPull/pkg/kafka"
	"RiskPull/pkg/util"
)

var _ domrepo.SnapshotPublisher = (*KafkaPublisher)(nil)

// KafkaPublisher emits snapshot and timeseries events keyed by date.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishSnapshot(ctx context.Context, s *models.Snapshot) error {
	return p.producer.Publish(ctx, p.topic, []byte("snapshot:"+s.DataAsOf), map[string]interface{}{
		"type":           "snapshot",
		"asof":           s.AsOf,
		"data_asof":      s.DataAsOf,
		"composite":      s.Composite,
		"regime":         s.Regime,
		"gate_hits":      s.GateHits,
		"threshold":      s.Threshold,
		"risk_index_bin": s.RiskIndexBin,
		"one_liner":      s.OneLiner,
	})
}

// PublishTimeseries sends one message per row; NaN values become null.
func (p *KafkaPublisher) PublishTimeseries(ctx context.Context, rows []models.TimeseriesRow) error {
	if len(rows) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(rows))
	for i, r := range rows {
		d := util.FormatDate(r.Date)
		msgs[i] = pkgkafka.Message{
			Key: []byte("ts:" + d),
			Value: map[string]interface{}{
				"type":           "timeseries",
				"date":           d,
				"sc_comp":        util.FloatPtr(r.SCComp),
				"risk_gates":     util.FloatPtr(r.RiskGates),
				"risk_index_bin": util.FloatPtr(r.RiskIndexBin),
			},
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
