package models

import (
	"RiskPull/pkg/util"
)

// TimeseriesRequest selects rows of the risk-index timeseries.
// Limit 0 returns every row in range; otherwise the most recent Limit rows.
type TimeseriesRequest struct {
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"0" validate:"min=0,max=100000"`
}

// HistoryRequest reads the risk-index history kept in ClickHouse.
type HistoryRequest struct {
	From  string `query:"from"`
	To    string `query:"to"`
	Limit int    `query:"limit" default:"1000" validate:"min=1,max=100000"`
}

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required,max=16"`
}

// StageRequest runs one pipeline stage. Wait blocks until the stage is done.
type StageRequest struct {
	Stage string `param:"stage" validate:"required,oneof=riskindex sniper macro optimize walkforward hv report integrity nightly"`
	Wait  bool   `json:"wait"`
}

// Health is the body of /healthz.
type Health struct {
	Status   string            `json:"status"`
	DataAsOf string            `json:"data_as_of,omitempty"`
	Backends map[string]string `json:"backends,omitempty"`
}

// TimeseriesPoint is the JSON form of a TimeseriesRow; absent values are null.
type TimeseriesPoint struct {
	Date         string   `json:"date"`
	SCComp       *float64 `json:"sc_comp"`
	RiskGates    *float64 `json:"risk_gates"`
	RiskIndexBin *float64 `json:"risk_index_bin"`
}

func Points(rows []TimeseriesRow) []TimeseriesPoint {
	out := make([]TimeseriesPoint, len(rows))
	for i, r := range rows {
		out[i] = TimeseriesPoint{
			Date:         util.FormatDate(r.Date),
			SCComp:       util.FloatPtr(r.SCComp),
			RiskGates:    util.FloatPtr(r.RiskGates),
			RiskIndexBin: util.FloatPtr(r.RiskIndexBin),
		}
	}
	return out
}
