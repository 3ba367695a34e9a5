package models

import "time"

type Regime string

const (
	RegimeRiskOn  Regime = "RISK-ON"
	RegimeNeutral Regime = "NEUTRAL"
	RegimeCaution Regime = "CAUTION"
	RegimeRiskOff Regime = "RISK-OFF"
)

// RegimeNames lists every regime label in order of rising risk.
func RegimeNames() []string {
	return []string{string(RegimeRiskOn), string(RegimeNeutral), string(RegimeCaution), string(RegimeRiskOff)}
}

// Snapshot is the latest risk index reading written to riskindex_snapshot.json.
type Snapshot struct {
	AsOf             time.Time           `json:"asof"`
	DataAsOf         string              `json:"data_asof"`
	Composite        *float64            `json:"composite"`
	Regime           Regime              `json:"regime"`
	FSScore          float64             `json:"fs_score"`
	GateHits         int                 `json:"gate_hits"`
	Threshold        float64             `json:"threshold"`
	Distance         float64             `json:"distance"`
	Scores           map[string]*float64 `json:"scores"`
	HasRiskIndexBin  bool                `json:"has_risk_index_bin"`
	RiskGates        *float64            `json:"risk_gates"`
	RiskIndexBin     *float64            `json:"risk_index_bin"`
	OneLiner         string              `json:"one_liner"`
	Risks            []string            `json:"risks"`
	AvailableColumns []string            `json:"available_columns"`
	Notes            []string            `json:"notes"`
}

// TimeseriesRow is one line of riskindex_timeseries.csv. NaN marks an absent value.
type TimeseriesRow struct {
	Date         time.Time
	SCComp       float64
	RiskGates    float64
	RiskIndexBin float64
}

type MissingBlock struct {
	Name    string   `json:"name"`
	Columns []string `json:"missing_columns"`
	Reason  string   `json:"reason,omitempty"`
}

// BuildReport summarises which indicator blocks could be computed.
type BuildReport struct {
	GeneratedAt   time.Time      `json:"generated_at"`
	Rows          int            `json:"rows"`
	FirstDate     string         `json:"first_date"`
	LastDate      string         `json:"last_date"`
	BlocksOK      []string       `json:"blocks_ok"`
	BlocksMissing []MissingBlock `json:"blocks_missing"`
	Inputs        map[string]int `json:"inputs"`
}

// SniperRow is one line of riskindex_v2.csv.
type SniperRow struct {
	Date        time.Time
	TrendScore  float64
	VIXScore    float64
	CreditScore float64
	RiskIndex   float64
}

type SniperSnapshot struct {
	AsOf      string             `json:"asof"`
	Composite float64            `json:"composite"`
	Regime    string             `json:"regime"`
	Scores    map[string]float64 `json:"scores"`
	Details   map[string]float64 `json:"details"`
	OneLiner  string             `json:"one_liner"`
}

type MacroIndicator struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Score  int    `json:"score"`
	Status string `json:"status"`
	Desc   string `json:"desc"`
}

// MacroStatus is the traffic light file macro_status.json.
type MacroStatus struct {
	AsOf       string                    `json:"asof"`
	Indicators map[string]MacroIndicator `json:"indicators"`
}

// CreditRegime is the OAS based state written to regime_state.json.
type CreditRegime struct {
	State  Regime   `json:"state"`
	Reason []string `json:"reason"`
	Z      *float64 `json:"z"`
}
