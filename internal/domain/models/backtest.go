package models

type Mode string

const (
	ModeLongOnly Mode = "long_only"
	ModeTriState Mode = "tri_state"
)

// Params is one point of the optimizer grid.
type Params struct {
	EMA    int     `json:"ema"`
	On     float64 `json:"on"`
	Off    float64 `json:"off"`
	Mode   Mode    `json:"mode"`
	ShortW float64 `json:"short_w"`
}

type KPI struct {
	CAGR   float64 `json:"CAGR"`
	Sharpe float64 `json:"Sharpe"`
	MaxDD  float64 `json:"MaxDD"`
	Calmar float64 `json:"Calmar"`
}

// EvalResult is one optimizer row (opt_results_auto.csv).
type EvalResult struct {
	Params
	KPI
	Trades  int     `json:"Trades"`
	HitRate float64 `json:"HitRate"`
	EqEnd   float64 `json:"EqEnd"`
	EqBase  float64 `json:"EqBase"`
}

// WindowResult is one walk-forward row (train_test_results_auto.csv).
type WindowResult struct {
	TrainStart string `json:"train_start"`
	TrainEnd   string `json:"train_end"`
	TestStart  string `json:"test_start"`
	TestEnd    string `json:"test_end"`
	Params
	EqEnd  float64 `json:"EqEnd"`
	EqBase float64 `json:"EqBase"`
	KPI
}

type WalkForwardSummary struct {
	Windows        int           `json:"windows"`
	CAGRMean       float64       `json:"CAGR_mean"`
	SharpeMean     float64       `json:"Sharpe_mean"`
	MaxDDMean      float64       `json:"MaxDD_mean"`
	CalmarMean     float64       `json:"Calmar_mean"`
	BestWindow     *WindowResult `json:"best_window"`
	ModeMostCommon Mode          `json:"mode_most_common"`
	EMAMedian      float64       `json:"ema_median"`
	OnMedian       float64       `json:"on_median"`
	OffMedian      float64       `json:"off_median"`
	ShortWMedian   float64       `json:"short_w_median"`
}
