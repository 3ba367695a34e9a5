package models

import "time"

// Profile is the company header of an equity report.
type Profile struct {
	Ticker    string   `json:"ticker"`
	Name      string   `json:"name,omitempty"`
	Exchange  string   `json:"exchange,omitempty"`
	Country   string   `json:"country,omitempty"`
	Currency  string   `json:"currency,omitempty"`
	Sector    string   `json:"sector,omitempty"`
	IPO       string   `json:"ipo,omitempty"`
	MarketCap *float64 `json:"market_cap,omitempty"`
	WebURL    string   `json:"weburl,omitempty"`
	Source    string   `json:"source"`
}

type Financials struct {
	RevenueYoY    *float64 `json:"revenue_yoy"`
	GrossMargin   *float64 `json:"gross_margin"`
	OpMargin      *float64 `json:"op_margin"`
	FCF           *float64 `json:"fcf"`
	NetDebt       *float64 `json:"net_debt"`
	LiquidityNote string   `json:"liquidity_note"`
	Currency      string   `json:"currency"`
}

type Valuation struct {
	PE       *float64 `json:"pe"`
	EVEBITDA *float64 `json:"ev_ebitda"`
	Note     string   `json:"note"`
}

type EarningsDynamics struct {
	Revisions string `json:"revisions"`
	Surprises string `json:"surprises"`
	Tone      string `json:"tone"`
}

type OptionsFocus struct {
	FocusExpiry *string  `json:"focus_expiry"`
	FocusStrike *float64 `json:"focus_strike"`
	FocusSide   *string  `json:"focus_side"`
	PutOI       *float64 `json:"put_oi"`
	CallOI      *float64 `json:"call_oi"`
}

type Volatility struct {
	HV20 *float64 `json:"hv20"`
	HV60 *float64 `json:"hv60"`
}

type CreditProxy struct {
	SpreadBP *float64 `json:"spread_bp"`
	AsOf     *string  `json:"asof"`
}

type RiskIndexRef struct {
	Regime *string  `json:"regime"`
	Score  *float64 `json:"score"`
}

type Source struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Snippet string `json:"snippet"`
}

type Links struct {
	JSONGz string `json:"json_gz"`
	HTML   string `json:"html"`
}

// EquityReport is the per-symbol payload written to eq_template/{SYM}.json.
type EquityReport struct {
	Ticker           string           `json:"ticker"`
	Name             string           `json:"name"`
	Exchange         string           `json:"exchange"`
	Country          string           `json:"country"`
	Currency         string           `json:"currency"`
	Web              string           `json:"web"`
	SummaryBullets   []string         `json:"summary_bullets"`
	Financials       Financials       `json:"financials"`
	Outlook          []string         `json:"outlook"`
	Risks            []string         `json:"risks"`
	Competition      []string         `json:"competition"`
	Valuation        Valuation        `json:"valuation"`
	EarningsDynamics EarningsDynamics `json:"earnings_dynamics"`
	Catalysts        []string         `json:"catalysts"`
	Options          OptionsFocus     `json:"options"`
	Volatility       Volatility       `json:"volatility"`
	CreditProxy      CreditProxy      `json:"credit_proxy"`
	RiskIndex        RiskIndexRef     `json:"riskindex"`
	Stance           string           `json:"stance"`
	Sources          []Source         `json:"sources"`
	Links            Links            `json:"links"`
	GeneratedAt      time.Time        `json:"generated_at"`
}

// HVRow is one line of hv_summary.csv.gz.
type HVRow struct {
	Symbol string   `json:"symbol"`
	HV20   *float64 `json:"hv20"`
	HV60   *float64 `json:"hv60"`
	AsOf   string   `json:"asof"`
}

type HVReport struct {
	Timestamp    time.Time `json:"timestamp"`
	SymbolsTotal int       `json:"symbols_total"`
	SymbolsOK    int       `json:"symbols_ok"`
	SymbolsError []string  `json:"symbols_error"`
	Out          string    `json:"out"`
}

// StageError is one entry of data/reports/<stage>_errors.json.
type StageError struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type StageErrors struct {
	Stage       string       `json:"stage"`
	GeneratedAt time.Time    `json:"generated_at"`
	Errors      []StageError `json:"errors"`
}

type CheckStatus string

const (
	CheckOK       CheckStatus = "OK"
	CheckFail     CheckStatus = "FAIL"
	CheckStale    CheckStatus = "STALE"
	CheckOutdated CheckStatus = "OUTDATED"
	CheckMissing  CheckStatus = "MISSING"
)

type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Detail  string      `json:"detail,omitempty"`
	Hard    bool        `json:"hard"`
	AgeDays *int        `json:"age_days,omitempty"`
}

type IntegrityReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	OK          bool          `json:"ok"`
	Checks      []CheckResult `json:"checks"`
}
