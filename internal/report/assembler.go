package report

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"RiskPull/internal/domain/models"
	domrepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/repository"
	"RiskPull/pkg/logger"
	"RiskPull/pkg/util"
)

const (
	srcFundamentals = "fundamentals_core.csv"
	srcHV           = "hv_summary.csv.gz"
	srcCDS          = "cds_proxy.csv"
	srcOptions      = "options_oi_by_expiry.csv.gz + options_oi_by_strike.csv"
	srcEarnings     = "earnings_next.json + earnings_results.csv"
	srcRiskIndex    = "riskindex_snapshot.json(.gz)"
	StanceNeutral   = "neutral"
)

type Option func(*Assembler)

func WithPublicBase(base string) Option {
	return func(a *Assembler) { a.publicBase = strings.TrimRight(base, "/") }
}

func WithGzip(on bool) Option { return func(a *Assembler) { a.gzip = on } }

func WithLogger(l *logger.Logger) Option { return func(a *Assembler) { a.log = l } }

func WithClock(now func() time.Time) Option { return func(a *Assembler) { a.now = now } }

// Assembler builds the per-symbol equity payload from local artifacts plus a profile.
type Assembler struct {
	store      *repository.ArtifactStore
	profiles   domrepo.ProfileProvider
	publicBase string
	gzip       bool
	now        func() time.Time
	log        *logger.Logger
}

func NewAssembler(store *repository.ArtifactStore, profiles domrepo.ProfileProvider, opts ...Option) *Assembler {
	a := &Assembler{
		store:      store,
		profiles:   profiles,
		publicBase: ".",
		gzip:       true,
		now:        time.Now,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.profiles == nil {
		a.profiles = NewProfileChain(a.log)
	}
	return a
}

// LoadInputs reads the shared artifacts once for a batch.
func (a *Assembler) LoadInputs() *Inputs {
	return LoadInputs(a.store, a.log)
}

// Build loads the inputs and writes the report of one symbol.
func (a *Assembler) Build(ctx context.Context, symbol string) (*models.EquityReport, error) {
	return a.BuildWith(ctx, symbol, a.LoadInputs())
}

// BuildWith assembles and writes the report of symbol from preloaded inputs.
func (a *Assembler) BuildWith(ctx context.Context, symbol string, in *Inputs) (*models.EquityReport, error) {
	symbol = util.UpperTrim(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("report: empty symbol")
	}
	prof, err := a.profiles.Profile(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", symbol, err)
	}
	rep := a.Assemble(symbol, prof, in)
	if err := a.store.SaveEquityReport(rep, a.gzip); err != nil {
		return nil, fmt.Errorf("save report %s: %w", symbol, err)
	}
	a.log.Debug("equity report written",
		logger.String("symbol", symbol),
		logger.String("profile_source", prof.Source))
	return rep, nil
}

type fundamentals struct {
	found                          bool
	grossMargin, opMargin, fcf     *float64
	debt, cash, pe, forwardPE, evE *float64
	currency                       string
}

func readFundamentals(in *Inputs, symbol string) fundamentals {
	t := in.Fundamentals
	r := firstRow(t, symbol)
	if r < 0 {
		return fundamentals{}
	}
	return fundamentals{
		found:       true,
		grossMargin: num(t, r, "gross_margin", "grossMargins"),
		opMargin:    num(t, r, "operating_margin", "operatingMargins"),
		fcf:         num(t, r, "free_cashflow", "freeCashflow"),
		debt:        num(t, r, "total_debt"),
		cash:        num(t, r, "total_cash"),
		pe:          num(t, r, "pe", "trailingPE"),
		forwardPE:   num(t, r, "forward_pe", "forwardPE"),
		evE:         num(t, r, "ev_ebitda"),
		currency:    str(t, r, "currency"),
	}
}

func readOptions(in *Inputs, symbol string) models.OptionsFocus {
	var out models.OptionsFocus
	if t := in.OIByExpiry; t != nil && t.ColIndex("total_call_oi") >= 0 && t.ColIndex("total_put_oi") >= 0 {
		best, bestOI := -1, 0.0
		for _, r := range symbolRows(t, symbol) {
			oi := orZero(num(t, r, "total_call_oi")) + orZero(num(t, r, "total_put_oi"))
			if best < 0 || oi > bestOI {
				best, bestOI = r, oi
			}
		}
		if best >= 0 {
			exp := t.Value(best, "expiry")
			out.FocusExpiry = &exp
			out.CallOI = num(t, best, "total_call_oi")
			out.PutOI = num(t, best, "total_put_oi")
		}
	}
	if t := in.OIByStrike; t != nil {
		if r := firstRow(t, symbol); r >= 0 {
			side := str(t, r, "focus_side")
			out.FocusStrike = num(t, r, "focus_strike")
			out.FocusSide = &side
		}
	}
	return out
}

// lastSurprise is surprise_percent of the latest dated row of symbol.
func lastSurprise(in *Inputs, symbol string) *float64 {
	t := in.Earnings
	best := -1
	for _, r := range symbolRows(t, symbol) {
		if best < 0 || t.Value(r, "date") > t.Value(best, "date") {
			best = r
		}
	}
	if best < 0 {
		return nil
	}
	return num(t, best, "surprise_percent")
}

func nextEarnings(in *Inputs, symbol string) string {
	for _, e := range in.EarningsNext {
		if strings.EqualFold(e.Symbol, symbol) {
			return e.NextDate
		}
	}
	return ""
}

// Assemble is the pure join of one symbol; it performs no IO.
func (a *Assembler) Assemble(symbol string, prof *models.Profile, in *Inputs) *models.EquityReport {
	if in == nil {
		in = &Inputs{}
	}
	if prof == nil {
		prof = &models.Profile{Ticker: symbol, Source: SourceUnknown}
	}
	fc := readFundamentals(in, symbol)

	var vol models.Volatility
	hvFound := false
	if r := firstRow(in.HV, symbol); r >= 0 {
		hvFound = true
		vol = models.Volatility{HV20: num(in.HV, r, "hv20"), HV60: num(in.HV, r, "hv60")}
	}

	var credit models.CreditProxy
	cdsFound := false
	if r := firstRow(in.CDS, symbol); r >= 0 {
		cdsFound = true
		credit.SpreadBP = num(in.CDS, r, "proxy_spread")
		if asof := str(in.CDS, r, "asof"); asof != "" {
			credit.AsOf = &asof
		}
	}

	opts := readOptions(in, symbol)
	surprise := lastSurprise(in, symbol)
	next := nextEarnings(in, symbol)

	currency := fc.currency
	if currency == "" {
		currency = prof.Currency
	}

	var netDebt *float64
	if fc.debt != nil || fc.cash != nil {
		v := orZero(fc.debt) - orZero(fc.cash)
		netDebt = &v
	}

	rep := &models.EquityReport{
		Ticker:         symbol,
		Name:           prof.Name,
		Exchange:       prof.Exchange,
		Country:        prof.Country,
		Currency:       currency,
		Web:            prof.WebURL,
		SummaryBullets: bullets(prof, credit, vol, hvFound),
		Financials: models.Financials{
			GrossMargin: fc.grossMargin,
			OpMargin:    fc.opMargin,
			FCF:         fc.fcf,
			NetDebt:     netDebt,
			Currency:    currency,
		},
		Outlook:     []string{},
		Risks:       []string{},
		Competition: []string{},
		Valuation: models.Valuation{
			PE:       fc.pe,
			EVEBITDA: fc.evE,
			Note:     valuationNote(fc),
		},
		Catalysts:   []string{},
		Options:     opts,
		Volatility:  vol,
		CreditProxy: credit,
		Stance:      StanceNeutral,
		Links: models.Links{
			JSONGz: fmt.Sprintf("%s/data/processed/eq_template/%s.json.gz", a.publicBase, symbol),
			HTML:   fmt.Sprintf("%s/site/eq/%s.html", a.publicBase, symbol),
		},
		GeneratedAt: a.now().UTC(),
	}
	if surprise != nil {
		rep.EarningsDynamics.Surprises = fmt.Sprintf("Letzte Überraschung: %.1f%%", *surprise)
	}
	if next != "" {
		rep.Catalysts = append(rep.Catalysts, "Nächster Earnings-Termin: "+next)
	}
	if in.RiskIndex != nil {
		rep.RiskIndex = *in.RiskIndex
	}
	rep.Sources = a.sources(prof, fc.found, hvFound, cdsFound, in.RiskIndex != nil)
	return rep
}

func (a *Assembler) sources(prof *models.Profile, fc, hv, cds, rix bool) []models.Source {
	b := a.publicBase
	out := make([]models.Source, 0, 7)
	if prof.Source != "" {
		out = append(out, models.Source{Name: prof.Source, Type: "profile"})
	}
	if fc {
		out = append(out, models.Source{Name: srcFundamentals, Type: "fundamentals", Snippet: b + "/data/processed/fundamentals_core.csv.gz"})
	}
	if hv {
		out = append(out, models.Source{Name: srcHV, Type: "hv", Snippet: b + "/data/processed/hv_summary.csv.gz"})
	}
	if cds {
		out = append(out, models.Source{Name: srcCDS, Type: "credit", Snippet: b + "/data/processed/cds_proxy.csv.gz"})
	}
	out = append(out,
		models.Source{Name: srcOptions, Type: "options",
			Snippet: b + "/data/processed/options_oi_by_expiry.csv.gz; " + b + "/data/processed/options_oi_by_strike.csv.gz"},
		models.Source{Name: srcEarnings, Type: "earnings",
			Snippet: b + "/docs/earnings_next.json.gz; " + b + "/data/processed/earnings_results.csv.gz"},
	)
	if rix {
		out = append(out, models.Source{Name: srcRiskIndex, Type: "riskindex", Snippet: b + "/data/processed/riskindex_snapshot.json.gz"})
	}
	return out
}

func valuationNote(fc fundamentals) string {
	var parts []string
	add := func(label string, v *float64) {
		if v != nil && *v != 0 {
			parts = append(parts, fmt.Sprintf("%s ~%.1f", label, *v))
		}
	}
	add("Trailing P/E", fc.pe)
	add("Forward P/E", fc.forwardPE)
	add("EV/EBITDA", fc.evE)
	return strings.Join(parts, " ")
}

func bullets(prof *models.Profile, credit models.CreditProxy, vol models.Volatility, hv bool) []string {
	out := []string{}
	if prof.MarketCap != nil && *prof.MarketCap != 0 {
		out = append(out, fmt.Sprintf("Marktkap.: ~%s (Quelle: %s)", groupThousands(int64(*prof.MarketCap)), prof.Source))
	}
	if credit.SpreadBP != nil {
		out = append(out, fmt.Sprintf("Credit-Proxy Spread: %.2f bp", *credit.SpreadBP))
	}
	if hv && (vol.HV20 != nil || vol.HV60 != nil) {
		out = append(out, fmt.Sprintf("HV20/HV60: %s / %s", dash(vol.HV20), dash(vol.HV60)))
	}
	return out
}

func dash(v *float64) string {
	if v == nil {
		return "–"
	}
	return util.FormatFloat(*v)
}

// groupThousands formats n with '.' as the thousands separator.
func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(c)
	}
	return b.String()
}
