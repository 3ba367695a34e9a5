package finnhub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"RiskPull/internal/domain/models"
	drepo "RiskPull/internal/domain/repository"
	"RiskPull/internal/service/ratelimit"
	"RiskPull/pkg/cache"
	pkghttp "RiskPull/pkg/http"
	"RiskPull/pkg/logger"
)

const (
	DefaultBaseURL = "https://finnhub.io/api/v1"
	SourceProfile2 = "finnhub:profile2"
	limiterKey     = "finnhub"
)

var (
	ErrNoToken = errors.New("finnhub: api token not configured")
	// ErrUnknownSymbol is returned when profile2 answers without a company name.
	ErrUnknownSymbol = errors.New("finnhub: unknown symbol")
)

var _ drepo.ProfileProvider = (*Client)(nil)

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

func WithLimiter(l *ratelimit.Limiter) Option { return func(c *Client) { c.limiter = l } }

// WithCache stores successful profiles for ttl.
func WithCache(s cache.Service, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = s
		c.ttl = ttl
	}
}

func WithLogger(l *logger.Logger) Option { return func(c *Client) { c.log = l } }

// Client reads company profiles from the Finnhub REST API.
type Client struct {
	token   string
	baseURL string
	http    *pkghttp.Client
	limiter *ratelimit.Limiter
	cache   cache.Service
	ttl     time.Duration
	log     *logger.Logger
}

func New(token string, httpClient *pkghttp.Client, opts ...Option) *Client {
	c := &Client{
		token:   strings.TrimSpace(token),
		baseURL: DefaultBaseURL,
		http:    httpClient,
		ttl:     24 * time.Hour,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = pkghttp.NewClient()
	}
	return c
}

type profile2 struct {
	Name      string   `json:"name"`
	Ticker    string   `json:"ticker"`
	Exchange  string   `json:"exchange"`
	Country   string   `json:"country"`
	Currency  string   `json:"currency"`
	Industry  string   `json:"finnhubIndustry"`
	IPO       string   `json:"ipo"`
	MarketCap *float64 `json:"marketCapitalization"`
	WebURL    string   `json:"weburl"`
}

func (p profile2) toModel(symbol string) *models.Profile {
	return &models.Profile{
		Ticker:    symbol,
		Name:      p.Name,
		Exchange:  p.Exchange,
		Country:   p.Country,
		Currency:  p.Currency,
		Sector:    p.Industry,
		IPO:       p.IPO,
		MarketCap: p.MarketCap,
		WebURL:    p.WebURL,
		Source:    SourceProfile2,
	}
}

// Profile returns the profile2 header of symbol, cached when a cache is set.
func (c *Client) Profile(ctx context.Context, symbol string) (*models.Profile, error) {
	if c.token == "" {
		return nil, ErrNoToken
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := cache.GenerateKey("finnhub:profile2", symbol)
	p, err := cache.Remember(ctx, c.cache, key, c.ttl, func(ctx context.Context) (models.Profile, error) {
		p, err := c.fetch(ctx, symbol)
		if err != nil {
			return models.Profile{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) fetch(ctx context.Context, symbol string) (*models.Profile, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, limiterKey); err != nil {
			return nil, fmt.Errorf("finnhub rate limit: %w", err)
		}
	}

	var out profile2
	err := c.http.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodGet,
		URL:    c.baseURL + "/stock/profile2",
		QueryParams: map[string][]string{
			"symbol": {symbol},
			"token":  {c.token},
		},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("finnhub profile2 %s: %w", symbol, err)
	}
	if out.Name == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	c.log.Debug("finnhub profile fetched", logger.String("symbol", symbol))
	return out.toModel(symbol), nil
}
