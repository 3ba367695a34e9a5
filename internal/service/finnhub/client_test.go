package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RiskPull/internal/service/ratelimit"
	"RiskPull/pkg/cache"
	pkghttp "RiskPull/pkg/http"
)

func newServer(t *testing.T, calls *int32, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/stock/profile2", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProfileMapsAndCaches(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, `{"name":"Apple Inc","exchange":"NASDAQ NMS","country":"US","currency":"USD","finnhubIndustry":"Technology","marketCapitalization":3000000,"weburl":"https://apple.com"}`)

	mem := cache.NewMemoryCache()
	defer mem.Close()
	c := New("secret", pkghttp.NewClient(), WithBaseURL(srv.URL+"/"), WithCache(mem, time.Hour),
		WithLimiter(ratelimit.PerSecondMinute(4, 50)))

	ctx := context.Background()
	p, err := c.Profile(ctx, " aapl ")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", p.Ticker)
	assert.Equal(t, "Apple Inc", p.Name)
	assert.Equal(t, "Technology", p.Sector)
	assert.Equal(t, SourceProfile2, p.Source)
	require.NotNil(t, p.MarketCap)
	assert.Equal(t, 3000000.0, *p.MarketCap)

	p, err = c.Profile(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "https://apple.com", p.WebURL)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "second lookup served from cache")
}

func TestProfileUnknownSymbolIsNotCached(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, `{}`)
	mem := cache.NewMemoryCache()
	defer mem.Close()
	c := New("secret", nil, WithBaseURL(srv.URL), WithCache(mem, time.Hour))

	_, err := c.Profile(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	_, err = c.Profile(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrUnknownSymbol)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestProfileWithoutToken(t *testing.T) {
	_, err := New("  ", nil).Profile(context.Background(), "AAPL")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestProfileClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := New("secret", nil, WithBaseURL(srv.URL)).Profile(context.Background(), "AAPL")
	var se *pkghttp.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.Code)
}
