package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/futures/usdt/contracts/BTC_USDT", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestContract(t *testing.T) {
	assert.Equal(t, "BTC_USDT", Contract("BTCUSDT"))
	assert.Equal(t, "ETH_USDT", Contract("eth/usdt"))
	assert.Equal(t, "", Contract("???"))
}

func TestPriceSourcePrefersMarkPrice(t *testing.T) {
	var hits int32
	srv := newTestServer(t, `{"name":"BTC_USDT","mark_price":"64100.5","last_price":"64099"}`, &hits)
	src, err := New(Config{RESTBaseURL: srv.URL, CacheTTL: time.Minute})
	require.NoError(t, err)

	p, err := src.Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 64100.5, p, 1e-9)

	_, err = src.Price(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPriceSourceFallsBackToLastPrice(t *testing.T) {
	var hits int32
	srv := newTestServer(t, `{"name":"BTC_USDT","mark_price":"","last_price":"64099"}`, &hits)
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	p, err := src.Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 64099.0, p, 1e-9)
}

func TestPriceSourceRejectsMissingPrice(t *testing.T) {
	var hits int32
	srv := newTestServer(t, `{"name":"BTC_USDT","mark_price":"0","last_price":"0"}`, &hits)
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	_, err = src.Price(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestPriceSourceRejectsInvalidSymbol(t *testing.T) {
	src, err := New(Config{})
	require.NoError(t, err)
	_, err = src.Price(context.Background(), "")
	assert.Error(t, err)
}
