package binance

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
		assert.Equal(t, "/fapi/v1/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPriceSourceFetchesAndCaches(t *testing.T) {
	var hits int32
	srv := newTestServer(t, `[{"symbol":"BTCUSDT","price":"64123.50","time":1700000000000}]`, &hits)
	src, err := New(Config{RESTBaseURL: srv.URL, CacheTTL: time.Minute})
	require.NoError(t, err)

	p, err := src.Price(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.InDelta(t, 64123.5, p, 1e-9)

	p, err = src.Price(context.Background(), "btcusdt")
	require.NoError(t, err)
	assert.InDelta(t, 64123.5, p, 1e-9)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPriceSourceRejectsBadPrice(t *testing.T) {
	var hits int32
	srv := newTestServer(t, `[{"symbol":"BTCUSDT","price":"0"}]`, &hits)
	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	_, err = src.Price(context.Background(), "BTCUSDT")
	assert.Error(t, err)
}

func TestNewRejectsBadProxy(t *testing.T) {
	_, err := New(Config{ProxyURL: "://bad"})
	assert.Error(t, err)
}
