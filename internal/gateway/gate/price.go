// Package gate 通过 gateapi-go 的永续合约接口查询标记价格。
package gate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"aegis/internal/logger"
	symbolpkg "aegis/internal/pkg/symbol"

	gateapi "github.com/gateio/gateapi-go/v7"
)

const (
	gateSettle      = "usdt"
	defaultGateREST = "https://api.gateio.ws/api/v4"
)

type cachedPrice struct {
	price float64
	at    time.Time
}

// PriceSource 读取合约的 mark_price（缺失时退回 last_price）。
type PriceSource struct {
	cfg   Config
	rest  *gateapi.APIClient
	nowFn func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

func New(cfg Config) (*PriceSource, error) {
	final := cfg.withDefaults()
	rest, err := newRESTClient(final)
	if err != nil {
		return nil, err
	}
	return &PriceSource{
		cfg:   final,
		rest:  rest,
		nowFn: time.Now,
		cache: make(map[string]cachedPrice),
	}, nil
}

func newRESTClient(cfg Config) (*gateapi.APIClient, error) {
	conf := gateapi.NewConfiguration()
	conf.BasePath = cfg.RESTBaseURL

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid gate REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	conf.HTTPClient = httpClient
	return gateapi.NewAPIClient(conf), nil
}

func (s *PriceSource) Name() string { return "gate" }

// Contract 把内部写法（BTCUSDT）转换为 Gate 合约名（BTC_USDT）。
func Contract(sym string) string {
	parsed := symbolpkg.Parse(sym)
	if parsed.Base == "" || parsed.Quote == "" {
		return ""
	}
	return parsed.Base + "_" + parsed.Quote
}

func (s *PriceSource) Price(ctx context.Context, sym string) (float64, error) {
	contract := Contract(sym)
	if contract == "" {
		return 0, fmt.Errorf("gate: invalid symbol %q", sym)
	}
	if p, ok := s.cached(contract); ok {
		return p, nil
	}
	res, _, err := s.rest.FuturesApi.GetFuturesContract(ctx, s.cfg.Settle, contract)
	if err != nil {
		return 0, fmt.Errorf("gate contract %s: %w", contract, err)
	}
	price := parseFloat(res.MarkPrice)
	if price <= 0 {
		price = parseFloat(res.LastPrice)
	}
	if price <= 0 {
		return 0, fmt.Errorf("gate contract %s: no usable price (mark=%q last=%q)", contract, res.MarkPrice, res.LastPrice)
	}
	s.store(contract, price)
	logger.Debugf("Gate 价格 %s=%.8f", contract, price)
	return price, nil
}

func (s *PriceSource) cached(contract string) (float64, bool) {
	if s.cfg.CacheTTL <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[contract]
	if !ok || s.nowFn().Sub(c.at) > s.cfg.CacheTTL {
		return 0, false
	}
	return c.price, true
}

func (s *PriceSource) store(contract string, price float64) {
	if s.cfg.CacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	s.cache[contract] = cachedPrice{price: price, at: s.nowFn()}
	s.mu.Unlock()
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}
