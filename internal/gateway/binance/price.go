// Package binance 通过 go-binance 的 U 本位合约接口查询最新成交价。
package binance

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

	"github.com/adshao/go-binance/v2/futures"
)

type cachedPrice struct {
	price float64
	at    time.Time
}

// PriceSource 查询 /fapi/v1/ticker/price，带短时缓存。
type PriceSource struct {
	cfg    Config
	client *futures.Client
	nowFn  func() time.Time

	mu    sync.Mutex
	cache map[string]cachedPrice
}

func New(cfg Config) (*PriceSource, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &PriceSource{
		cfg:    final,
		client: client,
		nowFn:  time.Now,
		cache:  make(map[string]cachedPrice),
	}, nil
}

func (s *PriceSource) Name() string { return "binance" }

// Price 返回 symbol 的最新价格。
func (s *PriceSource) Price(ctx context.Context, symbol string) (float64, error) {
	clean := symbolpkg.Canonical(symbol)
	if clean == "" {
		return 0, fmt.Errorf("symbol is required")
	}
	if p, ok := s.cached(clean); ok {
		return p, nil
	}
	prices, err := s.client.NewListPricesService().Symbol(clean).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance ticker %s: %w", clean, err)
	}
	for _, p := range prices {
		if p == nil || !strings.EqualFold(p.Symbol, clean) {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("binance ticker %s: invalid price %q", clean, p.Price)
		}
		s.store(clean, v)
		logger.Debugf("Binance 价格 %s=%.8f", clean, v)
		return v, nil
	}
	return 0, fmt.Errorf("binance ticker %s: symbol not returned", clean)
}

func (s *PriceSource) cached(symbol string) (float64, bool) {
	if s.cfg.CacheTTL <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cache[symbol]
	if !ok || s.nowFn().Sub(c.at) > s.cfg.CacheTTL {
		return 0, false
	}
	return c.price, true
}

func (s *PriceSource) store(symbol string, price float64) {
	if s.cfg.CacheTTL <= 0 {
		return
	}
	s.mu.Lock()
	s.cache[symbol] = cachedPrice{price: price, at: s.nowFn()}
	s.mu.Unlock()
}
