package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	ProxyURL    string
	// CacheTTL 内重复查询同一 symbol 直接返回缓存价格。
	CacheTTL time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.CacheTTL < 0 {
		out.CacheTTL = 0
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
