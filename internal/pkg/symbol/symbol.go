// Package symbol 统一交易对写法：内部以交易所紧凑格式（BTCUSDT）作为键。
package symbol

import (
	"strings"
)

type Symbol struct {
	Base  string
	Quote string
}

// Pair 返回 "BASE/QUOTE" 形式，便于展示。
func (s Symbol) Pair() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Compact 返回 "BASEQUOTE" 形式（Binance 写法）。
func (s Symbol) Compact() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Parse 识别 "BTC/USDT"、"BTC/USDT:USDT"、"btcusdt" 等写法。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	s = strings.ReplaceAll(s, "-", "")
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Canonical 返回内部统一键；无法识别报价币种时退化为去空格的大写原文。
func Canonical(s string) string {
	if compact := Parse(s).Compact(); compact != "" {
		return compact
	}
	return strings.ToUpper(strings.TrimSpace(s))
}
