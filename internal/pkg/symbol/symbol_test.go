package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"BTC/USDT":      "BTCUSDT",
		"btcusdt":       "BTCUSDT",
		"ETH/USDT:USDT": "ETHUSDT",
		" sol-usdc ":    "SOLUSDC",
		"WEIRD":         "WEIRD",
	}
	for in, want := range cases {
		assert.Equal(t, want, Canonical(in), in)
	}
}

func TestParsePair(t *testing.T) {
	s := Parse("BNBBTC")
	assert.Equal(t, "BNB", s.Base)
	assert.Equal(t, "BTC", s.Quote)
	assert.Equal(t, "BNB/BTC", s.Pair())
	assert.Equal(t, "", Parse("").Pair())
}
