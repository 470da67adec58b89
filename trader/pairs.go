package trader

import (
	"fmt"
	"sort"
	"strings"
)

// pairIndexes is the fixed market table of the protocol. Pair ids are
// assigned by the contract at listing time and never change; resolution is
// a pure lookup with no network round trip.
var pairIndexes = map[string]uint16{
	"BTC":   0,
	"ETH":   1,
	"SOL":   2,
	"ARB":   3,
	"LINK":  4,
	"DOGE":  5,
	"AVAX":  6,
	"MATIC": 7,
	"BNB":   8,
	"XRP":   9,
	"ADA":   10,
	"OP":    11,
	"LTC":   12,
	"NEAR":  13,
	"ATOM":  14,
}

// pairSymbols is the reverse table, built once at init
var pairSymbols = func() map[uint16]string {
	m := make(map[uint16]string, len(pairIndexes))
	for sym, idx := range pairIndexes {
		m[idx] = sym
	}
	return m
}()

// NormalizeSymbol reduces the spellings in the wild to the bare base asset:
// "btc", "BTC-USD", "BTC_USD", "BTC/USD", "BTCUSD", "BTC-USD-PERP" all
// become "BTC". It only rewrites spelling; it does not check the table.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "_", "-")

	for {
		switch {
		case strings.HasSuffix(s, "-PERP"):
			s = strings.TrimSuffix(s, "-PERP")
		case strings.HasSuffix(s, "-USDC"):
			s = strings.TrimSuffix(s, "-USDC")
		case strings.HasSuffix(s, "-USD"):
			s = strings.TrimSuffix(s, "-USD")
		case strings.HasSuffix(s, "USD") && len(s) > 3:
			s = strings.TrimSuffix(s, "USD")
		default:
			return s
		}
	}
}

// ResolvePair maps a human symbol to its contract pair id. Unknown symbols
// are an error, never a default: pair 0 is a real market (BTC) and a silent
// fallback would trade the wrong asset.
func ResolvePair(symbol string) (uint16, error) {
	base := NormalizeSymbol(symbol)
	if idx, ok := pairIndexes[base]; ok {
		return idx, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMarket, symbol)
}

// PairSymbol is the reverse lookup, used for logs and journal rows.
func PairSymbol(index uint16) (string, error) {
	if sym, ok := pairSymbols[index]; ok {
		return sym, nil
	}
	return "", fmt.Errorf("%w: pair index %d", ErrUnknownMarket, index)
}

// KnownMarkets lists every supported market in canonical BASE-USD form,
// sorted by pair id.
func KnownMarkets() []string {
	ids := make([]int, 0, len(pairSymbols))
	for idx := range pairSymbols {
		ids = append(ids, int(idx))
	}
	sort.Ints(ids)

	out := make([]string, 0, len(ids))
	for _, idx := range ids {
		out = append(out, pairSymbols[uint16(idx)]+"-USD")
	}
	return out
}
