package trader

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// ============================================================
// Call Encoder Test Suite
// ============================================================

func testNetwork() NetworkConfig {
	return NetworkConfig{
		ID:           "testnet",
		ChainID:      1337,
		RPCEndpoint:  "http://127.0.0.1:8545",
		Diamond:      common.HexToAddress("0x83f2c74f1b0cf6cd3a6f8f8c2e9d41d02a7b94e3"),
		FundingToken: common.HexToAddress("0xaf88d065e77c8cc2239327c5edb3a432268e5831"),
		OracleFeeWei: big.NewInt(600_000_000_000_000),
	}
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func usdc(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

// TestEncodeOpen_PayloadShape Test selector prefix, target and attached value
func TestEncodeOpen_PayloadShape(t *testing.T) {
	network := testNetwork()
	enc := NewEncoder(network)

	call, err := enc.EncodeOpen(OpenParams{
		PairIndex:  0,
		Collateral: usdc(100),
		Leverage:   10,
		Direction:  DirectionLong,
	})
	assert.NoError(t, err)
	assert.Equal(t, "openTrade", call.Op)
	assert.Equal(t, opOpen.selector[:], call.Data[:4])
	assert.Equal(t, network.Diamond, call.To)
	assert.Equal(t, opOpen.gas, call.GasLimit)
	// The oracle update fee rides along as native value on opens
	assert.Zero(t, call.Value.Cmp(network.OracleFeeWei))
	t.Logf("✅ openTrade payload: %d bytes, selector 0x%x", len(call.Data), call.Data[:4])
}

// TestEncodeOpen_DecodeBack Test every argument survives a decode round trip
func TestEncodeOpen_DecodeBack(t *testing.T) {
	network := testNetwork()
	enc := NewEncoder(network)
	referrer := common.HexToAddress("0x00000000000000000000000000000000deadbeef")

	call, err := enc.EncodeOpen(OpenParams{
		PairIndex:   2,
		Collateral:  usdc(250),
		Leverage:    20,
		Direction:   DirectionShort,
		OpenPrice:   dec("68999.9"),
		TakeProfit:  dec("71250.5"),
		SlippageBps: 30,
		Referrer:    referrer,
	})
	assert.NoError(t, err)

	decoded, err := DecodeCall(call.Data)
	assert.NoError(t, err)
	assert.Equal(t, "openTrade", decoded.Op)
	assert.Len(t, decoded.Values, 11)

	assert.Equal(t, referrer, decoded.Values[0].(common.Address))
	assert.EqualValues(t, 2, decoded.Values[1].(*big.Int).Int64())
	assert.Equal(t, network.FundingToken, decoded.Values[2].(common.Address))
	assert.Zero(t, decoded.Values[3].(*big.Int).Cmp(usdc(250)))
	// Prices carry the 1e10 fixed-point scale
	assert.Equal(t, int64(689_999_000_000_000), decoded.Values[4].(*big.Int).Int64())
	assert.Zero(t, decoded.Values[5].(*big.Int).Cmp(usdc(250*20)))
	assert.Equal(t, int64(712_505_000_000_000), decoded.Values[6].(*big.Int).Int64())
	// No stop loss was set, so the zero sentinel goes out
	assert.Equal(t, int64(0), decoded.Values[7].(*big.Int).Int64())
	assert.Equal(t, int64(DirectionShort), decoded.Values[8].(*big.Int).Int64())
	assert.Equal(t, int64(30*100_000_000), decoded.Values[9].(*big.Int).Int64())
	assert.Empty(t, decoded.Values[10].([][]byte))
	t.Logf("✅ All 11 arguments round-trip")
}

// TestEncodeOpen_NotionalIsCollateralTimesLeverage Test the notional can never drift
func TestEncodeOpen_NotionalIsCollateralTimesLeverage(t *testing.T) {
	enc := NewEncoder(testNetwork())

	cases := []struct {
		collateral *big.Int
		leverage   int
	}{
		{usdc(100), 2},
		{usdc(333), 50},
		{big.NewInt(1), 1000},
	}
	for _, tc := range cases {
		call, err := enc.EncodeOpen(OpenParams{
			PairIndex:  1,
			Collateral: tc.collateral,
			Leverage:   tc.leverage,
			Direction:  DirectionLong,
		})
		assert.NoError(t, err)

		decoded, err := DecodeCall(call.Data)
		assert.NoError(t, err)
		want := new(big.Int).Mul(tc.collateral, big.NewInt(int64(tc.leverage)))
		assert.Zero(t, decoded.Values[5].(*big.Int).Cmp(want))
		assert.Zero(t, call.Notional.Cmp(want))
	}
	t.Logf("✅ notional = collateral x leverage in every case")
}

// TestEncodeOpen_Defaults Test market entry with no protections and default slippage
func TestEncodeOpen_Defaults(t *testing.T) {
	enc := NewEncoder(testNetwork())

	call, err := enc.EncodeOpen(OpenParams{
		PairIndex:  0,
		Collateral: usdc(50),
		Leverage:   5,
		Direction:  DirectionLong,
	})
	assert.NoError(t, err)

	decoded, err := DecodeCall(call.Data)
	assert.NoError(t, err)
	// Market entry, no TP, no SL: all three price words are the sentinel
	assert.Equal(t, int64(0), decoded.Values[4].(*big.Int).Int64())
	assert.Equal(t, int64(0), decoded.Values[6].(*big.Int).Int64())
	assert.Equal(t, int64(0), decoded.Values[7].(*big.Int).Int64())
	assert.Equal(t, int64(DirectionLong), decoded.Values[8].(*big.Int).Int64())
	assert.Equal(t, int64(DefaultSlippageBps*100_000_000), decoded.Values[9].(*big.Int).Int64())
}

// TestEncodeOpen_Idempotent Test same request, same bytes
func TestEncodeOpen_Idempotent(t *testing.T) {
	enc := NewEncoder(testNetwork())
	params := OpenParams{
		PairIndex:  3,
		Collateral: usdc(777),
		Leverage:   12,
		Direction:  DirectionShort,
		TakeProfit: dec("2.5"),
		StopLoss:   dec("1.25"),
	}

	a, err := enc.EncodeOpen(params)
	assert.NoError(t, err)
	b, err := enc.EncodeOpen(params)
	assert.NoError(t, err)

	assert.True(t, bytes.Equal(a.Data, b.Data))
	assert.Zero(t, a.Value.Cmp(b.Value))
	assert.Equal(t, a.GasLimit, b.GasLimit)
	t.Logf("✅ Encoding is deterministic (%d bytes)", len(a.Data))
}

// TestEncodeOpen_Rejections Test out-of-width and sentinel-violating fields are
// rejected before anything could reach the network, never clamped
func TestEncodeOpen_Rejections(t *testing.T) {
	enc := NewEncoder(testNetwork())

	valid := func() OpenParams {
		return OpenParams{
			PairIndex:  0,
			Collateral: usdc(100),
			Leverage:   10,
			Direction:  DirectionLong,
		}
	}

	cases := []struct {
		name   string
		mutate func(*OpenParams)
	}{
		{"nil collateral", func(p *OpenParams) { p.Collateral = nil }},
		{"zero collateral", func(p *OpenParams) { p.Collateral = big.NewInt(0) }},
		{"negative collateral", func(p *OpenParams) { p.Collateral = big.NewInt(-5) }},
		{"collateral at 2^128", func(p *OpenParams) { p.Collateral = new(big.Int).Lsh(big.NewInt(1), 128) }},
		{"leverage below minimum", func(p *OpenParams) { p.Leverage = 1 }},
		{"leverage above maximum", func(p *OpenParams) { p.Leverage = 1001 }},
		{"direction zero", func(p *OpenParams) { p.Direction = 0 }},
		{"direction out of range", func(p *OpenParams) { p.Direction = 3 }},
		{"slippage negative", func(p *OpenParams) { p.SlippageBps = -1 }},
		{"slippage above cap", func(p *OpenParams) { p.SlippageBps = 5001 }},
		{"negative take profit", func(p *OpenParams) { p.TakeProfit = dec("-1") }},
		{"sub-scale price dust", func(p *OpenParams) { p.StopLoss = dec("0.00000000001") }},
		{"price overflows 64 bits scaled", func(p *OpenParams) { p.OpenPrice = dec("2000000000") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := valid()
			tc.mutate(&params)
			call, err := enc.EncodeOpen(params)
			assert.ErrorIs(t, err, ErrEncodingRejected)
			assert.Nil(t, call)
		})
	}
	t.Logf("✅ %d malformed requests rejected, none clamped", len(cases))
}

// TestEncodeClose_WordLayout Test the exact wire words of closeTrade(3, 7)
func TestEncodeClose_WordLayout(t *testing.T) {
	enc := NewEncoder(testNetwork())

	call, err := enc.EncodeClose(3, 7)
	assert.NoError(t, err)
	assert.Equal(t, opClose.selector[:], call.Data[:4])
	assert.Len(t, call.Data, 4+64)

	pairWord := new(big.Int).SetBytes(call.Data[4:36])
	tradeWord := new(big.Int).SetBytes(call.Data[36:68])
	assert.Equal(t, int64(3), pairWord.Int64())
	assert.Equal(t, int64(7), tradeWord.Int64())

	// Closing moves no funds in, so no native value rides along
	assert.Zero(t, call.Value.Sign())
	assert.Equal(t, opClose.gas, call.GasLimit)
	t.Logf("✅ closeTrade(3, 7): two clean words after the selector")
}

// TestEncodeUpdateTpSl Test protective prices are always written as a pair
func TestEncodeUpdateTpSl(t *testing.T) {
	enc := NewEncoder(testNetwork())

	t.Run("set TP, drop SL", func(t *testing.T) {
		call, err := enc.EncodeUpdateTpSl(1, 9, dec("65000"), nil)
		assert.NoError(t, err)

		decoded, err := DecodeCall(call.Data)
		assert.NoError(t, err)
		assert.Equal(t, "updateTpSl", decoded.Op)
		assert.Equal(t, int64(1), decoded.Values[0].(*big.Int).Int64())
		assert.Equal(t, int64(9), decoded.Values[1].(*big.Int).Int64())
		assert.Equal(t, int64(650_000_000_000_000), decoded.Values[2].(*big.Int).Int64())
		assert.Equal(t, int64(0), decoded.Values[3].(*big.Int).Int64())
	})

	t.Run("remove both", func(t *testing.T) {
		call, err := enc.EncodeUpdateTpSl(1, 9, nil, nil)
		assert.NoError(t, err)

		decoded, err := DecodeCall(call.Data)
		assert.NoError(t, err)
		assert.Equal(t, int64(0), decoded.Values[2].(*big.Int).Int64())
		assert.Equal(t, int64(0), decoded.Values[3].(*big.Int).Int64())
	})

	t.Run("dust rejected", func(t *testing.T) {
		_, err := enc.EncodeUpdateTpSl(1, 9, dec("0.00000000001"), nil)
		assert.ErrorIs(t, err, ErrEncodingRejected)
	})
}

// TestEncodeAddMargin Test the top-up payload
func TestEncodeAddMargin(t *testing.T) {
	enc := NewEncoder(testNetwork())

	call, err := enc.EncodeAddMargin(4, 2, usdc(50))
	assert.NoError(t, err)

	decoded, err := DecodeCall(call.Data)
	assert.NoError(t, err)
	assert.Equal(t, "addMargin", decoded.Op)
	assert.Equal(t, int64(4), decoded.Values[0].(*big.Int).Int64())
	assert.Equal(t, int64(2), decoded.Values[1].(*big.Int).Int64())
	assert.Zero(t, decoded.Values[2].(*big.Int).Cmp(usdc(50)))

	_, err = enc.EncodeAddMargin(4, 2, big.NewInt(0))
	assert.ErrorIs(t, err, ErrEncodingRejected)
}

// TestDecodeCall_Invalid Test decode failures
func TestDecodeCall_Invalid(t *testing.T) {
	_, err := DecodeCall([]byte{0x01, 0x02})
	assert.Error(t, err)

	_, err = DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown selector")
}
