package trader

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Direction constants as the contract encodes them. These are wire values,
// not enum ordinals; 0 is deliberately unused so a zero-valued field can
// never pass for a direction.
const (
	DirectionLong  = 1
	DirectionShort = 2
)

// PriceScale is the fixed-point multiplier the contract uses for prices.
// A human price is multiplied by 1e10 before encoding.
const PriceScale = 10

// OpenTradeRequest describes a position to open in human terms. Collateral
// is a decimal string in funding-token units ("250.5"); prices are human
// quotes, nil where the zero sentinel is wanted (market entry, no TP/SL).
type OpenTradeRequest struct {
	Symbol     string
	Collateral string
	Leverage   int
	Long       bool

	// nil OpenPrice means market order at the oracle price
	OpenPrice  *decimal.Decimal
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal

	// SlippageBps overrides the default tolerance when > 0
	SlippageBps int

	// Referrer is credited on the trade when non-zero
	Referrer common.Address

	// WantTradeIndex makes OpenTrade scan receipt logs for the assigned
	// trade slot (best effort; the trade is live either way)
	WantTradeIndex bool
}

// CloseTradeRequest fully closes one trade slot.
type CloseTradeRequest struct {
	Symbol     string
	TradeIndex uint32
}

// UpdateProtectionRequest rewrites both protective prices of a live trade.
// The contract takes the pair atomically, so both must always be supplied;
// nil means "remove that protection" (encoded as the zero sentinel).
type UpdateProtectionRequest struct {
	Symbol     string
	TradeIndex uint32
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// AddMarginRequest tops up the collateral of a live trade without touching
// its size, lowering effective leverage.
type AddMarginRequest struct {
	Symbol     string
	TradeIndex uint32
	Amount     string
}

// EncodedCall is a fully validated payload ready for submission. Encoding is
// pure; nothing here has touched the network yet.
type EncodedCall struct {
	Op       string
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64

	// PairIndex and Notional are carried for journaling and logs
	PairIndex uint16
	Notional  *big.Int
}

// TradeReceipt is the confirmed outcome of a submitted operation.
type TradeReceipt struct {
	Op          string
	TxHash      string
	Block       uint64
	GasUsed     uint64
	PairIndex   uint16
	SubmittedAt time.Time
	ConfirmedAt time.Time

	// TradeIndex is filled on opens when WantTradeIndex was set and the
	// assignment log was found; HasTradeIndex tells the two apart
	TradeIndex    uint32
	HasTradeIndex bool

	// Logs are the raw receipt logs, kept for event inspection
	Logs []*types.Log
}
