package trader

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Leverage and slippage bounds enforced before encoding
const (
	MinLeverage        = 2
	MaxLeverage        = 1000
	DefaultSlippageBps = 50
	MaxSlippageBps     = 5000
)

// executionFeeUnit converts basis points to the contract's 1e10 percent
// fixed point: 1 bps = 1e8.
var executionFeeUnit = big.NewInt(100_000_000)

// opLayout pins one diamond operation: its verified 4-byte selector, the
// exact argument layout, a fixed gas ceiling, and whether the call carries
// the oracle update fee as native value. Selectors are constants, never
// derived at runtime; the proxy's dispatch table is not introspectable, so
// these were verified against live transactions and must be re-verified on
// redeployment.
type opLayout struct {
	name      string
	selector  [4]byte
	args      abi.Arguments
	gas       uint64
	oracleFee bool
}

func mustType(s string) abi.Type {
	t, err := abi.NewType(s, "", nil)
	if err != nil {
		panic(fmt.Sprintf("bad abi type %q: %v", s, err))
	}
	return t
}

var (
	typeAddress    = mustType("address")
	typeUint256    = mustType("uint256")
	typeBytesArray = mustType("bytes[]")
)

var (
	// openTrade(address referrer, uint256 pairIndex, address collateralToken,
	// uint256 collateralAmount, uint256 openPrice, uint256 leveragedNotional,
	// uint256 takeProfit, uint256 stopLoss, uint256 direction,
	// uint256 executionFee, bytes[] priceUpdateData)
	opOpen = opLayout{
		name:     "openTrade",
		selector: [4]byte{0x5d, 0x3c, 0xea, 0x92},
		args: abi.Arguments{
			{Type: typeAddress},
			{Type: typeUint256},
			{Type: typeAddress},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeBytesArray},
		},
		gas:       2_200_000,
		oracleFee: true,
	}

	// closeTrade(uint256 pairIndex, uint256 tradeIndex)
	opClose = opLayout{
		name:     "closeTrade",
		selector: [4]byte{0x1f, 0x2a, 0xed, 0x4b},
		args: abi.Arguments{
			{Type: typeUint256},
			{Type: typeUint256},
		},
		gas: 1_600_000,
	}

	// updateTpSl(uint256 pairIndex, uint256 tradeIndex, uint256 takeProfit,
	// uint256 stopLoss)
	opUpdateTpSl = opLayout{
		name:     "updateTpSl",
		selector: [4]byte{0x8e, 0x34, 0x1a, 0xc7},
		args: abi.Arguments{
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
		},
		gas: 800_000,
	}

	// addMargin(uint256 pairIndex, uint256 tradeIndex, uint256 amount)
	opAddMargin = opLayout{
		name:     "addMargin",
		selector: [4]byte{0x60, 0xd2, 0x4f, 0x83},
		args: abi.Arguments{
			{Type: typeUint256},
			{Type: typeUint256},
			{Type: typeUint256},
		},
		gas: 800_000,
	}
)

var opBySelector = map[[4]byte]*opLayout{
	opOpen.selector:       &opOpen,
	opClose.selector:      &opClose,
	opUpdateTpSl.selector: &opUpdateTpSl,
	opAddMargin.selector:  &opAddMargin,
}

// Encoder turns validated trade parameters into diamond calldata for one
// network. Encoding is pure: same inputs, same bytes, no network access.
type Encoder struct {
	network NetworkConfig
}

func NewEncoder(network NetworkConfig) *Encoder {
	return &Encoder{network: network}
}

// OpenParams is the resolved numeric form of an open: pair already looked
// up, collateral already converted to native token units.
type OpenParams struct {
	PairIndex   uint16
	Collateral  *big.Int
	Leverage    int
	Direction   int
	OpenPrice   *decimal.Decimal
	TakeProfit  *decimal.Decimal
	StopLoss    *decimal.Decimal
	SlippageBps int
	Referrer    common.Address
}

// EncodeOpen validates and packs an openTrade call. The leveraged notional
// is always computed here as collateral times leverage; callers never supply it
// directly, so the two can not drift apart.
func (e *Encoder) EncodeOpen(p OpenParams) (*EncodedCall, error) {
	if err := checkAmount("collateral", p.Collateral); err != nil {
		return nil, err
	}
	if err := checkLeverage(p.Leverage); err != nil {
		return nil, err
	}
	if p.Direction != DirectionLong && p.Direction != DirectionShort {
		return nil, rejectf("direction must be %d (long) or %d (short), got %d", DirectionLong, DirectionShort, p.Direction)
	}

	slippage, err := resolveSlippage(p.SlippageBps)
	if err != nil {
		return nil, err
	}

	openPrice, err := scalePrice("open price", p.OpenPrice)
	if err != nil {
		return nil, err
	}
	takeProfit, err := scalePrice("take profit", p.TakeProfit)
	if err != nil {
		return nil, err
	}
	stopLoss, err := scalePrice("stop loss", p.StopLoss)
	if err != nil {
		return nil, err
	}

	notional := new(big.Int).Mul(p.Collateral, big.NewInt(int64(p.Leverage)))
	executionFee := new(big.Int).Mul(big.NewInt(int64(slippage)), executionFeeUnit)

	data, err := packCall(&opOpen,
		p.Referrer,
		big.NewInt(int64(p.PairIndex)),
		e.network.FundingToken,
		p.Collateral,
		openPrice,
		notional,
		takeProfit,
		stopLoss,
		big.NewInt(int64(p.Direction)),
		executionFee,
		[][]byte{},
	)
	if err != nil {
		return nil, err
	}

	return e.call(&opOpen, data, p.PairIndex, notional), nil
}

// EncodeClose packs a full close of one trade slot.
func (e *Encoder) EncodeClose(pairIndex uint16, tradeIndex uint32) (*EncodedCall, error) {
	data, err := packCall(&opClose,
		big.NewInt(int64(pairIndex)),
		big.NewInt(int64(tradeIndex)),
	)
	if err != nil {
		return nil, err
	}
	return e.call(&opClose, data, pairIndex, nil), nil
}

// EncodeUpdateTpSl packs a protective-price rewrite. The contract replaces
// both prices atomically; nil encodes the zero sentinel, removing that
// protection.
func (e *Encoder) EncodeUpdateTpSl(pairIndex uint16, tradeIndex uint32, tp, sl *decimal.Decimal) (*EncodedCall, error) {
	takeProfit, err := scalePrice("take profit", tp)
	if err != nil {
		return nil, err
	}
	stopLoss, err := scalePrice("stop loss", sl)
	if err != nil {
		return nil, err
	}

	data, err := packCall(&opUpdateTpSl,
		big.NewInt(int64(pairIndex)),
		big.NewInt(int64(tradeIndex)),
		takeProfit,
		stopLoss,
	)
	if err != nil {
		return nil, err
	}
	return e.call(&opUpdateTpSl, data, pairIndex, nil), nil
}

// EncodeAddMargin packs a collateral top-up in native token units.
func (e *Encoder) EncodeAddMargin(pairIndex uint16, tradeIndex uint32, amount *big.Int) (*EncodedCall, error) {
	if err := checkAmount("margin amount", amount); err != nil {
		return nil, err
	}

	data, err := packCall(&opAddMargin,
		big.NewInt(int64(pairIndex)),
		big.NewInt(int64(tradeIndex)),
		amount,
	)
	if err != nil {
		return nil, err
	}
	return e.call(&opAddMargin, data, pairIndex, nil), nil
}

func (e *Encoder) call(op *opLayout, data []byte, pairIndex uint16, notional *big.Int) *EncodedCall {
	value := new(big.Int)
	if op.oracleFee && e.network.OracleFeeWei != nil {
		value.Set(e.network.OracleFeeWei)
	}
	return &EncodedCall{
		Op:        op.name,
		To:        e.network.Diamond,
		Data:      data,
		Value:     value,
		GasLimit:  op.gas,
		PairIndex: pairIndex,
		Notional:  notional,
	}
}

func packCall(op *opLayout, values ...interface{}) ([]byte, error) {
	packed, err := op.args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s arguments: %w", op.name, err)
	}
	data := make([]byte, 0, 4+len(packed))
	data = append(data, op.selector[:]...)
	return append(data, packed...), nil
}

// scalePrice converts a human price to the contract's 1e10 fixed point.
// nil and zero both encode the sentinel 0 (market entry, protection off).
// Sub-scale dust and anything past 64 bits is rejected, never rounded.
func scalePrice(field string, p *decimal.Decimal) (*big.Int, error) {
	if p == nil || p.Sign() == 0 {
		return new(big.Int), nil
	}
	if p.Sign() < 0 {
		return nil, rejectf("%s must not be negative, got %s", field, p)
	}
	scaled := p.Shift(PriceScale)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, rejectf("%s has more than %d decimal places: %s", field, PriceScale, p)
	}
	n := scaled.BigInt()
	if n.BitLen() > 64 {
		return nil, rejectf("%s out of range after scaling: %s", field, p)
	}
	return n, nil
}

func checkAmount(field string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return rejectf("%s must be positive", field)
	}
	if amount.BitLen() > 128 {
		return rejectf("%s exceeds 128 bits", field)
	}
	return nil
}

func checkLeverage(leverage int) error {
	if leverage < MinLeverage || leverage > MaxLeverage {
		return rejectf("leverage %d outside [%d, %d]", leverage, MinLeverage, MaxLeverage)
	}
	return nil
}

// resolveSlippage applies the default to an unset tolerance and bounds the
// result.
func resolveSlippage(bps int) (int, error) {
	if bps == 0 {
		bps = DefaultSlippageBps
	}
	if bps < 1 || bps > MaxSlippageBps {
		return 0, rejectf("slippage %d bps outside [1, %d]", bps, MaxSlippageBps)
	}
	return bps, nil
}

// DecodedCall is the symmetric view of a payload, for the probe tool and
// for auditing what would go on the wire.
type DecodedCall struct {
	Op     string
	Values []interface{}
}

// DecodeCall unpacks calldata produced by an Encoder back into its
// operation name and argument values.
func DecodeCall(data []byte) (*DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	var sel [4]byte
	copy(sel[:], data[:4])
	op, ok := opBySelector[sel]
	if !ok {
		return nil, fmt.Errorf("unknown selector 0x%x", sel)
	}
	values, err := op.args.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s calldata: %w", op.name, err)
	}
	return &DecodedCall{Op: op.name, Values: values}, nil
}
