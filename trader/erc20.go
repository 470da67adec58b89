package trader

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpx/logger"
)

// Canonical ERC-20 selectors
var (
	selDecimals  = [4]byte{0x31, 0x3c, 0xe5, 0x67} // decimals()
	selSymbol    = [4]byte{0x95, 0xd8, 0x9b, 0x41} // symbol()
	selBalanceOf = [4]byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selAllowance = [4]byte{0xdd, 0x62, 0xed, 0x3e} // allowance(address,address)
	selApprove   = [4]byte{0x09, 0x5e, 0xa7, 0xb3} // approve(address,uint256)
)

var (
	typeUint8  = mustType("uint8")
	typeString = mustType("string")
)

const approveGasLimit = 120_000

// TokenAdapter reads the funding token and builds approval calldata. The
// spender is always the diamond. Reads fail closed: when decimals or
// allowance can not be fetched, value-moving operations are blocked rather
// than guessing (a wrong decimal count shifts every amount by powers of
// ten).
type TokenAdapter struct {
	caller  ethereum.ContractCaller
	token   common.Address
	spender common.Address

	// decimals are immutable per token and cached after the first
	// successful read; balances and allowances never are
	mu       sync.Mutex
	decimals uint8
	loaded   bool
}

func NewTokenAdapter(caller ethereum.ContractCaller, network NetworkConfig) *TokenAdapter {
	return &TokenAdapter{
		caller:  caller,
		token:   network.FundingToken,
		spender: network.Diamond,
	}
}

func (a *TokenAdapter) read(ctx context.Context, data []byte) ([]byte, error) {
	ret, err := a.caller.CallContract(ctx, ethereum.CallMsg{To: &a.token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("%w: empty result from token %s", ErrAdapterUnavailable, ToChecksumAddress(a.token.Hex()))
	}
	return ret, nil
}

// Decimals returns the token's decimal count, fetching it on first use.
func (a *TokenAdapter) Decimals(ctx context.Context) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.loaded {
		return a.decimals, nil
	}

	ret, err := a.read(ctx, selDecimals[:])
	if err != nil {
		return 0, err
	}
	out, err := abi.Arguments{{Type: typeUint8}}.Unpack(ret)
	if err != nil {
		return 0, fmt.Errorf("%w: bad decimals() result: %w", ErrAdapterUnavailable, err)
	}
	a.decimals = out[0].(uint8)
	a.loaded = true
	logger.Debugf("Funding token %s has %d decimals", ToChecksumAddress(a.token.Hex()), a.decimals)
	return a.decimals, nil
}

// Symbol returns the token's self-reported symbol (display only).
func (a *TokenAdapter) Symbol(ctx context.Context) (string, error) {
	ret, err := a.read(ctx, selSymbol[:])
	if err != nil {
		return "", err
	}
	out, err := abi.Arguments{{Type: typeString}}.Unpack(ret)
	if err != nil {
		return "", fmt.Errorf("%w: bad symbol() result: %w", ErrAdapterUnavailable, err)
	}
	return out[0].(string), nil
}

// BalanceOf reads the owner's funding-token balance in native units.
func (a *TokenAdapter) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	packed, err := abi.Arguments{{Type: typeAddress}}.Pack(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf arguments: %w", err)
	}
	ret, err := a.read(ctx, append(append([]byte{}, selBalanceOf[:]...), packed...))
	if err != nil {
		return nil, err
	}
	return unpackUint256(ret, "balanceOf")
}

// Allowance reads what the diamond may currently pull from the owner.
// Always read fresh: approvals can be spent or revoked out of band.
func (a *TokenAdapter) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	packed, err := abi.Arguments{{Type: typeAddress}, {Type: typeAddress}}.Pack(owner, a.spender)
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance arguments: %w", err)
	}
	ret, err := a.read(ctx, append(append([]byte{}, selAllowance[:]...), packed...))
	if err != nil {
		return nil, err
	}
	return unpackUint256(ret, "allowance")
}

// ApproveCall builds an unlimited approval for the diamond. MaxUint256 is
// deliberate: per-trade exact approvals would double the transaction count
// of every open.
func (a *TokenAdapter) ApproveCall() (*EncodedCall, error) {
	packed, err := abi.Arguments{{Type: typeAddress}, {Type: typeUint256}}.Pack(a.spender, abi.MaxUint256)
	if err != nil {
		return nil, fmt.Errorf("failed to pack approve arguments: %w", err)
	}
	data := make([]byte, 0, 4+len(packed))
	data = append(data, selApprove[:]...)
	return &EncodedCall{
		Op:       "approve",
		To:       a.token,
		Data:     append(data, packed...),
		Value:    new(big.Int),
		GasLimit: approveGasLimit,
	}, nil
}

// parseAmount parses a human decimal amount and rejects non-positive
// values. It is pure; only the precision check against the token's real
// decimal count needs a chain read.
func parseAmount(human string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(human))
	if err != nil {
		return decimal.Decimal{}, rejectf("amount %q is not a decimal number", human)
	}
	if d.Sign() <= 0 {
		return decimal.Decimal{}, rejectf("amount must be positive, got %s", human)
	}
	return d, nil
}

// ToNativeUnits converts a human decimal amount ("250.5") to native token
// units using the token's real decimal count. Excess precision is rejected,
// never rounded. Malformed amounts are rejected before the decimals read.
func (a *TokenAdapter) ToNativeUnits(ctx context.Context, human string) (*big.Int, error) {
	d, err := parseAmount(human)
	if err != nil {
		return nil, err
	}
	dec, err := a.Decimals(ctx)
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(int32(dec))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, rejectf("amount %s has more precision than the token's %d decimals", human, dec)
	}
	return scaled.BigInt(), nil
}

// FormatNative renders a native-unit amount as a human decimal string.
func (a *TokenAdapter) FormatNative(ctx context.Context, amount *big.Int) (string, error) {
	dec, err := a.Decimals(ctx)
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(amount, -int32(dec)).String(), nil
}

func unpackUint256(ret []byte, what string) (*big.Int, error) {
	out, err := abi.Arguments{{Type: typeUint256}}.Unpack(ret)
	if err != nil {
		return nil, fmt.Errorf("%w: bad %s result: %w", ErrAdapterUnavailable, what, err)
	}
	return out[0].(*big.Int), nil
}
