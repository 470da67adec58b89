package trader

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

// ============================================================
// Funding Token Adapter Test Suite
// ============================================================

// fakeCaller scripts eth_call responses by selector, the way the live
// token answers them.
type fakeCaller struct {
	calls     int
	lastData  []byte
	err       error
	decimals  int64
	balance   *big.Int
	allowance *big.Int
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.calls++
	f.lastData = call.Data
	if f.err != nil {
		return nil, f.err
	}

	var sel [4]byte
	copy(sel[:], call.Data[:4])
	switch sel {
	case selDecimals:
		return common.LeftPadBytes(big.NewInt(f.decimals).Bytes(), 32), nil
	case selSymbol:
		packed, _ := abi.Arguments{{Type: typeString}}.Pack("USDC")
		return packed, nil
	case selBalanceOf:
		return common.LeftPadBytes(f.balance.Bytes(), 32), nil
	case selAllowance:
		return common.LeftPadBytes(f.allowance.Bytes(), 32), nil
	}
	return nil, fmt.Errorf("unexpected selector 0x%x", sel)
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		decimals:  6,
		balance:   big.NewInt(1_000_000_000),
		allowance: big.NewInt(0),
	}
}

// TestTokenAdapter_Decimals Test the decimal count is read once and cached
func TestTokenAdapter_Decimals(t *testing.T) {
	caller := newFakeCaller()
	adapter := NewTokenAdapter(caller, testNetwork())

	d, err := adapter.Decimals(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint8(6), d)

	d, err = adapter.Decimals(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint8(6), d)
	// Decimals are immutable; one read is enough
	assert.Equal(t, 1, caller.calls)
	t.Logf("✅ decimals read once, cached after")
}

// TestTokenAdapter_FailClosed Test that unreadable metadata blocks instead of guessing
func TestTokenAdapter_FailClosed(t *testing.T) {
	caller := newFakeCaller()
	caller.err = errors.New("rpc: connection refused")
	adapter := NewTokenAdapter(caller, testNetwork())

	_, err := adapter.Decimals(context.Background())
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	_, err = adapter.ToNativeUnits(context.Background(), "100")
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	_, err = adapter.Allowance(context.Background(), common.Address{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
	t.Logf("✅ Adapter fails closed when reads fail")
}

// TestTokenAdapter_ToNativeUnits Test human-amount conversion against real decimals
func TestTokenAdapter_ToNativeUnits(t *testing.T) {
	caller := newFakeCaller()
	adapter := NewTokenAdapter(caller, testNetwork())
	ctx := context.Background()

	n, err := adapter.ToNativeUnits(ctx, "250.5")
	assert.NoError(t, err)
	assert.Equal(t, int64(250_500_000), n.Int64())

	n, err = adapter.ToNativeUnits(ctx, "0.000001")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), n.Int64())

	for _, bad := range []string{"0.0000001", "abc", "-5", "0", ""} {
		_, err = adapter.ToNativeUnits(ctx, bad)
		assert.ErrorIs(t, err, ErrEncodingRejected, "amount %q", bad)
	}
	t.Logf("✅ Conversion exact, excess precision rejected")
}

// TestTokenAdapter_FormatNative Test the display direction
func TestTokenAdapter_FormatNative(t *testing.T) {
	adapter := NewTokenAdapter(newFakeCaller(), testNetwork())

	s, err := adapter.FormatNative(context.Background(), big.NewInt(250_500_000))
	assert.NoError(t, err)
	assert.Equal(t, "250.5", s)
}

// TestTokenAdapter_Allowance Test the allowance read carries owner and spender
func TestTokenAdapter_Allowance(t *testing.T) {
	network := testNetwork()
	caller := newFakeCaller()
	caller.allowance = big.NewInt(777)
	adapter := NewTokenAdapter(caller, network)
	owner := common.HexToAddress("0x00000000000000000000000000000000cafebabe")

	got, err := adapter.Allowance(context.Background(), owner)
	assert.NoError(t, err)
	assert.Equal(t, int64(777), got.Int64())

	// allowance(owner, spender): two address words after the selector
	assert.Equal(t, selAllowance[:], caller.lastData[:4])
	assert.Len(t, caller.lastData, 4+64)
	assert.Equal(t, owner, common.BytesToAddress(caller.lastData[4:36]))
	assert.Equal(t, network.Diamond, common.BytesToAddress(caller.lastData[36:68]))
}

// TestTokenAdapter_ApproveCall Test the unlimited approval payload
func TestTokenAdapter_ApproveCall(t *testing.T) {
	network := testNetwork()
	adapter := NewTokenAdapter(newFakeCaller(), network)

	call, err := adapter.ApproveCall()
	assert.NoError(t, err)
	assert.Equal(t, "approve", call.Op)
	// Approvals go to the token contract, not the diamond
	assert.Equal(t, network.FundingToken, call.To)
	assert.Zero(t, call.Value.Sign())
	assert.Equal(t, selApprove[:], call.Data[:4])

	out, err := abi.Arguments{{Type: typeAddress}, {Type: typeUint256}}.Unpack(call.Data[4:])
	assert.NoError(t, err)
	assert.Equal(t, network.Diamond, out[0].(common.Address))
	assert.Zero(t, out[1].(*big.Int).Cmp(abi.MaxUint256))
	t.Logf("✅ approve(diamond, MaxUint256)")
}

// TestTokenAdapter_Symbol Test the display symbol read
func TestTokenAdapter_Symbol(t *testing.T) {
	adapter := NewTokenAdapter(newFakeCaller(), testNetwork())

	sym, err := adapter.Symbol(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "USDC", sym)
}
