package trader

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"perpx/logger"
)

// topicTradeOpened is the diamond's trade-assignment event topic, verified
// against live receipts the same way the selectors were. Data layout:
// word 0 pair index, word 1 trade index.
var topicTradeOpened = common.HexToHash("0x7a9f3e5d1c8b2a6f4e0d9c7b5a3f1e8d6c4b2a0f9e7d5c3b1a8f6e4d2c0b9a7e")

// Client drives the full trade lifecycle on one network: resolve the
// market, convert amounts, encode, settle the approval prerequisite, then
// submit and await the outcome. All validation happens before anything is
// signed, so a malformed request never costs a fee.
type Client struct {
	network    NetworkConfig
	encoder    *Encoder
	adapter    *TokenAdapter
	sub        Submitter
	indexerURL string
}

func NewClient(network NetworkConfig, caller ethereum.ContractCaller, sub Submitter) *Client {
	return &Client{
		network: network,
		encoder: NewEncoder(network),
		adapter: NewTokenAdapter(caller, network),
		sub:     sub,
	}
}

// Connect dials the network's RPC endpoint and wires a client around a
// ChainSubmitter for the given key.
func Connect(ctx context.Context, network NetworkConfig, privateKeyHex string) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, network.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s rpc: %w", network.ID, err)
	}
	sub, err := NewChainSubmitter(ec, network, privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewClient(network, ec, sub), nil
}

// SetIndexerURL records where the read-side indexer lives; degraded reads
// name it so callers know where to go.
func (c *Client) SetIndexerURL(u string) {
	c.indexerURL = u
}

func (c *Client) Network() NetworkConfig { return c.network }
func (c *Client) Adapter() *TokenAdapter { return c.adapter }
func (c *Client) Submitter() Submitter   { return c.sub }

// OpenTrade opens a leveraged position. Order matters: everything checkable
// without the chain is validated first, then the collateral is converted
// (the adapter's one metadata read), then the payload is encoded, the
// allowance prerequisite settled, and the trade goes out.
func (c *Client) OpenTrade(ctx context.Context, req OpenTradeRequest) (*TradeReceipt, error) {
	pairIndex, err := ResolvePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	if err := checkOpenRequest(req); err != nil {
		return nil, err
	}
	collateral, err := c.adapter.ToNativeUnits(ctx, req.Collateral)
	if err != nil {
		return nil, err
	}

	direction := DirectionShort
	if req.Long {
		direction = DirectionLong
	}
	call, err := c.encoder.EncodeOpen(OpenParams{
		PairIndex:   pairIndex,
		Collateral:  collateral,
		Leverage:    req.Leverage,
		Direction:   direction,
		OpenPrice:   req.OpenPrice,
		TakeProfit:  req.TakeProfit,
		StopLoss:    req.StopLoss,
		SlippageBps: req.SlippageBps,
		Referrer:    req.Referrer,
	})
	if err != nil {
		return nil, err
	}

	if err := c.ensureAllowance(ctx, collateral); err != nil {
		return nil, err
	}

	side := "short"
	if req.Long {
		side = "long"
	}
	logger.Infof("Opening %s %s: collateral %s, leverage %dx", side, NormalizeSymbol(req.Symbol), req.Collateral, req.Leverage)

	receipt, err := c.sub.Submit(ctx, call)
	if err != nil {
		return nil, err
	}
	if req.WantTradeIndex {
		if idx, ok := tradeIndexFromLogs(c.network.Diamond, receipt.Logs); ok {
			receipt.TradeIndex = idx
			receipt.HasTradeIndex = true
		}
	}
	return receipt, nil
}

// CloseTrade fully closes one trade slot.
func (c *Client) CloseTrade(ctx context.Context, req CloseTradeRequest) (*TradeReceipt, error) {
	pairIndex, err := ResolvePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	call, err := c.encoder.EncodeClose(pairIndex, req.TradeIndex)
	if err != nil {
		return nil, err
	}
	logger.Infof("Closing %s trade %d", NormalizeSymbol(req.Symbol), req.TradeIndex)
	return c.sub.Submit(ctx, call)
}

// UpdateProtection rewrites both protective prices of a live trade. The
// contract takes them as a pair, so omitting one removes it.
func (c *Client) UpdateProtection(ctx context.Context, req UpdateProtectionRequest) (*TradeReceipt, error) {
	pairIndex, err := ResolvePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	call, err := c.encoder.EncodeUpdateTpSl(pairIndex, req.TradeIndex, req.TakeProfit, req.StopLoss)
	if err != nil {
		return nil, err
	}
	logger.Infof("Updating protection on %s trade %d", NormalizeSymbol(req.Symbol), req.TradeIndex)
	return c.sub.Submit(ctx, call)
}

// AddMargin tops up a live trade's collateral. The top-up is pulled from
// the wallet like open collateral, so the same allowance prerequisite
// applies.
func (c *Client) AddMargin(ctx context.Context, req AddMarginRequest) (*TradeReceipt, error) {
	pairIndex, err := ResolvePair(req.Symbol)
	if err != nil {
		return nil, err
	}
	amount, err := c.adapter.ToNativeUnits(ctx, req.Amount)
	if err != nil {
		return nil, err
	}
	call, err := c.encoder.EncodeAddMargin(pairIndex, req.TradeIndex, amount)
	if err != nil {
		return nil, err
	}
	if err := c.ensureAllowance(ctx, amount); err != nil {
		return nil, err
	}
	logger.Infof("Adding %s margin to %s trade %d", req.Amount, NormalizeSymbol(req.Symbol), req.TradeIndex)
	return c.sub.Submit(ctx, call)
}

// Balance reads the wallet's funding-token balance as a human decimal.
func (c *Client) Balance(ctx context.Context) (string, error) {
	raw, err := c.adapter.BalanceOf(ctx, c.sub.From())
	if err != nil {
		return "", err
	}
	return c.adapter.FormatNative(ctx, raw)
}

// Positions is a degraded read. Facet routing makes on-chain position
// enumeration undependable, so position state is owned by the external
// indexer; this never touches the network.
func (c *Client) Positions() ([]map[string]interface{}, error) {
	return nil, &ReadUnavailableError{Query: "positions", IndexerURL: c.indexerURL}
}

// OpenInterest is a degraded read, same contract as Positions.
func (c *Client) OpenInterest(symbol string) (map[string]interface{}, error) {
	return nil, &ReadUnavailableError{Query: "open interest", IndexerURL: c.indexerURL}
}

// TradeByIndex is a degraded read, same contract as Positions.
func (c *Client) TradeByIndex(symbol string, tradeIndex uint32) (map[string]interface{}, error) {
	return nil, &ReadUnavailableError{Query: "trade by index", IndexerURL: c.indexerURL}
}

// checkOpenRequest runs every open-trade validation that needs no chain
// data, so a request the encoder would reject costs zero network traffic.
// The encoder re-checks all of it on the converted values.
func checkOpenRequest(req OpenTradeRequest) error {
	if _, err := parseAmount(req.Collateral); err != nil {
		return err
	}
	if err := checkLeverage(req.Leverage); err != nil {
		return err
	}
	if _, err := resolveSlippage(req.SlippageBps); err != nil {
		return err
	}
	if _, err := scalePrice("open price", req.OpenPrice); err != nil {
		return err
	}
	if _, err := scalePrice("take profit", req.TakeProfit); err != nil {
		return err
	}
	if _, err := scalePrice("stop loss", req.StopLoss); err != nil {
		return err
	}
	return nil
}

// ensureAllowance reads the diamond's current allowance fresh and, when it
// is short, submits an unlimited approval and waits for inclusion before
// returning. The trade must not go out first: the two-step ERC-20 flow
// reverts it if the pull is not yet authorized.
func (c *Client) ensureAllowance(ctx context.Context, required *big.Int) error {
	allowance, err := c.adapter.Allowance(ctx, c.sub.From())
	if err != nil {
		return err
	}
	if allowance.Cmp(required) >= 0 {
		return nil
	}

	logger.Infof("Allowance %s below required %s, approving funding token for the diamond", allowance, required)
	call, err := c.adapter.ApproveCall()
	if err != nil {
		return err
	}
	if _, err := c.sub.Submit(ctx, call); err != nil {
		return fmt.Errorf("funding token approval failed: %w", err)
	}
	logger.Infof("✓ Funding token approved")
	return nil
}

func tradeIndexFromLogs(diamond common.Address, logs []*types.Log) (uint32, bool) {
	for _, lg := range logs {
		if lg.Address != diamond || len(lg.Topics) == 0 || lg.Topics[0] != topicTradeOpened {
			continue
		}
		if len(lg.Data) < 64 {
			continue
		}
		idx := new(big.Int).SetBytes(lg.Data[32:64])
		if idx.BitLen() > 32 {
			continue
		}
		return uint32(idx.Uint64()), true
	}
	return 0, false
}
