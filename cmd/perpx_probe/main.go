// Probe tool for the perps diamond client.
// Offline by default: resolves the market, encodes the payload and decodes
// it back without touching the network. -online adds funding-token reads,
// -send actually submits the trade.
// Usage: go run cmd/perpx_probe/main.go -symbol=BTC-USD -collateral=100 -leverage=5 [-online] [-send]
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"perpx/config"
	"perpx/indexer"
	"perpx/journal"
	"perpx/logger"
	"perpx/trader"
)

func main() {
	networkFlag := flag.String("network", "", "network id (default: PERPX_NETWORK)")
	symbol := flag.String("symbol", "BTC-USD", "market symbol")
	collateral := flag.String("collateral", "100", "collateral in funding-token units")
	leverage := flag.Int("leverage", 5, "leverage multiplier")
	short := flag.Bool("short", false, "open a short instead of a long")
	tpFlag := flag.String("tp", "", "take profit price (empty = none)")
	slFlag := flag.String("sl", "", "stop loss price (empty = none)")
	priceFlag := flag.String("price", "", "explicit open price (empty = market)")
	slippage := flag.Int("slippage", 0, "slippage tolerance in bps (0 = default)")
	walletFlag := flag.String("wallet", "", "wallet address for balance/position reads")
	deployments := flag.String("deployments", "", "YAML deployments override file")
	positions := flag.Bool("positions", false, "query the indexer for live positions")
	online := flag.Bool("online", false, "dial the RPC endpoint for funding-token reads")
	send := flag.Bool("send", false, "submit the trade for real (requires PERPX_PRIVATE_KEY)")
	flag.Parse()

	godotenv.Load()
	cfg := config.Get()
	logger.InitWithSimpleConfig(cfg.LogLevel)

	if path := firstNonEmpty(*deployments, cfg.DeploymentsFile); path != "" {
		if err := trader.LoadDeployments(path); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	}

	networkID := firstNonEmpty(*networkFlag, cfg.Network)
	network, err := trader.GetNetwork(networkID)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if override := cfg.RPCOverrides[network.ID]; override != "" {
		network.RPCEndpoint = override
	}

	fmt.Println("=== perpx probe ===")
	fmt.Printf("Network:       %s (chain %d)\n", network.ID, network.ChainID)
	fmt.Printf("Diamond:       %s\n", trader.ToChecksumAddress(network.Diamond.Hex()))
	fmt.Printf("Funding token: %s\n", trader.ToChecksumAddress(network.FundingToken.Hex()))
	fmt.Printf("RPC:           %s\n", network.RPCEndpoint)
	fmt.Println()

	// Step 1: market resolution (pure)
	fmt.Println("Step 1: Resolving market...")
	pairIndex, err := trader.ResolvePair(*symbol)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		fmt.Printf("Known markets: %v\n", trader.KnownMarkets())
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: %s -> pair index %d\n\n", trader.NormalizeSymbol(*symbol), pairIndex)

	// Step 2: offline encode. Without an RPC connection the funding token's
	// decimal count can not be read, so 6 (USDC) is assumed for the dry run;
	// a real submission re-reads it from the chain.
	fmt.Println("Step 2: Encoding payload (offline, assuming 6 token decimals)...")
	nativeCollateral, err := toNative(*collateral, 6)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	direction := trader.DirectionLong
	if *short {
		direction = trader.DirectionShort
	}
	params := trader.OpenParams{
		PairIndex:   pairIndex,
		Collateral:  nativeCollateral,
		Leverage:    *leverage,
		Direction:   direction,
		OpenPrice:   parsePrice(*priceFlag),
		TakeProfit:  parsePrice(*tpFlag),
		StopLoss:    parsePrice(*slFlag),
		SlippageBps: *slippage,
	}
	enc := trader.NewEncoder(network)
	call, err := enc.EncodeOpen(params)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: %s payload built\n", call.Op)
	fmt.Printf("  to:        %s\n", trader.ToChecksumAddress(call.To.Hex()))
	fmt.Printf("  value:     %s wei\n", call.Value)
	fmt.Printf("  gas limit: %d\n", call.GasLimit)
	fmt.Printf("  selector:  0x%x\n", call.Data[:4])
	fmt.Printf("  notional:  %s (collateral x %d)\n", call.Notional, *leverage)
	fmt.Printf("  calldata:  0x%s\n\n", hex.EncodeToString(call.Data))

	// Step 3: decode-back audit
	fmt.Println("Step 3: Decoding payload back...")
	decoded, err := trader.DecodeCall(call.Data)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: decoded as %s\n", decoded.Op)
	for i, v := range decoded.Values {
		fmt.Printf("  arg %2d: %v\n", i, v)
	}
	fmt.Println()

	owner, haveOwner := resolveOwner(*walletFlag, cfg.PrivateKeyHex)

	// Step 4: indexer positions (read side lives there, not on-chain)
	if *positions {
		fmt.Println("Step 4: Querying indexer positions...")
		queryPositions(cfg.IndexerURL, owner, haveOwner)
		fmt.Println()
	}

	if !*online && !*send {
		fmt.Println("Dry run complete. Re-run with -online for token reads, -send to submit.")
		return
	}

	// Step 5: live funding-token reads
	fmt.Println("Step 5: Dialing RPC for funding-token reads...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	ec, err := ethclient.DialContext(ctx, network.RPCEndpoint)
	cancel()
	if err != nil {
		fmt.Printf("ERROR: failed to dial RPC: %v\n", err)
		os.Exit(1)
	}
	adapter := trader.NewTokenAdapter(ec, network)

	readCtx, cancelRead := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelRead()

	decimals, err := adapter.Decimals(readCtx)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	tokenSymbol, err := adapter.Symbol(readCtx)
	if err != nil {
		tokenSymbol = "?"
	}
	fmt.Printf("SUCCESS: token %s, %d decimals\n", tokenSymbol, decimals)
	if decimals != 6 {
		fmt.Printf("NOTE: offline dry run assumed 6 decimals; live value is %d\n", decimals)
	}

	if haveOwner {
		if balance, err := adapter.BalanceOf(readCtx, owner); err == nil {
			human, _ := adapter.FormatNative(readCtx, balance)
			fmt.Printf("  balance:   %s %s\n", human, tokenSymbol)
		} else {
			fmt.Printf("  balance:   read failed: %v\n", err)
		}
		if allowance, err := adapter.Allowance(readCtx, owner); err == nil {
			fmt.Printf("  allowance: %s\n", allowance)
		} else {
			fmt.Printf("  allowance: read failed: %v\n", err)
		}
	} else {
		fmt.Println("  (no -wallet and no PERPX_PRIVATE_KEY, skipping balance/allowance)")
	}
	fmt.Println()

	if !*send {
		fmt.Println("Online probe complete. Re-run with -send to submit.")
		return
	}

	// Step 6: real submission through the full client path
	fmt.Println("Step 6: Submitting trade...")
	if cfg.PrivateKeyHex == "" {
		fmt.Println("ERROR: -send requires PERPX_PRIVATE_KEY")
		os.Exit(1)
	}
	sub, err := trader.NewChainSubmitter(ec, network, cfg.PrivateKeyHex)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	sub.SetTimeout(cfg.SubmitTimeout)
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		defer j.Close()
		sub.SetRecorder(j)
	}

	client := trader.NewClient(network, ec, sub)
	client.SetIndexerURL(cfg.IndexerURL)

	receipt, err := client.OpenTrade(context.Background(), trader.OpenTradeRequest{
		Symbol:         *symbol,
		Collateral:     *collateral,
		Leverage:       *leverage,
		Long:           !*short,
		OpenPrice:      parsePrice(*priceFlag),
		TakeProfit:     parsePrice(*tpFlag),
		StopLoss:       parsePrice(*slFlag),
		SlippageBps:    *slippage,
		WantTradeIndex: true,
	})
	if err != nil {
		reportSubmitError(err)
		os.Exit(1)
	}

	fmt.Printf("SUCCESS: trade opened\n")
	fmt.Printf("  tx:       %s\n", receipt.TxHash)
	fmt.Printf("  block:    %d\n", receipt.Block)
	fmt.Printf("  gas used: %d\n", receipt.GasUsed)
	if receipt.HasTradeIndex {
		fmt.Printf("  trade slot: %d\n", receipt.TradeIndex)
	} else {
		fmt.Println("  trade slot: not found in logs (ask the indexer)")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parsePrice(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		fmt.Printf("ERROR: bad price %q: %v\n", s, err)
		os.Exit(1)
	}
	return &d
}

func toNative(human string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return nil, fmt.Errorf("bad collateral %q: %w", human, err)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("collateral %s has more than %d decimal places", human, decimals)
	}
	return scaled.BigInt(), nil
}

func resolveOwner(walletFlag, privateKeyHex string) (common.Address, bool) {
	if walletFlag != "" {
		if !common.IsHexAddress(walletFlag) {
			fmt.Printf("ERROR: bad -wallet address %q\n", walletFlag)
			os.Exit(1)
		}
		return common.HexToAddress(walletFlag), true
	}
	if privateKeyHex != "" {
		owner, err := trader.WalletFromKey(privateKeyHex)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		return owner, true
	}
	return common.Address{}, false
}

func queryPositions(indexerURL string, owner common.Address, haveOwner bool) {
	if indexerURL == "" {
		fmt.Println("SKIP: PERPX_INDEXER_URL not configured")
		return
	}
	if !haveOwner {
		fmt.Println("SKIP: need -wallet or PERPX_PRIVATE_KEY to query positions")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	idx := indexer.New(indexerURL)
	list, err := idx.Positions(ctx, owner.Hex())
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return
	}
	fmt.Printf("SUCCESS: %d live positions\n", len(list))
	for _, p := range list {
		fmt.Printf("  %s #%d %s: collateral %s, %dx, entry %s\n",
			p.Pair, p.TradeIndex, p.Direction, p.Collateral, p.Leverage, p.OpenPrice)
	}
}

func reportSubmitError(err error) {
	var revert *trader.RevertError
	var timeout *trader.SubmitTimeoutError

	switch {
	case errors.As(err, &revert):
		fmt.Printf("REVERTED: %s (block %d, tx %s)\n", revert.Reason, revert.Block, revert.TxHash)
		fmt.Println("The fee is spent; the position did not change.")
	case errors.As(err, &timeout):
		fmt.Printf("TIMEOUT: outcome unknown for tx %s\n", timeout.TxHash)
		fmt.Println("Do NOT blindly retry; check the hash before acting again.")
	case errors.Is(err, trader.ErrEncodingRejected), errors.Is(err, trader.ErrUnknownMarket):
		fmt.Printf("REJECTED before submission: %v\n", err)
	default:
		fmt.Printf("ERROR: %v\n", err)
	}
}
