package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpx/config"
	"perpx/indexer"
	"perpx/journal"
	"perpx/logger"
	"perpx/trader"
)

const usageText = `perpx - trading client for the diamond perpetuals protocol

Usage:
  perpx <command> [flags]

Commands:
  open        Open a leveraged position
  close       Fully close one trade slot
  protect     Rewrite take-profit / stop-loss on a live trade
  margin      Add collateral to a live trade
  balance     Show the wallet's funding-token balance
  positions   List live positions (via the indexer)
  oi          Show open interest for one market (via the indexer)
  markets     List known markets
  journal     Show the local submission journal
  watch       Stream live trade events for a wallet (via the indexer)

Environment:
  PERPX_PRIVATE_KEY       trading key, hex with or without 0x prefix
  PERPX_NETWORK           network id, default arbitrum
  PERPX_RPC_<NETWORK>     RPC endpoint override, e.g. PERPX_RPC_ARBITRUM
  PERPX_DEPLOYMENTS       YAML file overriding the deployment table
  PERPX_INDEXER_URL       read-side indexing service base URL
  PERPX_JOURNAL_PATH      sqlite path for the submission journal
  PERPX_SUBMIT_TIMEOUT_SEC  inclusion patience window, default 180

Run 'perpx <command> -h' for command flags.
`

func main() {
	// Load environment variables from .env file if present (for local/dev runs)
	// In Docker Compose, variables are injected by the runtime and this is harmless.
	_ = godotenv.Load()

	config.Init()
	cfg := config.Get()
	if err := logger.InitWithSimpleConfig(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	if cfg.HTTPDebug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	if cfg.DeploymentsFile != "" {
		if err := trader.LoadDeployments(cfg.DeploymentsFile); err != nil {
			logger.Fatalf("❌ Failed to load deployments file: %v", err)
		}
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "open":
		err = cmdOpen(cfg, args)
	case "close":
		err = cmdClose(cfg, args)
	case "protect":
		err = cmdProtect(cfg, args)
	case "margin":
		err = cmdMargin(cfg, args)
	case "balance":
		err = cmdBalance(cfg)
	case "positions":
		err = cmdPositions(cfg, args)
	case "oi":
		err = cmdOpenInterest(cfg, args)
	case "markets":
		err = cmdMarkets()
	case "journal":
		err = cmdJournal(cfg, args)
	case "watch":
		err = cmdWatch(cfg, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usageText)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
	}
	runCleanups()
	if err != nil {
		logger.Fatalf("❌ %s failed: %v", cmd, err)
	}
}

// clients holds the connected trading client for each network touched during
// this run, so dispatches never dial the same network twice.
var clients = trader.NewRegistry()

var cleanups []func()

// deferCleanup schedules fn for after command dispatch. logger.Fatalf exits
// the process without unwinding, so these cannot be function defers.
func deferCleanup(fn func()) {
	cleanups = append(cleanups, fn)
}

func runCleanups() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

// selectNetwork resolves the configured network and applies any RPC
// endpoint override from the environment.
func selectNetwork(cfg *config.Config) (trader.NetworkConfig, error) {
	network, err := trader.GetNetwork(cfg.Network)
	if err != nil {
		return trader.NetworkConfig{}, err
	}
	if rpc := cfg.RPCOverrides[network.ID]; rpc != "" {
		network.RPCEndpoint = rpc
		logger.Infof("Using RPC override for %s: %s", network.ID, rpc)
	}
	return network, nil
}

// connect returns the network's trading client, wiring it on first use: RPC
// node, signing submitter, and the submission journal when one is configured.
// The client stays registered for the rest of the run.
func connect(ctx context.Context, cfg *config.Config) (*trader.Client, error) {
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("PERPX_PRIVATE_KEY is not set")
	}
	network, err := selectNetwork(cfg)
	if err != nil {
		return nil, err
	}
	if client, err := clients.Get(network.ID); err == nil {
		return client, nil
	}

	client, err := trader.Connect(ctx, network, cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	client.SetIndexerURL(cfg.IndexerURL)

	if cs, ok := client.Submitter().(*trader.ChainSubmitter); ok {
		cs.SetTimeout(cfg.SubmitTimeout)
		if cfg.JournalPath != "" {
			j, jerr := journal.Open(cfg.JournalPath)
			if jerr != nil {
				logger.Warnf("⚠️ Journal disabled: %v", jerr)
			} else {
				cs.SetRecorder(j)
				deferCleanup(func() { j.Close() })
			}
		}
	}

	clients.Register(network.ID, client)
	return client, nil
}

func resolveWallet(cfg *config.Config, flagWallet string) (string, error) {
	if flagWallet != "" {
		if !common.IsHexAddress(flagWallet) {
			return "", fmt.Errorf("invalid wallet address %q", flagWallet)
		}
		return flagWallet, nil
	}
	if cfg.PrivateKeyHex != "" {
		addr, err := trader.WalletFromKey(cfg.PrivateKeyHex)
		if err != nil {
			return "", err
		}
		return addr.Hex(), nil
	}
	return "", fmt.Errorf("no wallet: set PERPX_PRIVATE_KEY or pass -wallet")
}

func priceFlag(name, v string) (*decimal.Decimal, error) {
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, fmt.Errorf("invalid -%s value %q", name, v)
	}
	return &d, nil
}

func printReceipt(r *trader.TradeReceipt) {
	fmt.Printf("%s confirmed\n", r.Op)
	fmt.Printf("  tx:       %s\n", r.TxHash)
	fmt.Printf("  block:    %d\n", r.Block)
	fmt.Printf("  gas used: %d\n", r.GasUsed)
}

func cmdOpen(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	symbol := fs.String("symbol", "", "market symbol, e.g. BTC-USD")
	collateral := fs.String("collateral", "", "collateral in funding-token units, e.g. 100")
	leverage := fs.Int("leverage", 0, "leverage multiplier")
	short := fs.Bool("short", false, "open short instead of long")
	price := fs.String("price", "", "target entry price, empty = market")
	tp := fs.String("tp", "", "take-profit price, empty = none")
	sl := fs.String("sl", "", "stop-loss price, empty = none")
	slippage := fs.Int("slippage", 0, "max slippage in bps, 0 = default")
	referrer := fs.String("referrer", "", "referrer address")
	fs.Parse(args)

	if *symbol == "" || *collateral == "" || *leverage == 0 {
		return fmt.Errorf("-symbol, -collateral and -leverage are required")
	}

	req := trader.OpenTradeRequest{
		Symbol:         *symbol,
		Collateral:     *collateral,
		Leverage:       *leverage,
		Long:           !*short,
		SlippageBps:    *slippage,
		WantTradeIndex: true,
	}
	var err error
	if req.OpenPrice, err = priceFlag("price", *price); err != nil {
		return err
	}
	if req.TakeProfit, err = priceFlag("tp", *tp); err != nil {
		return err
	}
	if req.StopLoss, err = priceFlag("sl", *sl); err != nil {
		return err
	}
	if *referrer != "" {
		if !common.IsHexAddress(*referrer) {
			return fmt.Errorf("invalid referrer address %q", *referrer)
		}
		req.Referrer = common.HexToAddress(*referrer)
	}

	ctx := context.Background()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	receipt, err := client.OpenTrade(ctx, req)
	if err != nil {
		return err
	}
	printReceipt(receipt)
	if receipt.HasTradeIndex {
		fmt.Printf("  trade:    #%d\n", receipt.TradeIndex)
	}
	return nil
}

func cmdClose(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("close", flag.ExitOnError)
	symbol := fs.String("symbol", "", "market symbol, e.g. BTC-USD")
	index := fs.Int("index", -1, "trade slot index")
	fs.Parse(args)

	if *symbol == "" || *index < 0 {
		return fmt.Errorf("-symbol and -index are required")
	}

	ctx := context.Background()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	receipt, err := client.CloseTrade(ctx, trader.CloseTradeRequest{
		Symbol:     *symbol,
		TradeIndex: uint32(*index),
	})
	if err != nil {
		return err
	}
	printReceipt(receipt)
	return nil
}

func cmdProtect(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("protect", flag.ExitOnError)
	symbol := fs.String("symbol", "", "market symbol, e.g. BTC-USD")
	index := fs.Int("index", -1, "trade slot index")
	tp := fs.String("tp", "", "take-profit price, empty = remove")
	sl := fs.String("sl", "", "stop-loss price, empty = remove")
	fs.Parse(args)

	if *symbol == "" || *index < 0 {
		return fmt.Errorf("-symbol and -index are required")
	}

	req := trader.UpdateProtectionRequest{
		Symbol:     *symbol,
		TradeIndex: uint32(*index),
	}
	var err error
	if req.TakeProfit, err = priceFlag("tp", *tp); err != nil {
		return err
	}
	if req.StopLoss, err = priceFlag("sl", *sl); err != nil {
		return err
	}

	ctx := context.Background()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	receipt, err := client.UpdateProtection(ctx, req)
	if err != nil {
		return err
	}
	printReceipt(receipt)
	return nil
}

func cmdMargin(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("margin", flag.ExitOnError)
	symbol := fs.String("symbol", "", "market symbol, e.g. BTC-USD")
	index := fs.Int("index", -1, "trade slot index")
	amount := fs.String("amount", "", "collateral to add, in funding-token units")
	fs.Parse(args)

	if *symbol == "" || *index < 0 || *amount == "" {
		return fmt.Errorf("-symbol, -index and -amount are required")
	}

	ctx := context.Background()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	receipt, err := client.AddMargin(ctx, trader.AddMarginRequest{
		Symbol:     *symbol,
		TradeIndex: uint32(*index),
		Amount:     *amount,
	})
	if err != nil {
		return err
	}
	printReceipt(receipt)
	return nil
}

func cmdBalance(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}

	balance, err := client.Balance(ctx)
	if err != nil {
		return err
	}
	symbol, err := client.Adapter().Symbol(ctx)
	if err != nil {
		symbol = ""
	}
	fmt.Printf("Balance: %s %s\n", balance, symbol)
	return nil
}

func cmdPositions(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("positions", flag.ExitOnError)
	wallet := fs.String("wallet", "", "wallet to query, default the configured key's")
	fs.Parse(args)

	if cfg.IndexerURL == "" {
		return fmt.Errorf("PERPX_INDEXER_URL is not set")
	}
	owner, err := resolveWallet(cfg, *wallet)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := indexer.New(cfg.IndexerURL).Positions(ctx, owner)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("No open positions")
		return nil
	}
	for _, p := range positions {
		fmt.Printf("%-10s #%-3d %-5s collateral %s, %dx, entry %s, liq %s, pnl %s\n",
			p.Pair, p.TradeIndex, p.Direction, p.Collateral, p.Leverage,
			p.OpenPrice, p.LiquidationPrice, p.UnrealizedPnl)
	}
	return nil
}

func cmdOpenInterest(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("oi", flag.ExitOnError)
	symbol := fs.String("symbol", "", "market symbol, e.g. BTC-USD")
	fs.Parse(args)

	if *symbol == "" {
		return fmt.Errorf("-symbol is required")
	}
	if cfg.IndexerURL == "" {
		return fmt.Errorf("PERPX_INDEXER_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	oi, err := indexer.New(cfg.IndexerURL).OpenInterest(ctx, *symbol)
	if err != nil {
		return err
	}
	fmt.Printf("%s open interest\n", oi.Pair)
	fmt.Printf("  long:  %s\n", oi.Long)
	fmt.Printf("  short: %s\n", oi.Short)
	fmt.Printf("  max:   %s\n", oi.Max)
	return nil
}

func cmdMarkets() error {
	for _, m := range trader.KnownMarkets() {
		fmt.Println(m)
	}
	return nil
}

func cmdJournal(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	limit := fs.Int("limit", 20, "max entries to show")
	unresolved := fs.Bool("unresolved", false, "only submissions without an observed outcome")
	fs.Parse(args)

	if cfg.JournalPath == "" {
		return fmt.Errorf("PERPX_JOURNAL_PATH is not set")
	}
	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return err
	}
	defer j.Close()

	var entries []*journal.Entry
	if *unresolved {
		entries, err = j.Unresolved(cfg.Network)
	} else {
		entries, err = j.Recent(cfg.Network, *limit)
	}
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s %-9s %s",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.Op, e.Status, e.TxHash)
		if e.Block > 0 {
			line += fmt.Sprintf(" (block %d)", e.Block)
		}
		if e.Detail != "" {
			line += "  " + e.Detail
		}
		fmt.Println(line)
	}
	return nil
}

// streamURL derives the websocket feed endpoint from the indexer base URL.
func streamURL(indexerURL string) string {
	u := indexerURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v1/stream"
}

func cmdWatch(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	wallet := fs.String("wallet", "", "wallet to watch, default the configured key's")
	fs.Parse(args)

	if cfg.IndexerURL == "" {
		return fmt.Errorf("PERPX_INDEXER_URL is not set")
	}
	owner, err := resolveWallet(cfg, *wallet)
	if err != nil {
		return err
	}

	stream := indexer.NewStreamClient(streamURL(cfg.IndexerURL))
	if err := stream.Connect(); err != nil {
		return err
	}
	defer stream.Close()

	events, err := stream.SubscribeWallet(owner, 64)
	if err != nil {
		return err
	}

	logger.Infof("Watching trade events for %s", trader.ToChecksumAddress(owner))
	logger.Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev := <-events:
			ts := time.Unix(ev.Timestamp, 0).Format("15:04:05")
			fmt.Printf("[%s] %-12s %s #%d price %s tx %s\n",
				ts, ev.Type, ev.Pair, ev.TradeIndex, ev.Price, ev.TxHash)
		case <-sigChan:
			logger.Info("📛 Shutting down stream...")
			return nil
		}
	}
}
