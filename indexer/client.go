// Package indexer consumes the protocol's external indexing service, the
// authoritative read side for positions, open interest and trade history.
// The on-chain client owns none of this; everything here is plain REST
// plus a websocket stream.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"perpx/hook"
	"perpx/logger"
	"perpx/trader"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	retryDelay     = 2 * time.Second
)

// Position is one live trade as the indexer reports it. Amounts and prices
// are decimal strings; the indexer owns their formatting.
type Position struct {
	Trader           string `json:"trader"`
	Pair             string `json:"pair"`
	PairIndex        int    `json:"pair_index"`
	TradeIndex       uint32 `json:"trade_index"`
	Direction        string `json:"direction"`
	Collateral       string `json:"collateral"`
	Leverage         int    `json:"leverage"`
	Notional         string `json:"notional"`
	OpenPrice        string `json:"open_price"`
	TakeProfit       string `json:"take_profit"`
	StopLoss         string `json:"stop_loss"`
	LiquidationPrice string `json:"liquidation_price"`
	UnrealizedPnl    string `json:"unrealized_pnl"`
	OpenedAt         int64  `json:"opened_at"`
}

// OpenInterest is the per-market long/short exposure snapshot.
type OpenInterest struct {
	Pair      string `json:"pair"`
	PairIndex int    `json:"pair_index"`
	Long      string `json:"long"`
	Short     string `json:"short"`
	Max       string `json:"max"`
}

type apiResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

// Client queries the indexer's REST API with bounded retries.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: hook.WrapClient(&http.Client{
			Timeout: defaultTimeout,
		}),
	}
}

// Positions lists the wallet's live trades across all markets.
func (c *Client) Positions(ctx context.Context, wallet string) ([]Position, error) {
	q := url.Values{}
	q.Set("wallet", trader.ToChecksumAddress(wallet))

	raw, err := c.getJSON(ctx, "/api/v1/positions", q)
	if err != nil {
		return nil, err
	}
	var out []Position
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse positions response: %w", err)
	}
	return out, nil
}

// OpenInterest reads the current exposure snapshot for one market.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (*OpenInterest, error) {
	pairIndex, err := trader.ResolvePair(symbol)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("pair_index", fmt.Sprintf("%d", pairIndex))

	raw, err := c.getJSON(ctx, "/api/v1/open-interest", q)
	if err != nil {
		return nil, err
	}
	var out OpenInterest
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse open interest response: %w", err)
	}
	return &out, nil
}

// Trade fetches one trade slot of a wallet.
func (c *Client) Trade(ctx context.Context, wallet string, pairIndex uint16, tradeIndex uint32) (*Position, error) {
	q := url.Values{}
	q.Set("wallet", trader.ToChecksumAddress(wallet))
	q.Set("pair_index", fmt.Sprintf("%d", pairIndex))
	q.Set("trade_index", fmt.Sprintf("%d", tradeIndex))

	raw, err := c.getJSON(ctx, "/api/v1/trade", q)
	if err != nil {
		return nil, err
	}
	var out Position
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse trade response: %w", err)
	}
	return &out, nil
}

// getJSON fetches one endpoint with retries and unwraps the response
// envelope.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("indexer URL not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			logger.Warnf("⚠️ Retry attempt %d of %d for %s...", attempt, maxRetries, path)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		raw, err := c.fetch(ctx, path, query)
		if err == nil {
			if attempt > 1 {
				logger.Infof("✓ Retry attempt %d succeeded", attempt)
			}
			return raw, nil
		}
		lastErr = err
		logger.Errorf("❌ Indexer request attempt %d failed: %v", attempt, err)
	}
	return nil, fmt.Errorf("all indexer requests failed: %w", lastErr)
}

func (c *Client) fetch(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to request indexer: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer returned error (status %d): %s", resp.StatusCode, string(body))
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("JSON parsing failed: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("indexer returned failure: %s", envelope.Error)
	}
	return envelope.Data, nil
}
