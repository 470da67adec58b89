package indexer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perpx/logger"
	"perpx/trader"
)

// TradeEvent is one lifecycle event pushed by the indexer stream.
type TradeEvent struct {
	Type       string `json:"type"`
	Wallet     string `json:"wallet"`
	Pair       string `json:"pair"`
	PairIndex  int    `json:"pair_index"`
	TradeIndex uint32 `json:"trade_index"`
	TxHash     string `json:"tx_hash"`
	Price      string `json:"price"`
	Timestamp  int64  `json:"timestamp"`
}

// StreamClient subscribes to the indexer's websocket feed for live trade
// events, one channel per subscribed wallet.
type StreamClient struct {
	url         string
	conn        *websocket.Conn
	mu          sync.RWMutex
	subscribers map[string]chan TradeEvent
	reconnect   bool
	retryDelay  time.Duration
	done        chan struct{}
}

func NewStreamClient(wsURL string) *StreamClient {
	return &StreamClient{
		url:         wsURL,
		subscribers: make(map[string]chan TradeEvent),
		reconnect:   true,
		retryDelay:  3 * time.Second,
		done:        make(chan struct{}),
	}
}

func (s *StreamClient) Connect() error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("indexer stream connection failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	channels := make([]string, 0, len(s.subscribers))
	for ch := range s.subscribers {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	logger.Infof("✓ Indexer stream connected: %s", s.url)

	// Re-issue subscriptions that predate a reconnect
	for _, ch := range channels {
		if err := s.sendSubscribe(ch); err != nil {
			logger.Warnf("⚠️ Failed to resubscribe %s: %v", ch, err)
		}
	}

	go s.readMessages()
	return nil
}

// SubscribeWallet registers for the wallet's trade events. The returned
// channel drops events when the consumer falls behind.
func (s *StreamClient) SubscribeWallet(wallet string, bufferSize int) (<-chan TradeEvent, error) {
	channel := "trades:" + strings.ToLower(trader.ToChecksumAddress(wallet))

	ch := make(chan TradeEvent, bufferSize)
	s.mu.Lock()
	s.subscribers[channel] = ch
	s.mu.Unlock()

	if err := s.sendSubscribe(channel); err != nil {
		// Registration must not outlive a subscribe the server never saw
		s.mu.Lock()
		delete(s.subscribers, channel)
		s.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (s *StreamClient) sendSubscribe(channel string) error {
	msg := map[string]interface{}{
		"op":      "subscribe",
		"channel": channel,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return fmt.Errorf("stream not connected")
	}
	return s.conn.WriteJSON(msg)
}

func (s *StreamClient) readMessages() {
	for {
		select {
		case <-s.done:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()

			if conn == nil {
				time.Sleep(1 * time.Second)
				continue
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				logger.Warnf("⚠️ Failed to read stream message: %v", err)
				s.handleReconnect()
				return
			}

			s.handleMessage(message)
		}
	}
}

func (s *StreamClient) handleMessage(message []byte) {
	var envelope struct {
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		logger.Warnf("⚠️ Failed to parse stream message: %v", err)
		return
	}
	if envelope.Channel == "" {
		return
	}

	var event TradeEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		logger.Warnf("⚠️ Failed to parse trade event: %v", err)
		return
	}

	s.mu.RLock()
	ch, exists := s.subscribers[envelope.Channel]
	s.mu.RUnlock()

	if exists {
		select {
		case ch <- event:
		default:
			logger.Warnf("⚠️ Subscriber channel full, dropping event: %s", envelope.Channel)
		}
	}
}

func (s *StreamClient) handleReconnect() {
	s.mu.RLock()
	again := s.reconnect
	delay := s.retryDelay
	s.mu.RUnlock()
	if !again {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	logger.Infof("🔄 Indexer stream reconnecting...")
	time.Sleep(delay)

	if err := s.Connect(); err != nil {
		logger.Errorf("❌ Stream reconnect failed: %v", err)
		go func() {
			time.Sleep(delay)
			s.handleReconnect()
		}()
	}
}

// Close stops the reader and closes the connection.
func (s *StreamClient) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reconnect = false
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
