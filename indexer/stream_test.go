package indexer

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// ============================================================
// Indexer Stream Test Suite
// ============================================================

var testUpgrader = websocket.Upgrader{}

type wsFrame struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
}

// newStreamServer upgrades every request and hands the server-side
// connection plus each received frame back to the test.
func newStreamServer(t *testing.T) (string, chan *websocket.Conn, chan wsFrame) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	frames := make(chan wsFrame, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
		for {
			var frame wsFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			frames <- frame
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns, frames
}

func recvConn(t *testing.T, conns chan *websocket.Conn, within time.Duration) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-conns:
		return conn
	case <-time.After(within):
		t.Fatal("timed out waiting for a websocket connection")
		return nil
	}
}

func recvFrame(t *testing.T, frames chan wsFrame, within time.Duration) wsFrame {
	t.Helper()
	select {
	case frame := <-frames:
		return frame
	case <-time.After(within):
		t.Fatal("timed out waiting for a subscribe frame")
		return wsFrame{}
	}
}

func TestStreamClient_SubscribeAndDeliver(t *testing.T) {
	wsURL, conns, frames := newStreamServer(t)

	stream := NewStreamClient(wsURL)
	assert.NoError(t, stream.Connect())
	t.Cleanup(stream.Close)

	// Mixed-casing wallet normalizes into one canonical channel name
	events, err := stream.SubscribeWallet("0xFB6916095CA1DF60BB79CE92CE3EA74C37C5D359", 4)
	assert.NoError(t, err)

	conn := recvConn(t, conns, 2*time.Second)
	frame := recvFrame(t, frames, 2*time.Second)
	assert.Equal(t, "subscribe", frame.Op)
	assert.Equal(t, "trades:0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", frame.Channel)

	err = conn.WriteJSON(map[string]interface{}{
		"channel": frame.Channel,
		"data": TradeEvent{
			Type:       "trade_opened",
			Wallet:     "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
			Pair:       "ETH-USD",
			PairIndex:  1,
			TradeIndex: 2,
			TxHash:     "0xabc",
			Price:      "3400.25",
			Timestamp:  1756000000,
		},
	})
	assert.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "trade_opened", ev.Type)
		assert.Equal(t, "ETH-USD", ev.Pair)
		assert.Equal(t, uint32(2), ev.TradeIndex)
		assert.Equal(t, "3400.25", ev.Price)
		t.Logf("✅ Delivered %s on %s", ev.Type, frame.Channel)
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered to the subscriber")
	}
}

func TestStreamClient_ResubscribesAfterReconnect(t *testing.T) {
	wsURL, conns, frames := newStreamServer(t)

	stream := NewStreamClient(wsURL)
	stream.retryDelay = 50 * time.Millisecond
	assert.NoError(t, stream.Connect())
	t.Cleanup(stream.Close)

	events, err := stream.SubscribeWallet("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", 4)
	assert.NoError(t, err)

	first := recvConn(t, conns, 2*time.Second)
	subscribed := recvFrame(t, frames, 2*time.Second)

	// Server drops the connection; the client must come back on its own
	first.Close()

	second := recvConn(t, conns, 3*time.Second)
	resubscribed := recvFrame(t, frames, 3*time.Second)
	assert.Equal(t, "subscribe", resubscribed.Op)
	assert.Equal(t, subscribed.Channel, resubscribed.Channel)

	// The original subscriber channel survives the reconnect
	err = second.WriteJSON(map[string]interface{}{
		"channel": resubscribed.Channel,
		"data":    TradeEvent{Type: "trade_closed", Pair: "BTC-USD", TradeIndex: 1},
	})
	assert.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, "trade_closed", ev.Type)
		assert.Equal(t, "BTC-USD", ev.Pair)
		t.Logf("✅ Resubscribed and delivered after reconnect")
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered after reconnect")
	}
}

func TestStreamClient_SubscribeWithoutConnection(t *testing.T) {
	stream := NewStreamClient("ws://127.0.0.1:1")

	_, err := stream.SubscribeWallet("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359", 4)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")

	// A subscribe the server never saw leaves no registration behind
	stream.mu.RLock()
	remaining := len(stream.subscribers)
	stream.mu.RUnlock()
	assert.Zero(t, remaining)
}
