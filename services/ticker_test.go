package services

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"market-pulse/models"
	"market-pulse/observability"
)

// fakeStream is a websocket endpoint that records dials and close frames
type fakeStream struct {
	server    *httptest.Server
	onConnect func(conn *websocket.Conn, dial int)

	mu     sync.Mutex
	dials  map[string]int
	closes chan *websocket.CloseError
}

func newFakeStream(t *testing.T, onConnect func(conn *websocket.Conn, dial int)) *fakeStream {
	t.Helper()
	fs := &fakeStream{
		onConnect: onConnect,
		dials:     make(map[string]int),
		closes:    make(chan *websocket.CloseError, 16),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		fs.mu.Lock()
		fs.dials[r.URL.Path]++
		dial := fs.dials[r.URL.Path]
		fs.mu.Unlock()

		if fs.onConnect != nil {
			fs.onConnect(conn, dial)
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if ce, ok := err.(*websocket.CloseError); ok {
					fs.closes <- ce
				}
				return
			}
		}
	}))
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeStream) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

func (fs *fakeStream) dialCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dials[path]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestLiveTicker_StreamURL(t *testing.T) {
	ticker := NewLiveTicker("wss://stream.binance.com:9443/ws/", time.Second, nil)
	if got := ticker.StreamURL("BTC"); got != "wss://stream.binance.com:9443/ws/btcusdt@ticker" {
		t.Errorf("unexpected stream URL: %s", got)
	}
}

func TestLiveTicker_DeliversPrices(t *testing.T) {
	fs := newFakeStream(t, func(conn *websocket.Conn, dial int) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"c":"not-a-number"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"c":"42000.50"}`))
	})

	prices := make(chan decimal.Decimal, 4)
	ticker := NewLiveTicker(fs.wsURL(), time.Second, func(symbol string, price decimal.Decimal) {
		if symbol != "BTC" {
			t.Errorf("expected symbol BTC, got %s", symbol)
		}
		prices <- price
	})
	defer ticker.TeardownAll()

	ticker.Subscribe("btc")

	select {
	case price := <-prices:
		if !price.Equal(decimal.RequireFromString("42000.50")) {
			t.Errorf("expected 42000.50, got %s", price)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for price")
	}

	if state, ok := ticker.State("BTC"); !ok || state != models.ConnectionOpen {
		t.Errorf("expected open connection, got %q (tracked=%v)", state, ok)
	}
	if fs.dialCount("/btcusdt@ticker") != 1 {
		t.Errorf("expected one dial to /btcusdt@ticker, got %d", fs.dialCount("/btcusdt@ticker"))
	}
}

func TestLiveTicker_ReconnectsAfterAbnormalClose(t *testing.T) {
	fs := newFakeStream(t, func(conn *websocket.Conn, dial int) {
		if dial == 1 {
			conn.NetConn().Close()
		}
	})

	ticker := NewLiveTicker(fs.wsURL(), 20*time.Millisecond, nil)
	defer ticker.TeardownAll()

	ticker.Subscribe("ETH")

	if !waitFor(t, 2*time.Second, func() bool { return fs.dialCount("/ethusdt@ticker") == 2 }) {
		t.Fatalf("expected exactly one reconnect, got %d dials", fs.dialCount("/ethusdt@ticker"))
	}
	if !waitFor(t, time.Second, func() bool {
		state, _ := ticker.State("ETH")
		return state == models.ConnectionOpen
	}) {
		t.Error("expected reconnected connection to be open")
	}

	time.Sleep(100 * time.Millisecond)
	if got := fs.dialCount("/ethusdt@ticker"); got != 2 {
		t.Errorf("expected no further reconnects, got %d dials", got)
	}
}

func TestLiveTicker_NormalRemoteCloseDoesNotReconnect(t *testing.T) {
	fs := newFakeStream(t, func(conn *websocket.Conn, dial int) {
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	ticker := NewLiveTicker(fs.wsURL(), 20*time.Millisecond, nil)
	defer ticker.TeardownAll()

	ticker.Subscribe("SOL")

	if !waitFor(t, 2*time.Second, func() bool {
		state, _ := ticker.State("SOL")
		return state == models.ConnectionClosedClean
	}) {
		state, _ := ticker.State("SOL")
		t.Fatalf("expected closed_clean, got %q", state)
	}

	time.Sleep(100 * time.Millisecond)
	if got := fs.dialCount("/solusdt@ticker"); got != 1 {
		t.Errorf("expected no reconnect after normal close, got %d dials", got)
	}
	if ticker.Tracking("SOL") {
		t.Error("expected cleanly closed symbol not to count as tracked")
	}
}

func TestLiveTicker_UnsubscribeSendsTeardown(t *testing.T) {
	fs := newFakeStream(t, nil)

	ticker := NewLiveTicker(fs.wsURL(), time.Second, nil)
	defer ticker.TeardownAll()

	ticker.Subscribe("BTC")
	if !waitFor(t, 2*time.Second, func() bool {
		state, _ := ticker.State("BTC")
		return state == models.ConnectionOpen
	}) {
		t.Fatal("connection never opened")
	}

	ticker.Unsubscribe("BTC")

	select {
	case ce := <-fs.closes:
		if ce.Code != websocket.CloseNormalClosure || ce.Text != "teardown" {
			t.Errorf("expected 1000 teardown, got %d %q", ce.Code, ce.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received a close frame")
	}

	if _, ok := ticker.State("BTC"); ok {
		t.Error("expected symbol to be removed")
	}
}

func TestLiveTicker_ResubscribeReplacesConnection(t *testing.T) {
	fs := newFakeStream(t, nil)

	ticker := NewLiveTicker(fs.wsURL(), time.Second, nil)
	defer ticker.TeardownAll()

	ticker.Subscribe("BTC")
	if !waitFor(t, 2*time.Second, func() bool {
		state, _ := ticker.State("BTC")
		return state == models.ConnectionOpen
	}) {
		t.Fatal("connection never opened")
	}

	ticker.Subscribe("BTC")

	select {
	case ce := <-fs.closes:
		if ce.Code != CloseReplaced || ce.Text != "replaced" {
			t.Errorf("expected 4000 replaced, got %d %q", ce.Code, ce.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("old connection never closed")
	}

	if !waitFor(t, 2*time.Second, func() bool { return fs.dialCount("/btcusdt@ticker") == 2 }) {
		t.Errorf("expected a second dial, got %d", fs.dialCount("/btcusdt@ticker"))
	}
	if symbols := ticker.Symbols(); len(symbols) != 1 {
		t.Errorf("expected one tracked symbol, got %v", symbols)
	}
}

func TestLiveTicker_DialFailureIsRetriedUntilTeardown(t *testing.T) {
	fs := newFakeStream(t, nil)
	url := fs.wsURL()
	fs.server.Close()

	ticker := NewLiveTicker(url, 30*time.Millisecond, nil)
	ticker.Subscribe("ADA")

	if !waitFor(t, 2*time.Second, func() bool {
		state, _ := ticker.State("ADA")
		return state == models.ConnectionClosedError
	}) {
		t.Fatal("expected closed_error after failed dial")
	}
	if !ticker.Tracking("ADA") {
		t.Error("expected errored symbol awaiting reconnect to count as tracked")
	}

	ticker.TeardownAll()
	ticker.TeardownAll()

	time.Sleep(100 * time.Millisecond)
	if symbols := ticker.Symbols(); len(symbols) != 0 {
		t.Errorf("expected no symbols after teardown, got %v", symbols)
	}
}

func TestLiveTicker_TeardownAllClosesEverything(t *testing.T) {
	fs := newFakeStream(t, nil)

	ticker := NewLiveTicker(fs.wsURL(), time.Second, nil)
	ticker.Subscribe("BTC")
	ticker.Subscribe("ETH")

	if !waitFor(t, 2*time.Second, func() bool {
		states := ticker.States()
		return states["BTC"] == models.ConnectionOpen && states["ETH"] == models.ConnectionOpen
	}) {
		t.Fatal("connections never opened")
	}

	ticker.TeardownAll()

	for i := 0; i < 2; i++ {
		select {
		case ce := <-fs.closes:
			if ce.Code != websocket.CloseNormalClosure {
				t.Errorf("expected normal closure, got %d", ce.Code)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("missing close frame")
		}
	}

	if len(ticker.Symbols()) != 0 {
		t.Error("expected empty ticker after teardown")
	}
}

// syncBuffer is a log sink safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLiveTicker_ErrorLogCarriesSymbol(t *testing.T) {
	var logs syncBuffer
	previous := observability.Logger
	observability.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	t.Cleanup(func() { observability.Logger = previous })

	fs := newFakeStream(t, nil)
	url := fs.wsURL()
	fs.server.Close()

	ticker := NewLiveTicker(url, time.Hour, nil)
	t.Cleanup(ticker.TeardownAll)
	ticker.Subscribe("DOT")

	if !waitFor(t, 2*time.Second, func() bool {
		return strings.Contains(logs.String(), "live connection error")
	}) {
		t.Fatal("expected a connection error to be logged")
	}
	if !strings.Contains(logs.String(), "symbol=DOT") {
		t.Errorf("expected error log tagged with the symbol, got %q", logs.String())
	}
}
