package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"market-pulse/models"
	"market-pulse/observability"
)

const (
	// CloseReplaced is sent when a subscription is superseded by a new one
	CloseReplaced = 4000

	closeWriteWait = time.Second
	tickerReadSize = 64 * 1024
)

// PriceSink receives every parsed live price
type PriceSink func(symbol string, price decimal.Decimal)

// LiveTracker is the subscription surface the crypto feed drives
type LiveTracker interface {
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	Tracking(symbol string) bool
}

// LiveTicker keeps at most one streaming connection per symbol. A connection
// that fails is reopened once after the backoff; a connection closed on
// purpose is never reopened.
type LiveTicker struct {
	baseURL string
	backoff time.Duration
	sink    PriceSink
	dialer  *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*liveConn
}

type liveConn struct {
	symbol string
	url    string
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	state   models.ConnectionState
	conn    *websocket.Conn
	timer   *time.Timer
	stopped bool
}

type tickerMessage struct {
	LastPrice string `json:"c"`
}

// NewLiveTicker creates a ticker streaming from baseURL
func NewLiveTicker(baseURL string, backoff time.Duration, sink PriceSink) *LiveTicker {
	return &LiveTicker{
		baseURL: strings.TrimRight(baseURL, "/"),
		backoff: backoff,
		sink:    sink,
		dialer:  &websocket.Dialer{Proxy: http.ProxyFromEnvironment},
		conns:   make(map[string]*liveConn),
	}
}

// StreamURL returns the ticker stream address for symbol
func (t *LiveTicker) StreamURL(symbol string) string {
	return t.baseURL + "/" + strings.ToLower(symbol) + "usdt@ticker"
}

// Subscribe opens a live connection for symbol, replacing any existing one
func (t *LiveTicker) Subscribe(symbol string) {
	symbol = strings.ToUpper(symbol)
	lc := t.newConn(symbol)

	t.mu.Lock()
	old := t.conns[symbol]
	t.conns[symbol] = lc
	t.mu.Unlock()

	if old != nil {
		old.close(CloseReplaced, "replaced")
	}

	go t.run(lc)
}

// Unsubscribe closes the connection for symbol and cancels any pending reconnect
func (t *LiveTicker) Unsubscribe(symbol string) {
	symbol = strings.ToUpper(symbol)

	t.mu.Lock()
	lc := t.conns[symbol]
	delete(t.conns, symbol)
	t.mu.Unlock()

	if lc != nil {
		lc.close(websocket.CloseNormalClosure, "teardown")
		observability.GetMetrics().RemoveLiveConnection(symbol)
	}
}

// TeardownAll closes every connection. It is safe to call more than once.
func (t *LiveTicker) TeardownAll() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*liveConn)
	t.mu.Unlock()

	metrics := observability.GetMetrics()
	for symbol, lc := range conns {
		lc.close(websocket.CloseNormalClosure, "teardown")
		metrics.RemoveLiveConnection(symbol)
	}
	if len(conns) > 0 {
		observability.Info("live ticker torn down", "connections", len(conns))
	}
}

// State returns the connection state for symbol
func (t *LiveTicker) State(symbol string) (models.ConnectionState, bool) {
	t.mu.Lock()
	lc, ok := t.conns[strings.ToUpper(symbol)]
	t.mu.Unlock()

	if !ok {
		return "", false
	}
	return lc.currentState(), true
}

// Tracking reports whether symbol has a connection that is open, opening or
// waiting to reconnect
func (t *LiveTicker) Tracking(symbol string) bool {
	state, ok := t.State(symbol)
	return ok && state != models.ConnectionClosedClean
}

// Symbols returns the tracked symbols in sorted order
func (t *LiveTicker) Symbols() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	symbols := make([]string, 0, len(t.conns))
	for symbol := range t.conns {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// States returns a snapshot of every tracked connection state
func (t *LiveTicker) States() map[string]models.ConnectionState {
	t.mu.Lock()
	conns := make(map[string]*liveConn, len(t.conns))
	for symbol, lc := range t.conns {
		conns[symbol] = lc
	}
	t.mu.Unlock()

	states := make(map[string]models.ConnectionState, len(conns))
	for symbol, lc := range conns {
		states[symbol] = lc.currentState()
	}
	return states
}

func (t *LiveTicker) newConn(symbol string) *liveConn {
	ctx, cancel := context.WithCancel(context.Background())
	lc := &liveConn{
		symbol: symbol,
		url:    t.StreamURL(symbol),
		ctx:    ctx,
		cancel: cancel,
		state:  models.ConnectionConnecting,
	}
	observability.GetMetrics().SetLiveConnectionState(symbol, lc.state.Gauge())
	return lc
}

func (t *LiveTicker) run(lc *liveConn) {
	conn, _, err := t.dialer.DialContext(lc.ctx, lc.url, nil)
	if err != nil {
		t.fail(lc, err)
		return
	}

	defer conn.Close()
	if !lc.opened(conn) {
		return
	}
	log := observability.WithSymbol(lc.symbol)
	log.Debug("live connection open", "url", lc.url)

	conn.SetReadLimit(tickerReadSize)
	metrics := observability.GetMetrics()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				if lc.setState(models.ConnectionClosedClean) {
					log.Info("live connection closed by remote")
				}
				return
			}
			t.fail(lc, err)
			return
		}

		var msg tickerMessage
		if err := json.Unmarshal(message, &msg); err != nil || msg.LastPrice == "" {
			log.Debug("skipping live message without price")
			continue
		}
		price, err := decimal.NewFromString(msg.LastPrice)
		if err != nil {
			log.Debug("skipping live message with invalid price", "price", msg.LastPrice)
			continue
		}

		metrics.RecordLiveTick(lc.symbol)
		if t.sink != nil {
			t.sink(lc.symbol, price)
		}
	}
}

// fail marks lc as errored and schedules its single reconnect
func (t *LiveTicker) fail(lc *liveConn, err error) {
	lc.mu.Lock()
	if lc.stopped {
		lc.mu.Unlock()
		return
	}
	previous := lc.state
	lc.state = models.ConnectionClosedError
	if lc.timer == nil {
		lc.timer = time.AfterFunc(t.backoff, func() { t.reconnect(lc) })
	}
	lc.mu.Unlock()

	observability.WithSymbol(lc.symbol).Warn("live connection error",
		"time", time.Now().UTC(),
		"state", previous,
		"url", lc.url,
		"error", err)

	metrics := observability.GetMetrics()
	metrics.SetLiveConnectionState(lc.symbol, models.ConnectionClosedError.Gauge())
	metrics.RecordLiveReconnect(lc.symbol)
}

// reconnect replaces lc with a fresh connection unless it was superseded or removed
func (t *LiveTicker) reconnect(lc *liveConn) {
	if lc.isStopped() {
		return
	}

	next := t.newConn(lc.symbol)

	t.mu.Lock()
	if t.conns[lc.symbol] != lc {
		t.mu.Unlock()
		next.cancel()
		return
	}
	t.conns[lc.symbol] = next
	t.mu.Unlock()

	lc.mu.Lock()
	lc.stopped = true
	lc.mu.Unlock()
	lc.cancel()

	observability.WithSymbol(lc.symbol).Info("reconnecting live connection", "url", next.url)
	t.run(next)
}

func (lc *liveConn) opened(conn *websocket.Conn) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.stopped {
		return false
	}
	lc.conn = conn
	lc.state = models.ConnectionOpen
	observability.GetMetrics().SetLiveConnectionState(lc.symbol, lc.state.Gauge())
	return true
}

// setState updates the state of a connection that is still live
func (lc *liveConn) setState(state models.ConnectionState) bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.stopped {
		return false
	}
	lc.state = state
	observability.GetMetrics().SetLiveConnectionState(lc.symbol, state.Gauge())
	return true
}

func (lc *liveConn) currentState() models.ConnectionState {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

func (lc *liveConn) isStopped() bool {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.stopped
}

// close sends a close frame with code and reason and releases the connection
func (lc *liveConn) close(code int, reason string) {
	lc.mu.Lock()
	if lc.stopped {
		lc.mu.Unlock()
		return
	}
	lc.stopped = true
	lc.state = models.ConnectionClosedClean
	if lc.timer != nil {
		lc.timer.Stop()
	}
	conn := lc.conn
	lc.mu.Unlock()

	lc.cancel()
	if conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait)); err != nil &&
		!errors.Is(err, websocket.ErrCloseSent) {
		observability.WithSymbol(lc.symbol).Debug("close frame not delivered", "error", err)
	}
	conn.Close()
}
