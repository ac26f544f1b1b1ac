package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/config"
)

var upgrader = websocket.Upgrader{}

// startBroker runs a websocket endpoint whose handler receives every
// accepted connection. The handler is expected to read so control frames
// are processed.
func startBroker(t *testing.T, handler func(ws *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testBrokerConfig(url string) config.BrokerConfig {
	return config.BrokerConfig{
		URL:               url,
		HandshakeTimeout:  time.Second,
		HeartbeatInterval: 100 * time.Millisecond,
		Reconnect: config.ReconnectConfig{
			Interval: 20 * time.Millisecond,
		},
	}
}

// drain reads until the connection dies so pings are answered with pongs.
func drain(ws *websocket.Conn) {
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnectAndReceiveFramesInOrder(t *testing.T) {
	_, url := startBroker(t, func(ws *websocket.Conn) {
		for i := 0; i < 3; i++ {
			msg := map[string]interface{}{
				"topic": "/topic/orders",
				"body":  map[string]interface{}{"orderRef": string(rune('1' + i))},
			}
			if err := ws.WriteJSON(msg); err != nil {
				return
			}
		}
		drain(ws)
	})

	conn := NewConn(testBrokerConfig(url))
	defer conn.Disconnect()

	frames := make(chan []byte, 8)
	conn.OnFrame(func(raw []byte) { frames <- raw })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if conn.State() != StateConnected {
		t.Fatalf("expected Connected, got %v", conn.State())
	}

	var refs []string
	for i := 0; i < 3; i++ {
		select {
		case raw := <-frames:
			var frame struct {
				Body struct {
					OrderRef string `json:"orderRef"`
				} `json:"body"`
			}
			if err := json.Unmarshal(raw, &frame); err != nil {
				t.Fatalf("frame decode: %v", err)
			}
			refs = append(refs, frame.Body.OrderRef)
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
	if refs[0] != "1" || refs[1] != "2" || refs[2] != "3" {
		t.Errorf("frames out of order: %v", refs)
	}
}

func TestConnectFailureReturnsConnectionError(t *testing.T) {
	srv, url := startBroker(t, drain)
	srv.Close()

	cfg := testBrokerConfig(url)
	cfg.Reconnect.MaxAttempts = 1
	conn := NewConn(cfg)
	defer conn.Disconnect()

	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatal("expected an error from a dead endpoint")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T", err)
	}
	if connErr.URL != url {
		t.Errorf("error should carry the endpoint, got %q", connErr.URL)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	conn := NewConn(testBrokerConfig("ws://127.0.0.1:0"))

	if err := conn.Send("/app/order", json.RawMessage(`{}`)); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send: expected ErrNotConnected, got %v", err)
	}
	if err := conn.SendSubscribe("/topic/orders", "sub-1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendSubscribe: expected ErrNotConnected, got %v", err)
	}
}

func TestDisconnectIsIdempotentAndTerminal(t *testing.T) {
	_, url := startBroker(t, drain)

	conn := NewConn(testBrokerConfig(url))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	conn.Disconnect()
	conn.Disconnect()

	if conn.State() != StateClosed {
		t.Fatalf("expected Closed, got %v", conn.State())
	}
	if err := conn.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect after Disconnect: expected ErrClosed, got %v", err)
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	var sessions int32
	_, url := startBroker(t, func(ws *websocket.Conn) {
		n := atomic.AddInt32(&sessions, 1)
		if n == 1 {
			// First session dies immediately.
			ws.Close()
			return
		}
		drain(ws)
	})

	conn := NewConn(testBrokerConfig(url))
	defer conn.Disconnect()

	connected := make(chan struct{}, 4)
	conn.OnConnected(func() { connected <- struct{}{} })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("connected signal %d never fired", i+1)
		}
	}
	if got := atomic.LoadInt32(&sessions); got < 2 {
		t.Fatalf("expected a second session, got %d", got)
	}
}

func TestReconnectStateSequence(t *testing.T) {
	// Reject the first three connection attempts, accept the fourth.
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 3 {
			http.Error(w, "not yet", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		drain(ws)
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn := NewConn(testBrokerConfig(url))
	defer conn.Disconnect()

	var mu sync.Mutex
	var states []State
	done := make(chan struct{})
	conn.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
		if s == StateConnected {
			close(done)
		}
	})

	replays := make(chan struct{}, 4)
	conn.OnConnected(func() { replays <- struct{}{} })

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected the first attempt to fail")
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("never reached Connected")
	}

	select {
	case <-replays:
	case <-time.After(time.Second):
		t.Fatal("connected signal never fired")
	}
	select {
	case <-replays:
		t.Fatal("connected signal fired more than once for a single session")
	case <-time.After(100 * time.Millisecond):
	}

	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()

	want := []State{StateConnecting, StateReconnecting, StateReconnecting, StateReconnecting, StateConnected}
	if len(got) != len(want) {
		t.Fatalf("state sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence %v, want %v", got, want)
		}
	}
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	srv, url := startBroker(t, drain)
	srv.Close()

	cfg := testBrokerConfig(url)
	cfg.Reconnect.MaxAttempts = 2
	conn := NewConn(cfg)
	defer conn.Disconnect()

	gaveUp := make(chan struct{})
	var once sync.Once
	conn.OnStateChange(func(s State) {
		if s == StateDisconnected {
			once.Do(func() { close(gaveUp) })
		}
	})

	if err := conn.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect loop never gave up")
	}
	if conn.State() != StateDisconnected {
		t.Errorf("expected Disconnected after exhausting attempts, got %v", conn.State())
	}
}

func TestSubscribeFrameOnWire(t *testing.T) {
	received := make(chan wireFrame, 1)
	_, url := startBroker(t, func(ws *websocket.Conn) {
		var f wireFrame
		if err := ws.ReadJSON(&f); err == nil {
			received <- f
		}
		drain(ws)
	})

	conn := NewConn(testBrokerConfig(url))
	defer conn.Disconnect()

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := conn.SendSubscribe("/topic/orders", "sub-1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	select {
	case f := <-received:
		if f.Op != "subscribe" || f.Topic != "/topic/orders" || f.ID != "sub-1" {
			t.Errorf("unexpected wire frame: %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe frame never arrived")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateClosed:       "closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
