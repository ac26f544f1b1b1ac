package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tradeflow/config"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.RestConfig{
		BaseURL:           srv.URL,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 100,
		BurstSize:         100,
	})
}

func envelope(success bool, message string, data interface{}) []byte {
	raw, _ := json.Marshal(map[string]interface{}{
		"success": success,
		"message": message,
		"data":    data,
	})
	return raw
}

func TestTradingLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/trading/login" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.Header.Get("X-Request-Id") == "" {
			t.Error("missing request id header")
		}
		w.Write(envelope(true, "", map[string]string{
			"token":  "tok-1",
			"userId": "u-100",
		}))
	}))
	defer srv.Close()

	result, err := newTestClient(srv).TradingLogin(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token != "tok-1" || result.UserID != "u-100" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestEnvelopeFailureBecomesRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// HTTP 200 with success=false still fails.
		w.Write(envelope(false, "资金不足", nil))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PlaceOrder(context.Background(), OrderRequest{InstrumentID: "rb2405"})
	if err == nil {
		t.Fatal("expected an error")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T", err)
	}
	if reqErr.Message != "资金不足" {
		t.Errorf("unexpected message %q", reqErr.Message)
	}
	if reqErr.Status != http.StatusOK {
		t.Errorf("unexpected status %d", reqErr.Status)
	}
}

func TestEnvelopeFailureWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write(envelope(false, "", nil))
	}))
	defer srv.Close()

	err := newTestClient(srv).TradingStatus(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %v", err)
	}
	if reqErr.Status != http.StatusInternalServerError {
		t.Errorf("unexpected status %d", reqErr.Status)
	}
	if reqErr.Message == "" {
		t.Error("expected a synthesized message")
	}
}

func TestBearerTokenAttached(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write(envelope(true, "", nil))
	}))
	defer srv.Close()

	client := newTestClient(srv)
	client.SetTokenSource(func() string { return "tok-9" })

	if err := client.TradingStatus(context.Background()); err != nil {
		t.Fatalf("status: %v", err)
	}
	if auth != "Bearer tok-9" {
		t.Errorf("unexpected Authorization header %q", auth)
	}
}

func TestPlaceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req OrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode order request: %v", err)
		}
		if req.InstrumentID != "rb2405" || req.Direction != "0" || req.Volume != 2 {
			t.Errorf("unexpected order request: %+v", req)
		}
		w.Write(envelope(true, "", map[string]string{"orderRef": "42"}))
	}))
	defer srv.Close()

	ref, err := newTestClient(srv).PlaceOrder(context.Background(), OrderRequest{
		InstrumentID: "rb2405",
		Direction:    "0",
		OffsetFlag:   "0",
		Price:        3700,
		Volume:       2,
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if ref != "42" {
		t.Errorf("unexpected order ref %q", ref)
	}
}

func TestOrdersQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("instrumentId"); got != "rb2405" {
			t.Errorf("unexpected instrument filter %q", got)
		}
		w.Write(envelope(true, "", []map[string]interface{}{
			{"id": "1", "symbol": "rb2405"},
			{"id": "2", "symbol": "rb2405"},
		}))
	}))
	defer srv.Close()

	orders, err := newTestClient(srv).Orders(context.Background(), "rb2405")
	if err != nil {
		t.Fatalf("orders: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "1" {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestMarketSubscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/market/subscribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Instruments []string `json:"instruments"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode subscribe request: %v", err)
		}
		if len(req.Instruments) != 2 || req.Instruments[0] != "rb2405" {
			t.Errorf("unexpected instruments: %v", req.Instruments)
		}
		w.Write(envelope(true, "", nil))
	}))
	defer srv.Close()

	if err := newTestClient(srv).MarketSubscribe(context.Background(), []string{"rb2405", "ag2406"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
}

func TestMalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	if err := newTestClient(srv).Health(context.Background()); err == nil {
		t.Fatal("expected a decode error for a non-JSON response")
	}
}
