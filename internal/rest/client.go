package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tradeflow/config"
	"tradeflow/internal/models"
	"tradeflow/logger"
)

// Endpoint paths of the terminal backend.
const (
	pathTradingStatus     = "/api/trading/status"
	pathTradingLogin      = "/api/trading/login"
	pathTradingLogout     = "/api/trading/logout"
	pathTradingOrder      = "/api/trading/order"
	pathTradingCancel     = "/api/trading/cancel"
	pathTradingPosition   = "/api/trading/position"
	pathTradingAccount    = "/api/trading/account"
	pathTradingOrders     = "/api/trading/orders"
	pathTradingTrades     = "/api/trading/trades"
	pathTradingInstrument = "/api/trading/instrument"
	pathTradingHealth     = "/api/trading/health"
	pathTradingVersion    = "/api/trading/version"

	pathMarketStatus        = "/api/market/status"
	pathMarketLogin         = "/api/market/login"
	pathMarketSubscribe     = "/api/market/subscribe"
	pathMarketUnsubscribe   = "/api/market/unsubscribe"
	pathMarketInstrument    = "/api/market/instrument"
	pathMarketSubscriptions = "/api/market/subscriptions"
)

// RequestError is a request-level failure reported by the backend, carrying
// its human-readable message. It is returned whenever the response envelope
// has success=false, independent of the HTTP status code.
type RequestError struct {
	Path    string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("rest: %s failed: %s", e.Path, e.Message)
}

// apiResponse is the uniform backend response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client is the request/reply collaborator of the data layer. It is
// stateless apart from the bearer token installed after login.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	token   func() string
	log     *logger.Entry
}

func NewClient(cfg config.RestConfig) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		log:     logger.GetLogger().WithComponent("rest"),
	}
}

// SetTokenSource installs the provider of the session bearer token. A nil
// source or empty token leaves requests unauthenticated.
func (c *Client) SetTokenSource(token func() string) {
	c.token = token
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rest: rate limit wait: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rest: read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("rest: decode response from %s: %w", path, err)
	}

	if !envelope.Success {
		message := envelope.Message
		if message == "" {
			message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		reqErr := &RequestError{Path: path, Status: resp.StatusCode, Message: message}
		c.log.WithError(reqErr).WithField("path", path).Warn("backend reported failure")
		return reqErr
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("rest: decode payload from %s: %w", path, err)
		}
	}
	return nil
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

// TradingStatus reports whether the trading backend session is up.
func (c *Client) TradingStatus(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathTradingStatus, nil, nil, nil)
}

// TradingLogin logs in to the trading backend.
func (c *Client) TradingLogin(ctx context.Context) (LoginResult, error) {
	var result LoginResult
	err := c.do(ctx, http.MethodPost, pathTradingLogin, nil, nil, &result)
	return result, err
}

// TradingLogout logs out of the trading backend.
func (c *Client) TradingLogout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, pathTradingLogout, nil, nil, nil)
}

// OrderRequest places a new order. Direction and offset flag use the
// backend codes.
type OrderRequest struct {
	InstrumentID string  `json:"instrumentId"`
	Direction    string  `json:"direction"`
	OffsetFlag   string  `json:"offsetFlag"`
	Price        float64 `json:"price"`
	Volume       int64   `json:"volume"`
}

// PlaceOrder submits an order and returns the backend order reference.
func (c *Client) PlaceOrder(ctx context.Context, order OrderRequest) (string, error) {
	var result struct {
		OrderRef string `json:"orderRef"`
	}
	if err := c.do(ctx, http.MethodPost, pathTradingOrder, nil, order, &result); err != nil {
		return "", err
	}
	return result.OrderRef, nil
}

// CancelOrder requests cancellation of an order by reference.
func (c *Client) CancelOrder(ctx context.Context, orderRef, instrumentID string) error {
	body := map[string]string{"orderRef": orderRef, "instrumentId": instrumentID}
	return c.do(ctx, http.MethodPost, pathTradingCancel, nil, body, nil)
}

func instrumentQuery(instrumentID string) url.Values {
	if instrumentID == "" {
		return nil
	}
	return url.Values{"instrumentId": []string{instrumentID}}
}

// Positions queries positions, optionally filtered by instrument.
func (c *Client) Positions(ctx context.Context, instrumentID string) ([]models.Position, error) {
	var positions []models.Position
	err := c.do(ctx, http.MethodGet, pathTradingPosition, instrumentQuery(instrumentID), nil, &positions)
	return positions, err
}

// Account queries the funds account.
func (c *Client) Account(ctx context.Context) (models.Account, error) {
	var account models.Account
	err := c.do(ctx, http.MethodGet, pathTradingAccount, nil, nil, &account)
	return account, err
}

// Orders queries the order list, optionally filtered by instrument.
func (c *Client) Orders(ctx context.Context, instrumentID string) ([]models.Order, error) {
	var orders []models.Order
	err := c.do(ctx, http.MethodGet, pathTradingOrders, instrumentQuery(instrumentID), nil, &orders)
	return orders, err
}

// Trades queries filled trades, optionally filtered by instrument.
func (c *Client) Trades(ctx context.Context, instrumentID string) ([]models.Trade, error) {
	var trades []models.Trade
	err := c.do(ctx, http.MethodGet, pathTradingTrades, instrumentQuery(instrumentID), nil, &trades)
	return trades, err
}

// Instrument looks up one instrument's trading metadata.
func (c *Client) Instrument(ctx context.Context, instrumentID string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, pathTradingInstrument+"/"+instrumentID, nil, nil, &raw)
	return raw, err
}

// Health checks the trading backend health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathTradingHealth, nil, nil, nil)
}

// Version reports the trading backend version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var result struct {
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, pathTradingVersion, nil, nil, &result); err != nil {
		return "", err
	}
	return result.Version, nil
}

// MarketStatus reports whether the market data backend session is up.
func (c *Client) MarketStatus(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathMarketStatus, nil, nil, nil)
}

// MarketLogin logs in to the market data backend.
func (c *Client) MarketLogin(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, pathMarketLogin, nil, nil, nil)
}

// MarketSubscribe asks the backend to start publishing the instruments.
func (c *Client) MarketSubscribe(ctx context.Context, instruments []string) error {
	return c.do(ctx, http.MethodPost, pathMarketSubscribe, nil, map[string][]string{"instruments": instruments}, nil)
}

// MarketUnsubscribe asks the backend to stop publishing the instruments.
func (c *Client) MarketUnsubscribe(ctx context.Context, instruments []string) error {
	return c.do(ctx, http.MethodPost, pathMarketUnsubscribe, nil, map[string][]string{"instruments": instruments}, nil)
}

// MarketInstrument looks up one instrument's market metadata.
func (c *Client) MarketInstrument(ctx context.Context, instrumentID string) (json.RawMessage, error) {
	var raw json.RawMessage
	err := c.do(ctx, http.MethodGet, pathMarketInstrument+"/"+instrumentID, nil, nil, &raw)
	return raw, err
}

// MarketSubscriptions lists the backend-side market data subscriptions.
func (c *Client) MarketSubscriptions(ctx context.Context) ([]string, error) {
	var subscriptions []string
	err := c.do(ctx, http.MethodGet, pathMarketSubscriptions, nil, nil, &subscriptions)
	return subscriptions, err
}
