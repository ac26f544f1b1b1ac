package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Order status codes as reported by the trading backend.
const (
	OrderStatusFilled        = "0"
	OrderStatusPartialFilled = "1"
	OrderStatusUnfilled      = "3"
	OrderStatusCancelled     = "5"
)

var orderStatusLabels = map[string]string{
	OrderStatusFilled:        "全部成交",
	OrderStatusPartialFilled: "部分成交",
	OrderStatusUnfilled:      "未成交",
	OrderStatusCancelled:     "已撤销",
}

// OrderStatusUnknownLabel is applied to status codes outside the known table.
const OrderStatusUnknownLabel = "未知状态"

// OrderStatusLabel maps a backend status code to its display label. Unmapped
// codes resolve to OrderStatusUnknownLabel rather than failing.
func OrderStatusLabel(code string) string {
	if label, ok := orderStatusLabels[code]; ok {
		return label
	}
	return OrderStatusUnknownLabel
}

const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// DirectionLabel maps the backend direction flag ("0" buy, "1" sell).
func DirectionLabel(code string) string {
	if code == "0" {
		return DirectionBuy
	}
	return DirectionSell
}

var offsetFlagLabels = map[string]string{
	"0": "开仓",
	"1": "平仓",
	"3": "平今",
}

// OffsetFlagLabel maps the backend open/close flag to its display label.
func OffsetFlagLabel(code string) string {
	if label, ok := offsetFlagLabels[code]; ok {
		return label
	}
	return code
}

// OrderUpdate is a raw order push frame from the trading backend.
type OrderUpdate struct {
	OrderRef            string  `json:"orderRef"`
	InstrumentID        string  `json:"instrumentId"`
	Direction           string  `json:"direction"`
	OffsetFlag          string  `json:"offsetFlag"`
	LimitPrice          float64 `json:"limitPrice"`
	VolumeTotalOriginal int64   `json:"volumeTotalOriginal"`
	VolumeTraded        int64   `json:"volumeTraded"`
	OrderStatus         string  `json:"orderStatus"`
	InsertTime          string  `json:"insertTime"`
}

// ParseOrderUpdate decodes and validates an order update frame body.
func ParseOrderUpdate(body []byte) (OrderUpdate, error) {
	var upd OrderUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		return OrderUpdate{}, fmt.Errorf("decode order update: %w", err)
	}
	if upd.OrderRef == "" {
		return OrderUpdate{}, fmt.Errorf("order update missing orderRef")
	}
	return upd, nil
}

// Order is the reconciled order record held in the snapshot, keyed by ID.
type Order struct {
	ID         string  `json:"id"`
	Time       string  `json:"time"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	OffsetFlag string  `json:"offsetFlag"`
	Price      float64 `json:"price"`
	Quantity   int64   `json:"quantity"`
	Filled     int64   `json:"filled"`
	Status     string  `json:"status"`
	StatusCode string  `json:"statusCode"`
}

// OrderFromUpdate builds the replacement order record for a push frame.
func OrderFromUpdate(upd OrderUpdate) Order {
	return Order{
		ID:         upd.OrderRef,
		Time:       upd.InsertTime,
		Symbol:     upd.InstrumentID,
		Direction:  DirectionLabel(upd.Direction),
		OffsetFlag: OffsetFlagLabel(upd.OffsetFlag),
		Price:      upd.LimitPrice,
		Quantity:   upd.VolumeTotalOriginal,
		Filled:     upd.VolumeTraded,
		Status:     OrderStatusLabel(upd.OrderStatus),
		StatusCode: upd.OrderStatus,
	}
}

// TradeFill is a raw trade push frame from the trading backend.
type TradeFill struct {
	TradeID      string  `json:"tradeId"`
	InstrumentID string  `json:"instrumentId"`
	Direction    string  `json:"direction"`
	Price        float64 `json:"price"`
	Volume       int64   `json:"volume"`
	TradeTime    string  `json:"tradeTime"`
}

// ParseTradeFill decodes and validates a trade frame body.
func ParseTradeFill(body []byte) (TradeFill, error) {
	var fill TradeFill
	if err := json.Unmarshal(body, &fill); err != nil {
		return TradeFill{}, fmt.Errorf("decode trade fill: %w", err)
	}
	if fill.InstrumentID == "" {
		return TradeFill{}, fmt.Errorf("trade fill missing instrumentId")
	}
	return fill, nil
}

// Trade is one entry of the trade tape. Entries are never mutated after
// insertion and never deduplicated; Key exists for downstream consumers that
// want to dedup at-least-once delivery themselves.
type Trade struct {
	ID        string  `json:"id"`
	Time      string  `json:"time"`
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"`
	Price     float64 `json:"price"`
	Quantity  int64   `json:"quantity"`
	Amount    string  `json:"amount"`
	Status    string  `json:"status"`
}

// Key identifies a trade by time and id.
func (t Trade) Key() string {
	return t.Time + "/" + t.ID
}

// TradeFromFill builds the tape entry for a trade frame.
func TradeFromFill(fill TradeFill) Trade {
	return Trade{
		ID:        fill.TradeID,
		Time:      fill.TradeTime,
		Symbol:    fill.InstrumentID,
		Direction: DirectionLabel(fill.Direction),
		Price:     fill.Price,
		Quantity:  fill.Volume,
		Amount:    strconv.FormatFloat(fill.Price*float64(fill.Volume), 'f', 2, 64),
		Status:    "已成交",
	}
}

// Position is one line of the bulk position query.
type Position struct {
	InstrumentID   string  `json:"instrumentId"`
	Direction      string  `json:"direction"`
	Volume         int64   `json:"position"`
	TodayVolume    int64   `json:"todayPosition"`
	AvgPrice       float64 `json:"avgPrice"`
	PositionProfit float64 `json:"positionProfit"`
	UseMargin      float64 `json:"useMargin"`
}

// Account is the funds record of the bulk account query.
type Account struct {
	Balance        float64 `json:"balance"`
	Available      float64 `json:"available"`
	CurrMargin     float64 `json:"currMargin"`
	CloseProfit    float64 `json:"closeProfit"`
	PositionProfit float64 `json:"positionProfit"`
}

// User is the logged-in terminal user derived from the REST logins.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SessionID     string    `json:"sessionId,omitempty"`
	Token         string    `json:"token,omitempty"`
	TradingStatus bool      `json:"tradingStatus"`
	MarketStatus  bool      `json:"marketStatus"`
	LoginTime     time.Time `json:"loginTime"`
}
