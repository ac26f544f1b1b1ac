package models

import (
	"encoding/json"
	"fmt"
)

// Kind is the logical category of a decoded broker message. Several topics
// may map to the same kind: every per-instrument market data topic carries
// KindMarketData.
type Kind string

const (
	KindConnectionStatus       Kind = "connection"
	KindLoginStatus            Kind = "login_status"
	KindOrderUpdate            Kind = "order_update"
	KindTradeUpdate            Kind = "trade_data"
	KindMarketData             Kind = "market_data"
	KindMarketConnectionStatus Kind = "market_connection"
	// KindUnrecognized marks topics outside the known namespace. Frames of
	// this kind are dropped by the router and never reach consumers.
	KindUnrecognized Kind = "unrecognized"
)

// Event is one decoded broker message together with its logical kind.
type Event struct {
	Kind    Kind
	Payload interface{}
}

// StatusEvent is the payload of connection, market connection and login
// status topics.
type StatusEvent struct {
	Connected bool   `json:"connected"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// DecodeEvent validates a frame body against the field set of its kind and
// returns the typed event. Unknown kinds never decode; they are dropped at
// the router.
func DecodeEvent(kind Kind, body []byte) (Event, error) {
	switch kind {
	case KindMarketData:
		tick, err := ParseMarketTick(body)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Payload: tick}, nil
	case KindOrderUpdate:
		upd, err := ParseOrderUpdate(body)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Payload: upd}, nil
	case KindTradeUpdate:
		fill, err := ParseTradeFill(body)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Payload: fill}, nil
	case KindConnectionStatus, KindLoginStatus, KindMarketConnectionStatus:
		var status StatusEvent
		if err := json.Unmarshal(body, &status); err != nil {
			return Event{}, fmt.Errorf("decode status event: %w", err)
		}
		return Event{Kind: kind, Payload: status}, nil
	default:
		return Event{}, fmt.Errorf("no decoder for kind %q", kind)
	}
}
