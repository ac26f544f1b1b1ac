package feed

import (
	"strings"

	"tradeflow/internal/models"
)

// Broker topic namespace. TopicMarketDataPrefix is the base path of the
// parameterized per-instrument market data topics.
const (
	TopicConnection       = "/topic/connection"
	TopicLogin            = "/topic/login"
	TopicOrders           = "/topic/orders"
	TopicTrades           = "/topic/trades"
	TopicMarketConnection = "/topic/market/connection"
	TopicMarketData       = "/topic/market/data"
	TopicMarketDataPrefix = "/topic/market/data/"
)

var staticTopicKinds = map[string]models.Kind{
	TopicConnection:       models.KindConnectionStatus,
	TopicLogin:            models.KindLoginStatus,
	TopicOrders:           models.KindOrderUpdate,
	TopicTrades:           models.KindTradeUpdate,
	TopicMarketConnection: models.KindMarketConnectionStatus,
	TopicMarketData:       models.KindMarketData,
}

// MarketDataTopic builds the per-instrument market data topic.
func MarketDataTopic(instrument string) string {
	return TopicMarketDataPrefix + instrument
}

// Classify maps a topic to its logical event kind. Static topics match
// exactly; parameterized topics match by prefix. Topics outside the known
// namespace classify as unrecognized so future broker additions never crash
// the router.
func Classify(topic string) models.Kind {
	if kind, ok := staticTopicKinds[topic]; ok {
		return kind
	}
	if strings.HasPrefix(topic, TopicMarketDataPrefix) {
		return models.KindMarketData
	}
	return models.KindUnrecognized
}
