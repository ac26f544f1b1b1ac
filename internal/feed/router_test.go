package feed

import (
	"errors"
	"testing"

	"tradeflow/internal/models"
	"tradeflow/internal/transport"
)

func newTestRouter() (*Router, *Registry, *Bus) {
	registry := NewRegistry(&fakeBroker{state: transport.StateConnected})
	bus := NewBus()
	return NewRouter(registry, bus), registry, bus
}

func TestDecode(t *testing.T) {
	router, _, _ := newTestRouter()

	frame, err := router.Decode([]byte(`{"topic":"/topic/orders","body":{"orderRef":"1"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Topic != TopicOrders {
		t.Errorf("unexpected topic %s", frame.Topic)
	}

	if _, err := router.Decode([]byte(`not json`)); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage, got %v", err)
	}
	if _, err := router.Decode([]byte(`{"body":{}}`)); !errors.Is(err, ErrMalformedMessage) {
		t.Errorf("expected ErrMalformedMessage for missing topic, got %v", err)
	}
}

func TestHandleFrameDispatchesToTopicHandler(t *testing.T) {
	router, registry, bus := newTestRouter()

	var got models.Order
	bus.On(models.KindOrderUpdate, func(ev models.Event) {
		if upd, ok := ev.Payload.(models.OrderUpdate); ok {
			got = models.OrderFromUpdate(upd)
		}
	})
	registry.Subscribe(TopicOrders, router.KindHandler(models.KindOrderUpdate))

	router.HandleFrame([]byte(`{"topic":"/topic/orders","body":{"orderRef":"7","instrumentId":"rb2405","orderStatus":"1"}}`))

	if got.ID != "7" || got.Status != "部分成交" {
		t.Fatalf("event did not reach the bus: %+v", got)
	}
}

func TestHandleFrameDropsMalformed(t *testing.T) {
	router, registry, bus := newTestRouter()

	calls := 0
	bus.On(models.KindOrderUpdate, func(models.Event) { calls++ })
	registry.Subscribe(TopicOrders, router.KindHandler(models.KindOrderUpdate))

	router.HandleFrame([]byte(`garbage`))
	router.HandleFrame([]byte(`{"topic":"/topic/orders","body":"not an object"}`))
	router.HandleFrame([]byte(`{"topic":"/topic/orders","body":{"instrumentId":"missing ref"}}`))

	if calls != 0 {
		t.Errorf("malformed frames reached consumers %d times", calls)
	}

	// The pipeline still works afterwards.
	router.HandleFrame([]byte(`{"topic":"/topic/orders","body":{"orderRef":"1"}}`))
	if calls != 1 {
		t.Errorf("valid frame after malformed ones not delivered, calls=%d", calls)
	}
}

func TestHandleFrameDropsUnrecognizedTopic(t *testing.T) {
	router, _, bus := newTestRouter()

	calls := 0
	bus.On(models.KindOrderUpdate, func(models.Event) { calls++ })

	router.HandleFrame([]byte(`{"topic":"/topic/other","body":{}}`))
	if calls != 0 {
		t.Error("unrecognized topic reached consumers")
	}
}

func TestHandleFrameDropsWithoutSubscription(t *testing.T) {
	router, _, bus := newTestRouter()

	calls := 0
	bus.On(models.KindOrderUpdate, func(models.Event) { calls++ })

	// Known topic, but nothing subscribed: a stale frame racing an
	// unsubscribe.
	router.HandleFrame([]byte(`{"topic":"/topic/orders","body":{"orderRef":"1"}}`))
	if calls != 0 {
		t.Error("frame without subscription reached consumers")
	}
}

func TestHandleFrameSurvivesPanickingHandler(t *testing.T) {
	router, registry, _ := newTestRouter()

	registry.Subscribe(TopicOrders, func(string, []byte) { panic("handler bug") })

	router.HandleFrame([]byte(`{"topic":"/topic/orders","body":{"orderRef":"1"}}`))

	// A subsequent frame on another topic still flows.
	delivered := false
	registry.Subscribe(TopicTrades, func(string, []byte) { delivered = true })
	router.HandleFrame([]byte(`{"topic":"/topic/trades","body":{"instrumentId":"rb2405"}}`))
	if !delivered {
		t.Error("router stopped after a handler panic")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		topic string
		want  models.Kind
	}{
		{TopicConnection, models.KindConnectionStatus},
		{TopicLogin, models.KindLoginStatus},
		{TopicOrders, models.KindOrderUpdate},
		{TopicTrades, models.KindTradeUpdate},
		{TopicMarketConnection, models.KindMarketConnectionStatus},
		{TopicMarketData, models.KindMarketData},
		{MarketDataTopic("rb2405"), models.KindMarketData},
		{"/topic/market/data/au2406", models.KindMarketData},
		{"/topic/unknown", models.KindUnrecognized},
		{"", models.KindUnrecognized},
	}
	for _, tc := range cases {
		if got := Classify(tc.topic); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.topic, got, tc.want)
		}
	}
}
