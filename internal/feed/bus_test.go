package feed

import (
	"testing"

	"tradeflow/internal/models"
)

func statusEvent(kind models.Kind) models.Event {
	return models.Event{Kind: kind, Payload: models.StatusEvent{Connected: true}}
}

func TestEmitInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.On(models.KindConnectionStatus, func(models.Event) { got = append(got, "a") })
	bus.On(models.KindConnectionStatus, func(models.Event) { got = append(got, "b") })
	bus.On(models.KindConnectionStatus, func(models.Event) { got = append(got, "c") })

	bus.Emit(models.KindConnectionStatus, statusEvent(models.KindConnectionStatus))

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected invocation order: %v", got)
	}
}

func TestDuplicateRegistrationInvokedTwice(t *testing.T) {
	bus := NewBus()

	calls := 0
	fn := func(models.Event) { calls++ }
	h1 := bus.On(models.KindTradeUpdate, fn)
	h2 := bus.On(models.KindTradeUpdate, fn)
	if h1 == h2 {
		t.Fatal("expected distinct handles for duplicate registration")
	}

	bus.Emit(models.KindTradeUpdate, statusEvent(models.KindTradeUpdate))
	if calls != 2 {
		t.Errorf("expected 2 invocations, got %d", calls)
	}
}

func TestOffRemovesOnlyTheHandle(t *testing.T) {
	bus := NewBus()

	calls := 0
	fn := func(models.Event) { calls++ }
	h1 := bus.On(models.KindOrderUpdate, fn)
	bus.On(models.KindOrderUpdate, fn)

	bus.Off(models.KindOrderUpdate, h1)
	bus.Emit(models.KindOrderUpdate, statusEvent(models.KindOrderUpdate))

	if calls != 1 {
		t.Errorf("expected 1 invocation after Off, got %d", calls)
	}

	// Removing an unknown handle is a no-op.
	bus.Off(models.KindOrderUpdate, Handle(9999))
	bus.Emit(models.KindOrderUpdate, statusEvent(models.KindOrderUpdate))
	if calls != 2 {
		t.Errorf("expected 2 invocations total, got %d", calls)
	}
}

func TestPanickingCallbackDoesNotStopFanout(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.On(models.KindMarketData, func(models.Event) { got = append(got, "first") })
	bus.On(models.KindMarketData, func(models.Event) { panic("consumer bug") })
	bus.On(models.KindMarketData, func(models.Event) { got = append(got, "third") })

	bus.Emit(models.KindMarketData, statusEvent(models.KindMarketData))

	if len(got) != 2 || got[1] != "third" {
		t.Fatalf("fan-out aborted after panic: %v", got)
	}
}

func TestEmitWithoutSubscribers(t *testing.T) {
	bus := NewBus()
	// Must not panic or block.
	bus.Emit(models.KindLoginStatus, statusEvent(models.KindLoginStatus))
}
