package feed

import (
	"fmt"
	"sync"

	"tradeflow/internal/models"
	"tradeflow/logger"
)

// Callback consumes one decoded event.
type Callback func(models.Event)

// Handle identifies one bus registration so it can be removed again.
// Registering the same function twice yields two handles and two
// invocations per event; callers dedup if they need to.
type Handle uint64

type registration struct {
	id Handle
	fn Callback
}

// Bus maps logical event kinds to ordered callback lists. Fan-out is
// synchronous and in registration order; a panicking callback is recovered
// and logged without aborting dispatch for the remaining callbacks.
type Bus struct {
	mu   sync.Mutex
	next Handle
	subs map[models.Kind][]registration
	log  *logger.Entry
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[models.Kind][]registration),
		log:  logger.GetLogger().WithComponent("bus"),
	}
}

// On appends the callback to the list for kind and returns its handle.
func (b *Bus) On(kind models.Kind, fn Callback) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[kind] = append(b.subs[kind], registration{id: b.next, fn: fn})
	return b.next
}

// Off removes the registration with the given handle. No-op when absent.
func (b *Bus) Off(kind models.Kind, h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.subs[kind]
	for i, reg := range regs {
		if reg.id == h {
			b.subs[kind] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Emit fans the event out to every callback registered for its kind, in
// registration order.
func (b *Bus) Emit(kind models.Kind, event models.Event) {
	b.mu.Lock()
	regs := make([]registration, len(b.subs[kind]))
	copy(regs, b.subs[kind])
	b.mu.Unlock()

	for _, reg := range regs {
		b.invoke(kind, reg, event)
	}
}

// invoke runs one callback behind an error boundary so a faulty consumer
// cannot break fan-out for the others.
func (b *Bus) invoke(kind models.Kind, reg registration, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithError(fmt.Errorf("callback panic: %v", r)).
				WithFields(logger.Fields{"kind": string(kind), "handle": uint64(reg.id)}).
				Error("callback failed; dispatch continues")
		}
	}()
	reg.fn(event)
}
