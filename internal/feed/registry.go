package feed

import (
	"sync"

	"github.com/google/uuid"

	"tradeflow/internal/transport"
	"tradeflow/logger"
)

// Handler consumes the raw body of frames arriving on one topic.
type Handler func(topic string, body []byte)

// Subscription is the registry's record for one topic: the local handler and
// the broker-side subscription handle of the current session.
type Subscription struct {
	Topic string
	ID    string
}

// broker is the slice of the transport channel the registry drives.
type broker interface {
	State() transport.State
	SendSubscribe(topic, id string) error
	SendUnsubscribe(id string) error
}

type subscription struct {
	handler Handler
	id      string
}

// Registry tracks the currently subscribed topics and replays all of them
// after every reconnect. The registered set is the single source of truth:
// it is exactly the result of replaying the Subscribe/Unsubscribe call
// sequence on an empty set.
type Registry struct {
	mu     sync.Mutex
	broker broker
	subs   map[string]*subscription
	log    *logger.Entry
}

func NewRegistry(b broker) *Registry {
	return &Registry{
		broker: b,
		subs:   make(map[string]*subscription),
		log:    logger.GetLogger().WithComponent("registry"),
	}
}

// Subscribe registers a topic and its handler. Subscribing an already
// registered topic replaces the handler and keeps the existing broker
// subscription. When the connection is not established the topic is still
// recorded for reconnect replay and nil is returned.
func (r *Registry) Subscribe(topic string, handler Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[topic]; ok {
		sub.handler = handler
		if sub.id == "" {
			sub.id = r.establish(topic)
		}
		if sub.id == "" {
			return nil
		}
		return &Subscription{Topic: topic, ID: sub.id}
	}

	sub := &subscription{handler: handler}
	r.subs[topic] = sub
	sub.id = r.establish(topic)
	if sub.id == "" {
		return nil
	}
	return &Subscription{Topic: topic, ID: sub.id}
}

// establish issues the broker-side subscribe when connected and returns the
// new handle, or "" when the subscription stays local until replay.
func (r *Registry) establish(topic string) string {
	if r.broker.State() != transport.StateConnected {
		r.log.WithField("topic", topic).Warn("not connected; subscription deferred until reconnect")
		return ""
	}
	id := uuid.NewString()
	if err := r.broker.SendSubscribe(topic, id); err != nil {
		r.log.WithError(err).WithField("topic", topic).Warn("broker subscribe failed; will retry on reconnect")
		return ""
	}
	return id
}

// Unsubscribe removes and releases the subscription if present.
func (r *Registry) Unsubscribe(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[topic]
	if !ok {
		return
	}
	delete(r.subs, topic)
	if sub.id != "" {
		if err := r.broker.SendUnsubscribe(sub.id); err != nil {
			r.log.WithError(err).WithField("topic", topic).Warn("broker unsubscribe failed")
		}
	}
}

// Clear releases all subscriptions without unsubscribing at the broker. It
// is used on connection teardown, when the broker-side state is gone anyway.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[string]*subscription)
}

// Replay re-establishes every registered topic exactly once. The transport's
// connected signal drives it; previous broker handles are void by then.
func (r *Registry) Replay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic, sub := range r.subs {
		id := uuid.NewString()
		if err := r.broker.SendSubscribe(topic, id); err != nil {
			r.log.WithError(err).WithField("topic", topic).Warn("subscription replay failed")
			sub.id = ""
			continue
		}
		sub.id = id
	}
	r.log.WithField("topics", len(r.subs)).Info("replayed subscriptions")
}

// Invalidate voids all broker-side handles without touching the registered
// topic set. The transport calls into this path when the connection drops.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		sub.id = ""
	}
}

// HandlerFor returns the handler registered for an exact topic.
func (r *Registry) HandlerFor(topic string) (Handler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[topic]
	if !ok || sub.handler == nil {
		return nil, false
	}
	return sub.handler, true
}

// Topics returns the currently registered topic set.
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]string, 0, len(r.subs))
	for topic := range r.subs {
		topics = append(topics, topic)
	}
	return topics
}
