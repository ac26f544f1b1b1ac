package feed

import (
	"encoding/json"
	"fmt"

	"tradeflow/internal/models"
	"tradeflow/logger"
)

// Frame is one decoded server message: a topic and its JSON body.
type Frame struct {
	Topic string          `json:"topic"`
	Body  json.RawMessage `json:"body"`
}

// Router decodes inbound frames, classifies them by topic and dispatches to
// the handler registered for the topic. Undecodable and unrecognized frames
// are dropped with a log line; no inbound frame can take the router down.
type Router struct {
	registry *Registry
	bus      *Bus
	log      *logger.Entry
}

func NewRouter(registry *Registry, bus *Bus) *Router {
	return &Router{
		registry: registry,
		bus:      bus,
		log:      logger.GetLogger().WithComponent("router"),
	}
}

// Decode parses the frame envelope. A frame without valid JSON or without a
// topic is malformed.
func (r *Router) Decode(raw []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if frame.Topic == "" {
		return Frame{}, fmt.Errorf("%w: missing topic", ErrMalformedMessage)
	}
	return frame, nil
}

// HandleFrame is the transport's frame consumer. Frames are processed one at
// a time in arrival order; the handler for a frame completes before the next
// frame is processed.
func (r *Router) HandleFrame(raw []byte) {
	frame, err := r.Decode(raw)
	if err != nil {
		logger.IncrementFrameDropped()
		r.log.WithError(err).Warn("dropping malformed frame")
		return
	}

	logger.IncrementFrameReceived(frame.Topic, len(raw))

	if Classify(frame.Topic) == models.KindUnrecognized {
		logger.IncrementFrameDropped()
		r.log.WithError(ErrUnrecognizedTopic).WithField("topic", frame.Topic).Warn("dropping frame")
		return
	}

	handler, ok := r.registry.HandlerFor(frame.Topic)
	if !ok {
		// Known topic without an active subscription: a stale frame racing
		// an unsubscribe. Dropped silently at debug level.
		logger.IncrementFrameDropped()
		r.log.WithField("topic", frame.Topic).Debug("no handler registered; frame dropped")
		return
	}

	r.invoke(handler, frame)
}

// invoke isolates the per-topic handler so a faulty consumer cannot stop the
// router from processing the next frame.
func (r *Router) invoke(handler Handler, frame Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.WithError(fmt.Errorf("handler panic: %v", rec)).
				WithField("topic", frame.Topic).
				Error("topic handler failed")
		}
	}()
	handler(frame.Topic, frame.Body)
}

// Dispatch decodes the body for an event kind and fans it out on the bus.
// Bodies that fail validation are dropped like any other malformed frame.
func (r *Router) Dispatch(kind models.Kind, body []byte) {
	event, err := models.DecodeEvent(kind, body)
	if err != nil {
		logger.IncrementFrameDropped()
		r.log.WithError(fmt.Errorf("%w: %v", ErrMalformedMessage, err)).
			WithField("kind", string(kind)).Warn("dropping undecodable body")
		return
	}
	r.bus.Emit(kind, event)
}

// KindHandler returns a topic handler that decodes bodies as the given kind
// and emits them on the bus. It is the standard handler wired by the client
// for every topic subscription.
func (r *Router) KindHandler(kind models.Kind) Handler {
	return func(topic string, body []byte) {
		r.Dispatch(kind, body)
	}
}
