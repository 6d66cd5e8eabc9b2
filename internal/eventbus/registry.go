package eventbus

import (
	"context"
	"fmt"
	"sort"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

// Registry is the explicit (topic, eventType) -> handler table a service
// builds at startup.
type Registry struct {
	routes map[string]map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{routes: make(map[string]map[string]Handler)}
}

// Handle registers h for eventType on topic. Registering the same pair twice panics.
func (r *Registry) Handle(topic, eventType string, h Handler) {
	byType, ok := r.routes[topic]
	if !ok {
		byType = make(map[string]Handler)
		r.routes[topic] = byType
	}
	if _, dup := byType[eventType]; dup {
		panic(fmt.Sprintf("eventbus: duplicate handler for %s/%s", topic, eventType))
	}
	byType[eventType] = h
}

func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

func (r *Registry) Lookup(topic, eventType string) (Handler, bool) {
	h, ok := r.routes[topic][eventType]
	return h, ok
}

// Dispatcher returns the handler for every message arriving on topic.
// Event types nobody registered for are acknowledged and skipped; mirror
// topics carry many types a given service does not care about.
func (r *Registry) Dispatcher(topic string) Handler {
	return func(ctx context.Context, env event.Envelope) error {
		h, ok := r.Lookup(topic, env.EventType)
		if !ok {
			logging.FromContext(ctx).Debug("no handler registered, skipping",
				"topic", topic, "event_type", env.EventType, "event_id", env.EventID)
			return nil
		}
		return h(ctx, env)
	}
}

// Bind subscribes group to every registered topic on bus.
func (r *Registry) Bind(bus Bus, group string) error {
	for _, topic := range r.Topics() {
		if err := bus.Subscribe(topic, group, r.Dispatcher(topic)); err != nil {
			return fmt.Errorf("Bind: %s: %w", topic, err)
		}
	}
	return nil
}
