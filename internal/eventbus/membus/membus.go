// Package membus is an in-process Bus with Kafka-like partitioning: one
// goroutine per (group, partition) so events sharing a key are handled in
// publish order while different keys proceed in parallel.
package membus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

var ErrClosed = errors.New("membus: closed")

type Record struct {
	Topic    string
	Key      string
	Envelope event.Envelope
}

type message struct {
	key string
	env event.Envelope
}

type partition struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []message
	closed bool
}

func newPartition() *partition {
	p := &partition{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *partition) push(m message) {
	p.mu.Lock()
	p.queue = append(p.queue, m)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *partition) pop() (message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.queue) == 0 {
		return message{}, false
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	return m, true
}

func (p *partition) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

type subscription struct {
	topic      string
	group      string
	handler    eventbus.Handler
	partitions []*partition
}

type Bus struct {
	partitions int
	policy     eventbus.RetryPolicy
	logger     *slog.Logger

	mu       sync.Mutex
	subs     map[string][]*subscription
	log      []Record
	inflight int
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(partitions int, policy eventbus.RetryPolicy, logger *slog.Logger) *Bus {
	if partitions < 1 {
		partitions = 1
	}
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	return &Bus{
		partitions: partitions,
		policy:     policy,
		logger:     logger,
		subs:       make(map[string][]*subscription),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (b *Bus) Publish(_ context.Context, topic, key string, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	b.log = append(b.log, Record{Topic: topic, Key: key, Envelope: env})
	idx := eventbus.Partition(key, b.partitions)
	for _, sub := range b.subs[topic] {
		b.inflight++
		sub.partitions[idx].push(message{key: key, env: env})
	}
	return nil
}

// Subscribe starts delivering messages published to topic from now on.
func (b *Bus) Subscribe(topic, group string, h eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for _, s := range b.subs[topic] {
		if s.group == group {
			return fmt.Errorf("Subscribe: group %q already subscribed to %q", group, topic)
		}
	}

	sub := &subscription{topic: topic, group: group, handler: h}
	for range b.partitions {
		p := newPartition()
		sub.partitions = append(sub.partitions, p)
		b.wg.Add(1)
		go b.work(sub, p)
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return nil
}

func (b *Bus) work(sub *subscription, p *partition) {
	defer b.wg.Done()
	for {
		m, ok := p.pop()
		if !ok {
			return
		}
		if _, err := b.policy.Deliver(b.ctx, b, sub.topic, sub.group, m.key, m.env, sub.handler); err != nil {
			b.logger.Error("membus delivery aborted", "topic", sub.topic, "group", sub.group, "event_id", m.env.EventID, "error", err)
		}
		b.done()
	}
}

func (b *Bus) done() {
	b.mu.Lock()
	b.inflight--
	b.mu.Unlock()
}

// Run blocks until ctx is cancelled. Workers start on Subscribe.
func (b *Bus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var parts []*partition
	for _, subs := range b.subs {
		for _, s := range subs {
			parts = append(parts, s.partitions...)
		}
	}
	b.mu.Unlock()

	b.cancel()
	for _, p := range parts {
		p.close()
	}
	b.wg.Wait()
	return nil
}

// WaitIdle blocks until every published message has been handled.
func (b *Bus) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for {
		b.mu.Lock()
		n := b.inflight
		b.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("WaitIdle: %d in flight: %w", n, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Published returns the envelopes published to topic, in publish order.
func (b *Bus) Published(topic string) []event.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []event.Envelope
	for _, r := range b.log {
		if r.Topic == topic {
			out = append(out, r.Envelope)
		}
	}
	return out
}

// Count returns how many envelopes of eventType were published to topic.
func (b *Bus) Count(topic, eventType string) int {
	n := 0
	for _, env := range b.Published(topic) {
		if env.EventType == eventType {
			n++
		}
	}
	return n
}
