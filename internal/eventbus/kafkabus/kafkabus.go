// Package kafkabus implements eventbus.Bus on top of segmentio/kafka-go.
package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/eventbus"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
)

const (
	headerEventID   = "event-id"
	headerEventType = "event-type"
	headerSource    = "source"

	// ReplayGroup is the consumer group that drains dead-letter topics.
	ReplayGroup = "saga-dlq-replay"
)

type Config struct {
	Brokers []string
	// Workers is the number of readers per subscription. Kafka spreads the
	// topic's partitions across them; one partition never has two readers.
	Workers int
	Policy  eventbus.RetryPolicy
}

type subscription struct {
	topic   string
	group   string
	handler eventbus.Handler
}

// messageReader is the part of *kafka.Reader the consumer loop uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// messageWriter is the part of *kafka.Writer the producers use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Bus struct {
	cfg    Config
	writer *kafka.Writer
	logger *slog.Logger

	mu      sync.Mutex
	subs    []subscription
	readers []*kafka.Reader
}

func New(cfg Config, logger *slog.Logger) *Bus {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Bus{cfg: cfg, writer: w, logger: logger}
}

func (b *Bus) Publish(ctx context.Context, topic, key string, env event.Envelope) error {
	return producer{w: b.writer}.Publish(ctx, topic, key, env)
}

// producer writes envelopes through w. Consumers hand it to the retry policy
// as their dead-letter target.
type producer struct {
	w messageWriter
}

func (p producer) Publish(ctx context.Context, topic, key string, env event.Envelope) error {
	value, err := env.Encode()
	if err != nil {
		return fmt.Errorf("Publish: %w", err)
	}
	return p.publishRaw(ctx, topic, key, value, env)
}

func (p producer) publishRaw(ctx context.Context, topic, key string, value []byte, env event.Envelope) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(env.EventID.String())},
			{Key: headerEventType, Value: []byte(env.EventType)},
			{Key: headerSource, Value: []byte(env.Source)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Publish: %s: %w", topic, err)
	}
	return nil
}

func (b *Bus) Subscribe(topic, group string, h eventbus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if s.topic == topic && s.group == group {
			return fmt.Errorf("Subscribe: group %q already subscribed to %q", group, topic)
		}
	}
	b.subs = append(b.subs, subscription{topic: topic, group: group, handler: h})
	return nil
}

// Run starts the configured readers for every subscription and blocks until
// ctx is cancelled or a reader fails.
func (b *Bus) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.Unlock()

	errCh := make(chan error, len(subs)*b.cfg.Workers)
	var wg sync.WaitGroup

	for _, sub := range subs {
		for i := range b.cfg.Workers {
			r := b.newReader(sub.group, sub.topic)
			c := newConsumer(sub, b.cfg.Policy, b.writer)

			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				log := b.logger.With("topic", sub.topic, "group", sub.group, "worker", worker)
				if err := c.run(logging.WithLogger(ctx, log), r); err != nil {
					errCh <- err
					cancel()
				}
			}(i)
		}
	}

	b.logger.Info("kafka consumers started", "subscriptions", len(subs), "workers", b.cfg.Workers)
	wg.Wait()
	close(errCh)

	if err, ok := <-errCh; ok {
		return err
	}
	return nil
}

func (b *Bus) newReader(group, topic string) *kafka.Reader {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        b.cfg.Brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	})
	b.mu.Lock()
	b.readers = append(b.readers, r)
	b.mu.Unlock()
	return r
}

// ReplayDeadLetters moves everything on topic's dead-letter topic back onto
// topic with key, value and headers unchanged. Envelopes keep their eventId,
// so groups that already applied an event skip it through their ledger. It
// returns once no message has arrived for idle.
func (b *Bus) ReplayDeadLetters(ctx context.Context, topic string, idle time.Duration) (int, error) {
	r := b.newReader(ReplayGroup, event.DeadLetterTopic(topic))
	log := b.logger.With("topic", topic, "group", ReplayGroup)
	return replay(logging.WithLogger(ctx, log), r, b.writer, topic, idle)
}

func replay(ctx context.Context, r messageReader, w messageWriter, topic string, idle time.Duration) (int, error) {
	log := logging.FromContext(ctx)
	n := 0
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, idle)
		m, err := r.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return n, fmt.Errorf("replay: %w", ctx.Err())
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return n, nil
			}
			return n, fmt.Errorf("replay: fetch %s: %w", event.DeadLetterTopic(topic), err)
		}

		out := kafka.Message{
			Topic:   topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: m.Headers,
			Time:    time.Now(),
		}
		if err := w.WriteMessages(ctx, out); err != nil {
			return n, fmt.Errorf("replay: publish %s: %w", topic, err)
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			return n, fmt.Errorf("replay: commit: %w", err)
		}
		n++
		log.Info("dead letter replayed", "partition", m.Partition, "offset", m.Offset, "key", string(m.Key))
	}
}

// consumer drives one reader of one subscription.
type consumer struct {
	sub     subscription
	policy  eventbus.RetryPolicy
	out     producer
	backOff func() backoff.BackOff
}

func newConsumer(sub subscription, policy eventbus.RetryPolicy, w messageWriter) *consumer {
	return &consumer{sub: sub, policy: policy, out: producer{w: w}, backOff: untilCancelled}
}

// untilCancelled backs off exponentially with no elapsed-time cap; only the
// context ends it.
func untilCancelled() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0
	return eb
}

func (c *consumer) run(ctx context.Context, r messageReader) error {
	log := logging.FromContext(ctx)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("consume: fetch %s: %w", c.sub.topic, err)
		}

		if err := c.handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consume: commit: %w", err)
		}
		log.Debug("offset committed", "partition", m.Partition, "offset", m.Offset)
	}
}

// handle returns only once the message is applied or dead-lettered. A
// failing dead-letter publish is retried until ctx ends so the offset is
// never committed past an event that went nowhere.
func (c *consumer) handle(ctx context.Context, m kafka.Message) error {
	env, err := event.Decode(m.Value)
	if err != nil {
		logging.FromContext(ctx).Error("undecodable message, dead-lettering",
			"partition", m.Partition, "offset", m.Offset, "error", err)
		op := func() error {
			return c.out.publishRaw(ctx, event.DeadLetterTopic(c.sub.topic), string(m.Key), m.Value, env)
		}
		return backoff.Retry(op, backoff.WithContext(c.backOff(), ctx))
	}

	op := func() error {
		_, err := c.policy.Deliver(ctx, c.out, c.sub.topic, c.sub.group, string(m.Key), env, c.sub.handler)
		return err
	}
	notify := func(err error, wait time.Duration) {
		logging.FromContext(ctx).Error("event neither applied nor dead-lettered", "event_id", env.EventID, "retry_in", wait, "error", err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.backOff(), ctx), notify)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	readers := b.readers
	b.readers = nil
	b.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
