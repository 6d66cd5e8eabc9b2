package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/josh-kwaku/fooddelivery-saga/internal/event"
	"github.com/josh-kwaku/fooddelivery-saga/internal/logging"
	"github.com/josh-kwaku/fooddelivery-saga/internal/metrics"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. The event is dead-lettered at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe) || errors.Is(err, event.ErrMalformed)
}

type Result string

const (
	ResultAcked        Result = "acked"
	ResultDeadLettered Result = "dead_lettered"
)

type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
}

// Deliver runs h under the retry policy. When retries are exhausted or the
// handler reports a permanent failure the envelope is published unchanged to
// the topic's dead-letter topic. The returned error is non-nil only when the
// event could neither be applied nor dead-lettered; the caller must then
// leave the offset uncommitted.
func (p RetryPolicy) Deliver(ctx context.Context, dlq Publisher, topic, group, key string, env event.Envelope, h Handler) (Result, error) {
	log := logging.FromContext(ctx).With(
		"topic", topic,
		"group", group,
		"event_id", env.EventID,
		"event_type", env.EventType,
		"aggregate_id", env.AggregateID,
	)
	ctx = logging.WithLogger(ctx, log)

	start := time.Now()
	defer func() {
		metrics.HandlerDuration.WithLabelValues(topic, group).Observe(float64(time.Since(start).Milliseconds()))
	}()

	attempt := 0
	op := func() error {
		attempt++
		err := h(ctx, env)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return backoff.Permanent(err)
		}
		metrics.HandlerRetries.WithLabelValues(topic, group).Inc()
		log.Warn("event handler failed, will retry", "attempt", attempt, "error", err)
		return err
	}

	err := backoff.Retry(op, p.backOff(ctx))
	if err == nil {
		metrics.EventsConsumed.WithLabelValues(topic, group, string(ResultAcked)).Inc()
		return ResultAcked, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", fmt.Errorf("Deliver: %w", ctxErr)
	}

	dlqTopic := event.DeadLetterTopic(topic)
	log.Error("event dead-lettered", "attempts", attempt, "dlq_topic", dlqTopic, "error", err)
	if pubErr := dlq.Publish(ctx, dlqTopic, key, env); pubErr != nil {
		return "", fmt.Errorf("Deliver: dead-letter publish: %w", pubErr)
	}
	metrics.EventsConsumed.WithLabelValues(topic, group, string(ResultDeadLettered)).Inc()
	return ResultDeadLettered, nil
}
