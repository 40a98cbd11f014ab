package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/metrics"
)

// RetryPolicy decides what happens to a message whose handler failed.
type RetryPolicy interface {
	// Retryable reports whether err may succeed on redelivery.
	Retryable(err error) bool
	// MaxAttempts is the total number of deliveries, the first included.
	MaxAttempts() int
	// Backoff is the delay before delivery attempt+1.
	Backoff(attempt int) time.Duration
}

// Outcome is what the router did with a message.
type Outcome string

const (
	OutcomeHandled      Outcome = "handled"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// Router runs a handler and re-routes failed messages through the retry chain
// or to the consumer group's dead-letter topic.
type Router struct {
	publisher Publisher
	group     string
	policy    RetryPolicy
	now       func() time.Time
	log       zerolog.Logger
}

func NewRouter(publisher Publisher, group string, policy RetryPolicy) *Router {
	return &Router{
		publisher: publisher,
		group:     group,
		policy:    policy,
		now:       time.Now,
		log:       logger.Component("retry-router"),
	}
}

// Process invokes handler for msg. A non-nil error means re-routing failed
// and the message must not be committed.
func (r *Router) Process(ctx context.Context, msg Message, handler Handler) (Outcome, error) {
	topic := msg.OriginalTopic()
	attempt := msg.Attempt()

	start := r.now()
	herr := handler(ctx, msg)
	metrics.ObserveMessageDuration(topic, r.now().Sub(start))

	if herr == nil {
		metrics.RecordMessageOutcome(topic, r.group, string(OutcomeHandled))
		return OutcomeHandled, nil
	}

	l := r.log.With().
		Str("topic", topic).
		Str("group", r.group).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Int("attempt", attempt).
		Err(herr).
		Logger()

	if r.policy.Retryable(herr) && attempt < r.policy.MaxAttempts() {
		next := r.derive(msg, topic)
		next.Topic = RetryTopic(topic, attempt)
		next.Headers[HeaderAttempt] = strconv.Itoa(attempt + 1)
		next.Headers[HeaderNotBefore] = r.now().Add(r.policy.Backoff(attempt)).UTC().Format(time.RFC3339Nano)

		if err := r.publisher.Publish(ctx, next); err != nil {
			return "", fmt.Errorf("failed to publish retry: %w", err)
		}
		l.Warn().Str("retry_topic", next.Topic).Msg("handler failed, scheduled retry")
		metrics.RecordMessageOutcome(topic, r.group, string(OutcomeRetried))
		return OutcomeRetried, nil
	}

	dead := r.derive(msg, topic)
	dead.Topic = DeadLetterTopic(topic, r.group)
	dead.Headers[HeaderAttempt] = strconv.Itoa(attempt)
	dead.Headers[HeaderError] = herr.Error()
	delete(dead.Headers, HeaderNotBefore)

	if err := r.publisher.Publish(ctx, dead); err != nil {
		return "", fmt.Errorf("failed to publish dead letter: %w", err)
	}
	l.Error().Str("dlt", dead.Topic).Msg("handler failed, message dead-lettered")
	metrics.RecordMessageOutcome(topic, r.group, string(OutcomeDeadLettered))
	return OutcomeDeadLettered, nil
}

func (r *Router) derive(msg Message, original string) Message {
	headers := make(map[string]string, len(msg.Headers)+4)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = original
	headers[HeaderGroup] = r.group
	return Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
}

// waitUntil blocks until t or ctx is done.
func waitUntil(ctx context.Context, t time.Time, now func() time.Time) error {
	d := t.Sub(now())
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
