package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is a single broker record as seen by publishers and handlers.
//
// Key selects the partition: records sharing a key are delivered to the same
// consumer in send order. An empty key means no ordering guarantee.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
}

// Header names used by the retry chain.
const (
	HeaderAttempt       = "x-attempt"
	HeaderNotBefore     = "x-not-before"
	HeaderError         = "x-error"
	HeaderOriginalTopic = "x-original-topic"
	HeaderGroup         = "x-consumer-group"
)

// Attempt returns the delivery attempt carried on the message, starting at 1.
func (m Message) Attempt() int {
	n, err := strconv.Atoi(m.Headers[HeaderAttempt])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

// NotBefore returns the earliest time a retried message may be handled.
// The zero time means immediately.
func (m Message) NotBefore() time.Time {
	raw, ok := m.Headers[HeaderNotBefore]
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// OriginalTopic is the topic the message was first published to, before any
// trip through the retry chain.
func (m Message) OriginalTopic() string {
	if t := m.Headers[HeaderOriginalTopic]; t != "" {
		return t
	}
	return m.Topic
}

// RetryTopic names the n-th retry level of topic, e.g. "uou.tasks.diagnostics.retry.2".
func RetryTopic(topic string, n int) string {
	return fmt.Sprintf("%s.retry.%d", topic, n)
}

// DeadLetterTopic names the dead-letter topic for one consumer group.
func DeadLetterTopic(topic, group string) string {
	return topic + "." + group + ".dlt"
}

// IsRetryTopic reports whether topic belongs to a retry chain.
func IsRetryTopic(topic string) bool {
	i := strings.LastIndex(topic, ".retry.")
	if i < 0 {
		return false
	}
	_, err := strconv.Atoi(topic[i+len(".retry."):])
	return err == nil
}

// Handler processes one message. A returned error hands the message to the
// subscriber's retry policy.
type Handler func(ctx context.Context, msg Message) error

// Publisher publishes messages to Kafka topics
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber consumes messages from Kafka topics
type Subscriber interface {
	// Subscribe starts consuming topic and its retry chain in the background.
	Subscribe(ctx context.Context, topic string, policy RetryPolicy, handler Handler) error
	Close() error
}
