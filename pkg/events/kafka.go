package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/Rohianon/uou/pkg/logger"
	"github.com/Rohianon/uou/pkg/metrics"
	"github.com/Rohianon/uou/pkg/telemetry"
)

type KafkaPublisher struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writers: make(map[string]*kafka.Writer),
		brokers: brokers,
	}
}

func (p *KafkaPublisher) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	// Hash keeps equal keys on equal partitions and round-robins nil keys.
	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	p.writers[topic] = w
	return w
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	ctx, span := telemetry.StartProducerSpan(ctx, msg.Topic)
	defer span.End()

	headers := toKafkaHeaders(msg.Headers)
	telemetry.InjectTraceContext(ctx, &headers)

	km := kafka.Message{
		Value:   msg.Value,
		Headers: headers,
	}
	if msg.Key != "" {
		km.Key = []byte(msg.Key)
	}

	if err := p.getWriter(msg.Topic).WriteMessages(ctx, km); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	telemetry.SetMessageAttributes(ctx, msg.Key, len(msg.Value))
	metrics.RecordKafkaMessageProduced(msg.Topic)
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KafkaSubscriber consumes a topic and its retry chain with one consumer
// group. Retries and dead letters are written back through publisher.
type KafkaSubscriber struct {
	brokers   []string
	groupID   string
	publisher Publisher

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func NewKafkaSubscriber(brokers []string, groupID string, publisher Publisher) *KafkaSubscriber {
	return &KafkaSubscriber{
		brokers:   brokers,
		groupID:   groupID,
		publisher: publisher,
		readers:   make([]*kafka.Reader, 0),
		log:       logger.Component("kafka-subscriber").With().Str("group", groupID).Logger(),
	}
}

func (s *KafkaSubscriber) Subscribe(ctx context.Context, topic string, policy RetryPolicy, handler Handler) error {
	if policy == nil {
		return errors.New("retry policy is required")
	}
	router := NewRouter(s.publisher, s.groupID, policy)

	topics := []string{topic}
	for n := 1; n < policy.MaxAttempts(); n++ {
		topics = append(topics, RetryTopic(topic, n))
	}

	for _, t := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  s.brokers,
			Topic:    t,
			GroupID:  s.groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})

		s.mu.Lock()
		s.readers = append(s.readers, reader)
		s.mu.Unlock()

		s.wg.Add(1)
		go func(t string) {
			defer s.wg.Done()
			s.consume(ctx, reader, t, router, handler)
		}(t)
	}

	s.log.Info().Strs("topics", topics).Msg("subscribed")
	return nil
}

// consume handles one partition stream at a time and commits only after the
// message was handled or re-routed.
func (s *KafkaSubscriber) consume(ctx context.Context, reader *kafka.Reader, topic string, router *Router, handler Handler) {
	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			s.log.Error().Err(err).Str("topic", topic).Msg("fetch failed")
			continue
		}

		msg := fromKafkaMessage(km)

		if err := waitUntil(ctx, msg.NotBefore(), time.Now); err != nil {
			return
		}

		msgCtx := telemetry.ExtractTraceContext(ctx, km.Headers)
		msgCtx, span := telemetry.StartConsumerSpan(msgCtx, telemetry.Delivery{
			Topic:     topic,
			Group:     s.groupID,
			Partition: km.Partition,
			Offset:    km.Offset,
			Attempt:   msg.Attempt(),
		})
		metrics.RecordKafkaMessageConsumed(topic, s.groupID)

		for {
			_, err := router.Process(msgCtx, msg, handler)
			if err == nil {
				break
			}
			span.RecordError(err)
			s.log.Error().Err(err).Str("topic", topic).Int64("offset", km.Offset).Msg("re-routing failed, will retry")
			if werr := waitUntil(ctx, time.Now().Add(time.Second), time.Now); werr != nil {
				span.End()
				return
			}
		}
		span.End()

		if err := reader.CommitMessages(ctx, km); err != nil && ctx.Err() == nil {
			s.log.Error().Err(err).Str("topic", topic).Int64("offset", km.Offset).Msg("commit failed")
		}
	}
}

func (s *KafkaSubscriber) Close() error {
	s.mu.Lock()
	var errs []error
	for _, r := range s.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	return errors.Join(errs...)
}

func toKafkaHeaders(h map[string]string) []kafka.Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafka.Header, 0, len(h)+2)
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(h[k])})
	}
	return headers
}

func fromKafkaMessage(km kafka.Message) Message {
	headers := make(map[string]string, len(km.Headers))
	for _, h := range km.Headers {
		headers[h.Key] = string(h.Value)
	}
	return Message{
		Topic:     km.Topic,
		Key:       string(km.Key),
		Value:     km.Value,
		Headers:   headers,
		Partition: km.Partition,
		Offset:    km.Offset,
	}
}
