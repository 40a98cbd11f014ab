package telemetry

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const messagingTracer = "github.com/Rohianon/uou/pkg/events"

// KafkaHeaderCarrier adapts a message's header list to a propagation.TextMapCarrier.
// Set replaces an existing header of the same key.
type KafkaHeaderCarrier struct {
	Headers *[]kafka.Header
}

func (c KafkaHeaderCarrier) Get(key string) string {
	for _, h := range *c.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c KafkaHeaderCarrier) Set(key, value string) {
	for i, h := range *c.Headers {
		if h.Key == key {
			(*c.Headers)[i].Value = []byte(value)
			return
		}
	}
	*c.Headers = append(*c.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c KafkaHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.Headers))
	for _, h := range *c.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}

// InjectTraceContext writes the span context of ctx into headers so the task
// consumer continues the same trace.
func InjectTraceContext(ctx context.Context, headers *[]kafka.Header) {
	otel.GetTextMapPropagator().Inject(ctx, KafkaHeaderCarrier{Headers: headers})
}

func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, KafkaHeaderCarrier{Headers: &headers})
}

func StartProducerSpan(ctx context.Context, topic string) (context.Context, trace.Span) {
	return otel.Tracer(messagingTracer).Start(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.operation", "publish"),
		),
	)
}

// Delivery identifies one consumed message for its receive span.
type Delivery struct {
	Topic     string
	Group     string
	Partition int
	Offset    int64
	// Attempt is 1 for the first delivery and grows along the retry chain.
	Attempt int
}

func StartConsumerSpan(ctx context.Context, d Delivery) (context.Context, trace.Span) {
	return otel.Tracer(messagingTracer).Start(ctx, d.Topic+" receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", d.Topic),
			attribute.String("messaging.operation", "receive"),
			attribute.String("messaging.kafka.consumer.group", d.Group),
			attribute.Int("messaging.kafka.partition", d.Partition),
			attribute.Int64("messaging.kafka.message.offset", d.Offset),
			attribute.Int("messaging.kafka.attempt", d.Attempt),
		),
	)
}

// SetMessageAttributes records the ordering key and body size on the
// current span. An empty key is left off.
func SetMessageAttributes(ctx context.Context, key string, size int) {
	span := trace.SpanFromContext(ctx)
	if key != "" {
		span.SetAttributes(attribute.String("messaging.kafka.message.key", key))
	}
	span.SetAttributes(attribute.Int("messaging.message.body.size", size))
}
