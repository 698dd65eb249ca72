package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"restaurant-service/pkg/config"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Producer is the part of the traced kafka writer the publisher needs
type Producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events and stock events to separate topics.
// Trace context travels in the message headers.
type KafkaPublisher struct {
	orders Producer
	stock  Producer
}

// NewKafkaPublisher creates one traced writer per topic
func NewKafkaPublisher(cfg *config.Config, tp trace.TracerProvider) (*KafkaPublisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	orders, err := newWriter(cfg, cfg.Kafka.OrderTopic, tp)
	if err != nil {
		return nil, fmt.Errorf("order topic writer: %w", err)
	}
	stock, err := newWriter(cfg, cfg.Kafka.StockTopic, tp)
	if err != nil {
		_ = orders.Close()
		return nil, fmt.Errorf("stock topic writer: %w", err)
	}
	return NewKafkaPublisherWith(orders, stock), nil
}

// NewKafkaPublisherWith wraps already-built producers
func NewKafkaPublisherWith(orders, stock Producer) *KafkaPublisher {
	return &KafkaPublisher{orders: orders, stock: stock}
}

func newWriter(cfg *config.Config, topic string, tp trace.TracerProvider) (Producer, error) {
	baseWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.Kafka.BatchTimeout,
		BatchSize:    cfg.Kafka.BatchSize,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", cfg.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, err
	}
	return writer, nil
}

// messageKey keeps all events of one order, or one restaurant's stock, on the same partition
func messageKey(e Event) []byte {
	if e.Order != nil {
		return []byte(strconv.FormatUint(uint64(e.RestaurantID), 10) + ":" + strconv.FormatUint(uint64(e.Order.OrderID), 10))
	}
	return []byte(strconv.FormatUint(uint64(e.RestaurantID), 10))
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", e.Type, err)
	}

	producer := p.orders
	if e.Type == StockLow {
		producer = p.stock
	}

	msg := kafka.Message{
		Key:   messageKey(e),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "event_id", Value: []byte(e.ID)},
		},
	}
	return producer.WriteMessage(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return errors.Join(p.orders.Close(), p.stock.Close())
}
