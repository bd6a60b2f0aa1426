package queue

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jandrishti/aqi-backend/internal/metrics"
	"github.com/jandrishti/aqi-backend/internal/protocol"
)

// Producer wraps a Kafka writer. Topics are set per message so one writer
// serves both the readings and the aggregates topic.
type Producer struct {
	writer          *kafka.Writer
	topicReadings   string
	topicAggregates string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topicReadings, topicAggregates string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{}, // Partition by key (ward_no)
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 50 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		},
		topicReadings:   topicReadings,
		topicAggregates: topicAggregates,
	}
}

// Publish sends a message to a topic
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("failed to write message: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}

// PublishReading publishes an hourly reading keyed by ward
func (p *Producer) PublishReading(ctx context.Context, ev *protocol.ReadingEvent) error {
	data, err := protocol.EncodeReadingEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode reading event: %w", err)
	}
	return p.Publish(ctx, p.topicReadings, ev.WardNo, data)
}

// PublishAggregate publishes a daily aggregate keyed by ward
func (p *Producer) PublishAggregate(ctx context.Context, ev *protocol.AggregateEvent) error {
	data, err := protocol.EncodeAggregateEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode aggregate event: %w", err)
	}
	return p.Publish(ctx, p.topicAggregates, ev.WardNo, data)
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishReading(context.Context, *protocol.ReadingEvent) error     { return nil }
func (NopPublisher) PublishAggregate(context.Context, *protocol.AggregateEvent) error { return nil }
func (NopPublisher) Close() error                                                     { return nil }

// Consumer wraps a Kafka consumer
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			CommitInterval: 0,    // Manual commit after the batch is archived
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume reads the next message
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit commits message offsets
func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit messages: %w", err)
	}
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns consumer statistics
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}


// CreateTopic creates a topic through the cluster controller. Kafka answers
// with an error when the topic already exists.
func CreateTopic(brokers []string, topic string, numPartitions int, replicationFactor int) error {
	if len(brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}
