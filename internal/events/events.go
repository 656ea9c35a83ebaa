// Package events publishes submission outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"

	"github.com/cmatc13/lumenpay/internal/transaction"
	"github.com/cmatc13/lumenpay/pkg/logging"
)

// Event types
const (
	TypeAccepted = "payment.accepted"
	TypeRejected = "payment.rejected"
)

// Event is the message published for every submission that reached the ledger
type Event struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	OccurredAt time.Time           `json:"occurred_at"`
	Submission *transaction.Record `json:"submission"`
}

// NewEvent wraps a record in an event of the matching type
func NewEvent(rec *transaction.Record) Event {
	eventType := TypeAccepted
	if rec.Outcome != transaction.Accepted {
		eventType = TypeRejected
	}
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Submission: rec,
	}
}

// producer is the subset of *kafka.Producer the publisher uses
type producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Flush(timeoutMs int) int
	Close()
}

// KafkaConfig holds publisher configuration
type KafkaConfig struct {
	Brokers       string
	AcceptedTopic string
	RejectedTopic string
}

// KafkaPublisher publishes submission events keyed by source account
type KafkaPublisher struct {
	producer      producer
	acceptedTopic string
	rejectedTopic string
	logger        *logging.Logger
	done          chan struct{}
	closeOnce     sync.Once
}

// NewKafkaPublisher creates a producer connected to the configured brokers
func NewKafkaPublisher(cfg KafkaConfig, logger *logging.Logger) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"client.id":         "lumenpay",
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return newPublisher(p, cfg, logger), nil
}

func newPublisher(p producer, cfg KafkaConfig, logger *logging.Logger) *KafkaPublisher {
	if logger == nil {
		logger = logging.Discard()
	}
	pub := &KafkaPublisher{
		producer:      p,
		acceptedTopic: cfg.AcceptedTopic,
		rejectedTopic: cfg.RejectedTopic,
		logger:        logger.Named("events"),
		done:          make(chan struct{}),
	}
	go pub.watchDeliveries()
	return pub
}

// watchDeliveries logs failed deliveries reported on the producer's event channel
func (p *KafkaPublisher) watchDeliveries() {
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-p.producer.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *kafka.Message:
				if e.TopicPartition.Error != nil {
					p.logger.Error("Event delivery failed",
						"topic", topicName(e.TopicPartition.Topic),
						"key", string(e.Key),
						"error", e.TopicPartition.Error.Error())
				}
			case kafka.Error:
				p.logger.Warn("Kafka producer error", "error", e.Error())
			}
		}
	}
}

func topicName(t *string) string {
	if t == nil {
		return ""
	}
	return *t
}

// Publish enqueues an event for the record. Delivery is asynchronous.
func (p *KafkaPublisher) Publish(ctx context.Context, rec *transaction.Record) error {
	event := NewEvent(rec)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error serializing event: %w", err)
	}

	topic := p.acceptedTopic
	if event.Type == TypeRejected {
		topic = p.rejectedTopic
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(rec.SourceAccount),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("error publishing event: %w", err)
	}
	return nil
}

// Ping checks that the brokers answer a metadata request
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	timeout := 2 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	_, err := p.producer.GetMetadata(&p.acceptedTopic, false, int(timeout.Milliseconds()))
	return err
}

// Close flushes pending events and closes the producer
func (p *KafkaPublisher) Close() {
	p.closeOnce.Do(func() {
		if remaining := p.producer.Flush(15 * 1000); remaining > 0 {
			p.logger.Warn("Events not delivered before shutdown", "count", remaining)
		}
		close(p.done)
		p.producer.Close()
	})
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish implements the publisher contract and does nothing
func (NopPublisher) Publish(context.Context, *transaction.Record) error { return nil }
