package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmatc13/lumenpay/internal/transaction"
)

type fakeProducer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	events   chan kafka.Event
	closed   bool
	flushed  bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{events: make(chan kafka.Event, 8)}
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }

func (f *fakeProducer) GetMetadata(*string, bool, int) (*kafka.Metadata, error) {
	return &kafka.Metadata{}, nil
}

func (f *fakeProducer) Flush(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = true
	return 0
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeProducer) sent() []*kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kafka.Message(nil), f.messages...)
}

func testRecord(outcome transaction.Outcome) *transaction.Record {
	return &transaction.Record{
		ID:            "rec-1",
		Hash:          "abc",
		SourceAccount: "GSOURCE",
		Sequence:      12,
		Destination:   "GDEST",
		Amount:        "10.5",
		Asset:         "native",
		Outcome:       outcome,
		SubmittedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPublishRoutesByOutcome(t *testing.T) {
	fp := newFakeProducer()
	pub := newPublisher(fp, KafkaConfig{AcceptedTopic: "payments.accepted", RejectedTopic: "payments.rejected"}, nil)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), testRecord(transaction.Accepted)))
	rejected := testRecord(transaction.Rejected)
	rejected.ResultCode = "tx_bad_seq"
	require.NoError(t, pub.Publish(context.Background(), rejected))

	msgs := fp.sent()
	require.Len(t, msgs, 2)
	assert.Equal(t, "payments.accepted", *msgs[0].TopicPartition.Topic)
	assert.Equal(t, "payments.rejected", *msgs[1].TopicPartition.Topic)
	assert.Equal(t, []byte("GSOURCE"), msgs[0].Key)

	var event Event
	require.NoError(t, json.Unmarshal(msgs[1].Value, &event))
	assert.Equal(t, TypeRejected, event.Type)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "tx_bad_seq", event.Submission.ResultCode)
	assert.Equal(t, "abc", event.Submission.Hash)
}

func TestEventPayloadShape(t *testing.T) {
	fp := newFakeProducer()
	pub := newPublisher(fp, KafkaConfig{AcceptedTopic: "a", RejectedTopic: "r"}, nil)
	defer pub.Close()

	require.NoError(t, pub.Publish(context.Background(), testRecord(transaction.Accepted)))

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(fp.sent()[0].Value, &raw))
	assert.Equal(t, TypeAccepted, raw["type"])
	submission := raw["submission"].(map[string]interface{})
	assert.Equal(t, "GSOURCE", submission["source_account"])
	assert.Equal(t, "10.5", submission["amount"])
	assert.Equal(t, "ACCEPTED", submission["outcome"])
}

func TestCloseFlushesOnce(t *testing.T) {
	fp := newFakeProducer()
	pub := newPublisher(fp, KafkaConfig{}, nil)

	pub.Close()
	pub.Close()

	assert.True(t, fp.flushed)
	assert.True(t, fp.closed)
}

func TestPingAndNop(t *testing.T) {
	fp := newFakeProducer()
	pub := newPublisher(fp, KafkaConfig{AcceptedTopic: "a"}, nil)
	defer pub.Close()

	assert.NoError(t, pub.Ping(context.Background()))
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), testRecord(transaction.Accepted)))
}
