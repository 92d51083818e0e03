package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka_Publish(t *testing.T) {
	w := &fakeWriter{}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	k := &Kafka{writer: w, topic: "voc.normalized", now: func() time.Time { return now }}

	require.NoError(t, k.Publish(context.Background(), sampleRecord()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "S1", string(msg.Key))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, EventType, ev.Type)
	assert.Equal(t, now, ev.OccurredAt)
	assert.Equal(t, int64(42), ev.Record.ID)
	assert.Equal(t, "235166ea", ev.Record.CategoryID)

	_, err := ulid.Parse(ev.EventID)
	assert.NoError(t, err)
	assert.Equal(t, ev.EventID, string(msg.Headers[0].Value))
}

func TestKafka_PublishError(t *testing.T) {
	k := &Kafka{writer: &fakeWriter{err: errors.New("leader not available")}, topic: "voc.normalized", now: time.Now}

	err := k.Publish(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka: write to voc.normalized")
}

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"kafka-1:9092", []string{"kafka-1:9092"}},
		{"kafka-1:9092, kafka-2:9092", []string{"kafka-1:9092", "kafka-2:9092"}},
		{"kafka-1:9092,", []string{"kafka-1:9092"}},
		{" , kafka-2:9092 ,, ", []string{"kafka-2:9092"}},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, splitBrokers(tt.in), "input %q", tt.in)
	}
}

func TestNewKafka_TrailingComma(t *testing.T) {
	k := NewKafka("kafka-1:9092, kafka-2:9092,", "voc.normalized")
	w, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, "kafka-1:9092,kafka-2:9092", w.Addr.String())
	assert.Equal(t, "voc.normalized", w.Topic)
	require.NoError(t, k.Close())
}
