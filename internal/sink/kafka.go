package sink

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/sells-group/voc-classifier/internal/model"
)

// EventType is the type header of every classification event.
const EventType = "voc.classified"

// Event is the envelope written to Kafka for each record.
type Event struct {
	EventID    string                 `json:"event_id"`
	Type       string                 `json:"type"`
	OccurredAt time.Time              `json:"occurred_at"`
	Record     model.NormalizedRecord `json:"record"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes classification events keyed by source id, so every event
// for one transcript lands on the same partition.
type Kafka struct {
	writer messageWriter
	topic  string
	now    func() time.Time
}

// NewKafka creates a Kafka sink for brokers (comma separated) and topic.
func NewKafka(brokers, topic string) *Kafka {
	w := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Kafka{writer: w, topic: topic, now: time.Now}
}

// splitBrokers parses a comma separated broker list, dropping blanks.
func splitBrokers(brokers string) []string {
	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func (k *Kafka) Name() string { return "kafka" }

func (k *Kafka) Publish(ctx context.Context, rec model.NormalizedRecord) error {
	ev := Event{
		EventID:    ulid.Make().String(),
		Type:       EventType,
		OccurredAt: k.now().UTC(),
		Record:     rec,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "kafka: marshal event")
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.SourceID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID)},
			{Key: "type", Value: []byte(EventType)},
		},
	})
	if err != nil {
		return eris.Wrapf(err, "kafka: write to %s", k.topic)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return eris.Wrap(k.writer.Close(), "kafka: close writer")
}
