// Package events publishes queue snapshots for consumers outside the
// notification path, such as waiting-room display boards.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const TypeQueueSnapshot = "queue.snapshot"

type QueueSnapshot struct {
	EventID              uuid.UUID `json:"event_id"`
	Type                 string    `json:"type"`
	Reason               string    `json:"reason"`
	DoctorID             uuid.UUID `json:"doctor_id"`
	Date                 string    `json:"date"`
	AppointmentID        uuid.UUID `json:"appointment_id"`
	Token                int       `json:"token"`
	PatientsAhead        int       `json:"patients_ahead"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	OccurredAt           time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishSnapshots(ctx context.Context, snapshots []QueueSnapshot) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) PublishSnapshots(context.Context, []QueueSnapshot) error { return nil }
func (NoopPublisher) Close() error                                           { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes snapshots keyed by doctor so one doctor's queue stays
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	logger zerolog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Warn().Err(err).Int("messages", len(messages)).Msg("queue snapshot batch not delivered")
			}
		},
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger zerolog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: logger}
}

func (p *KafkaPublisher) PublishSnapshots(ctx context.Context, snapshots []QueueSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(snapshots))
	for _, s := range snapshots {
		if s.EventID == uuid.Nil {
			s.EventID = uuid.New()
		}
		s.Type = TypeQueueSnapshot
		if s.OccurredAt.IsZero() {
			s.OccurredAt = time.Now().UTC()
		}

		value, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", s.AppointmentID, err)
		}

		headers := []kafka.Header{
			{Key: "event_id", Value: []byte(s.EventID.String())},
			{Key: "event_type", Value: []byte(s.Type)},
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(s.DoctorID.String()),
			Value:   value,
			Headers: injectTraceHeaders(ctx, headers),
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish queue snapshots: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
