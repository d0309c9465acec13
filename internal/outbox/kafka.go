package outbox

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes messages to a topic keyed by order id, so events of
// one order land on one partition.
type KafkaPublisher struct {
	w       *kafka.Writer
	brokers []string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, brokers: brokers}
}

// Ping dials the brokers until one answers.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	var d kafka.Dialer
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	if lastErr == nil {
		return errors.New("no brokers configured")
	}
	return errors.Wrap(lastErr, "dial kafka")
}

// Publish writes msgs in order.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs []Message) error {
	if err := p.w.WriteMessages(ctx, toKafka(msgs)...); err != nil {
		return errors.Wrap(err, "write messages")
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

func toKafka(msgs []Message) []kafka.Message {
	out := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		out[i] = kafka.Message{
			Key:   []byte(m.OrderID),
			Value: m.Payload,
			Time:  m.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(m.Type)},
				{Key: "event_id", Value: []byte(m.ID)},
			},
		}
	}
	return out
}
