package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

type KafkaPublisher struct {
	writer *kafkago.Writer
}

// NewKafkaPublisher writes to topic, keyed by conversation id so one conversation's events stay on one partition.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(ev.ConversationID),
		Value:   b,
		Time:    ev.OccurredAt,
		Headers: []kafkago.Header{{Key: "event", Value: []byte(ev.Name)}},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
