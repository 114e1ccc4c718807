// Package kafka mirrors audit events to a Kafka topic for the reporting and
// compliance pipelines. Postgres remains the system of record; the mirror is
// best-effort and never gates an operation.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fabrica/internal/audit"
)

// Publisher produces audit events to a Kafka topic, keyed by contract ID so
// per-contract ordering survives partitioning.
type Publisher struct {
	client *kgo.Client
	topic  string
}

// New connects to the brokers and returns a ready publisher.
func New(brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// envelope is the JSON structure published to Kafka.
type envelope struct {
	ID          string          `json:"id"`
	ContractID  string          `json:"contract_id"`
	Kind        string          `json:"kind"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	ActorID     string          `json:"actor_id,omitempty"`
	CreatedAt   string          `json:"created_at"`
}

// Publish produces one event and waits for broker acknowledgement.
func (p *Publisher) Publish(ctx context.Context, event audit.Event) error {
	payload, err := audit.EncodePayload(event.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	env := envelope{
		ID:          event.ID.String(),
		ContractID:  event.ContractID.String(),
		Kind:        string(event.Kind),
		Description: event.Description,
		Payload:     payload,
		CreatedAt:   event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if event.ActorID != nil {
		env.ActorID = event.ActorID.String()
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal audit envelope: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(env.ContractID),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close flushes buffered records and releases the client.
func (p *Publisher) Close() {
	p.client.Close()
}
