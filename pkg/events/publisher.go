package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// WatermillPublisher sends events over any watermill publisher (in-process gochannel
// by default). The topic is Subject(event type); the event type and time travel as
// message metadata.
type WatermillPublisher struct {
	publisher message.Publisher
}

func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event.Payload())
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set("event_type", event.EventType())
	msg.Metadata.Set("occurred_at", event.Timestamp().Format(time.RFC3339Nano))
	msg.SetContext(ctx)

	if err := p.publisher.Publish(Subject(event.EventType()), msg); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventType(), err)
	}
	return nil
}

// FromMessage rebuilds an event from a message produced by WatermillPublisher.
func FromMessage(msg *message.Message) (BaseEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return BaseEvent{}, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get("occurred_at"))
	if err != nil {
		occurredAt = time.Now()
	}

	return BaseEvent{
		Type:       msg.Metadata.Get("event_type"),
		Data:       payload,
		OccurredAt: occurredAt,
	}, nil
}
