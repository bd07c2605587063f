package events

import (
	"context"
	"fmt"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

type Producer interface {
	WriteMessages(ctx context.Context, messages ...Message) error
	Ping(ctx context.Context) error
	BrokerType() EventBrokerType
	Close(ctx context.Context)
}

type Consumer interface {
	ReadMessage(ctx context.Context) (*Message, error)
	Topic() string
	Handlers() []EventHandler
	BrokerType() EventBrokerType
	Close() error
}

// ProduceEvents writes the given messages on the producer, skipping nil
// messages. A nil producer is not an error: the messages are logged and
// dropped, relying on the durable job rows written alongside the triggering
// operation to carry the side effects.
func ProduceEvents(ctx context.Context, producer Producer, messages ...*Message) error {
	notNilMessages := make([]Message, 0, len(messages))
	for i, msg := range messages {
		if msg == nil {
			log.Ctx(ctx).Warnf("message at index %d is nil, not producing event", i)
			continue
		}
		notNilMessages = append(notNilMessages, *msg)
	}

	if producer == nil {
		log.Ctx(ctx).Errorf("event producer is nil, could not publish messages %+v", notNilMessages)
		return nil
	}

	if len(notNilMessages) == 0 {
		log.Ctx(ctx).Warn("not producing events, since there are zero not-nil messages to produce")
		return nil
	}

	if err := producer.WriteMessages(ctx, notNilMessages...); err != nil {
		return fmt.Errorf("writing messages %+v on event producer: %w", messages, err)
	}

	return nil
}

// NoopProducer is a producer used to log messages instead of sending them to a real broker.
type NoopProducer struct{}

func (p NoopProducer) WriteMessages(ctx context.Context, messages ...Message) error {
	log.Ctx(ctx).Debugf("NoopProducer: these messages will be discarded and handled by the durable job queue: %+v", messages)
	return nil
}

func (p NoopProducer) Ping(ctx context.Context) error {
	return nil
}

func (p NoopProducer) BrokerType() EventBrokerType {
	return NoneEventBrokerType
}

func (p NoopProducer) Close(ctx context.Context) {}

var _ Producer = NoopProducer{}
