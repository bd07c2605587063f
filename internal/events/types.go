package events

import (
	"fmt"
	"strings"
)

type EventBrokerType string

const (
	KafkaEventBrokerType EventBrokerType = "KAFKA"
	// NoneEventBrokerType disables the broker: messages are logged and dropped,
	// and delivery relies on the durable job rows written in the same
	// transaction as the triggering operation.
	NoneEventBrokerType EventBrokerType = "NONE"
)

func ParseEventBrokerType(ebType string) (EventBrokerType, error) {
	switch EventBrokerType(strings.ToUpper(ebType)) {
	case KafkaEventBrokerType:
		return KafkaEventBrokerType, nil
	case NoneEventBrokerType:
		return NoneEventBrokerType, nil
	default:
		return "", fmt.Errorf("invalid event broker type %q", ebType)
	}
}
