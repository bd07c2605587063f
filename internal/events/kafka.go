package events

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/bodasure/bodasure-backend/pkg/log"
)

type KafkaSecurityProtocol string

const (
	KafkaProtocolPlaintext     KafkaSecurityProtocol = "PLAINTEXT"
	KafkaProtocolSASLPlaintext KafkaSecurityProtocol = "SASL_PLAINTEXT"
	KafkaProtocolSASLSSL       KafkaSecurityProtocol = "SASL_SSL"
	KafkaProtocolSSL           KafkaSecurityProtocol = "SSL"
)

func ParseKafkaSecurityProtocol(protocol string) (KafkaSecurityProtocol, error) {
	switch KafkaSecurityProtocol(strings.ToUpper(protocol)) {
	case KafkaProtocolPlaintext:
		return KafkaProtocolPlaintext, nil
	case KafkaProtocolSASLPlaintext:
		return KafkaProtocolSASLPlaintext, nil
	case KafkaProtocolSASLSSL:
		return KafkaProtocolSASLSSL, nil
	case KafkaProtocolSSL:
		return KafkaProtocolSSL, nil
	default:
		return "", fmt.Errorf("invalid kafka security protocol %q", protocol)
	}
}

type KafkaConfig struct {
	Brokers          []string
	SecurityProtocol KafkaSecurityProtocol
	SASLUsername     string
	SASLPassword     string
}

func (kc KafkaConfig) Validate() error {
	if len(kc.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}

	switch kc.SecurityProtocol {
	case KafkaProtocolPlaintext, KafkaProtocolSSL:
		// no credentials needed
	case KafkaProtocolSASLPlaintext, KafkaProtocolSASLSSL:
		if kc.SASLUsername == "" {
			return fmt.Errorf("SASL username cannot be empty when the security protocol is %s", kc.SecurityProtocol)
		}
		if kc.SASLPassword == "" {
			return fmt.Errorf("SASL password cannot be empty when the security protocol is %s", kc.SecurityProtocol)
		}
	default:
		return fmt.Errorf("invalid kafka security protocol %q", kc.SecurityProtocol)
	}

	return nil
}

func (kc KafkaConfig) saslMechanism() sasl.Mechanism {
	if kc.SecurityProtocol == KafkaProtocolSASLPlaintext || kc.SecurityProtocol == KafkaProtocolSASLSSL {
		return plain.Mechanism{Username: kc.SASLUsername, Password: kc.SASLPassword}
	}
	return nil
}

func (kc KafkaConfig) tlsConfig() *tls.Config {
	if kc.SecurityProtocol == KafkaProtocolSSL || kc.SecurityProtocol == KafkaProtocolSASLSSL {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return nil
}

func (kc KafkaConfig) dialer() *kafka.Dialer {
	dialer := kafka.DefaultDialer
	return &kafka.Dialer{
		Timeout:       dialer.Timeout,
		DualStack:     dialer.DualStack,
		SASLMechanism: kc.saslMechanism(),
		TLS:           kc.tlsConfig(),
	}
}

// KafkaProducer publishes messages on Kafka. It is safe for concurrent use.
type KafkaProducer struct {
	writer *kafka.Writer
}

var _ Producer = new(KafkaProducer)

func NewKafkaProducer(config KafkaConfig) (*KafkaProducer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating kafka config: %w", err)
	}

	writer := kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			SASL: config.saslMechanism(),
			TLS:  config.tlsConfig(),
		},
	}

	return &KafkaProducer{writer: &writer}, nil
}

func (k *KafkaProducer) WriteMessages(ctx context.Context, messages ...Message) error {
	kafkaMessages := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("validating message %s: %w", msg, err)
		}

		msgJSON, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshalling message %s: %w", msg, err)
		}

		kafkaMessages = append(kafkaMessages, kafka.Message{
			Topic: msg.Topic,
			Key:   []byte(msg.Key),
			Value: msgJSON,
		})
	}

	if err := k.writer.WriteMessages(ctx, kafkaMessages...); err != nil {
		return fmt.Errorf("writing message on kafka: %w", err)
	}

	return nil
}

// Ping dials the first broker to verify connectivity.
func (k *KafkaProducer) Ping(ctx context.Context) error {
	brokers := strings.Split(k.writer.Addr.String(), ",")
	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("pinging kafka: %w", err)
	}
	defer conn.Close()

	if _, err = conn.Brokers(); err != nil {
		return fmt.Errorf("reading kafka brokers: %w", err)
	}

	return nil
}

func (k *KafkaProducer) BrokerType() EventBrokerType {
	return KafkaEventBrokerType
}

func (k *KafkaProducer) Close(ctx context.Context) {
	log.Ctx(ctx).Info("closing kafka producer")
	if err := k.writer.Close(); err != nil {
		log.Ctx(ctx).Errorf("closing kafka producer: %s", err.Error())
	}
}

// KafkaConsumer reads messages for a single topic through a consumer group
// and carries the handler chain the EventConsumer runs them through.
type KafkaConsumer struct {
	handlers []EventHandler
	topic    string
	reader   *kafka.Reader
}

var _ Consumer = new(KafkaConsumer)

func NewKafkaConsumer(config KafkaConfig, topic string, consumerGroupID string, handlers ...EventHandler) (*KafkaConsumer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating kafka config: %w", err)
	}

	if topic == "" {
		return nil, fmt.Errorf("topic cannot be empty")
	}

	if consumerGroupID == "" {
		return nil, fmt.Errorf("consumer group ID cannot be empty")
	}

	if len(handlers) == 0 {
		return nil, fmt.Errorf("handlers cannot be empty")
	}

	for _, handler := range handlers {
		log.Infof("registering event handler %s for topic %s", handler.Name(), topic)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: config.Brokers,
		GroupID: consumerGroupID,
		Topic:   topic,
		Dialer:  config.dialer(),
	})

	return &KafkaConsumer{
		handlers: handlers,
		topic:    topic,
		reader:   reader,
	}, nil
}

// ReadMessage fetches and acknowledges the next message. Failed handling is
// retried in memory by the EventConsumer, so the offset is committed on read.
func (k *KafkaConsumer) ReadMessage(ctx context.Context) (*Message, error) {
	kafkaMessage, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching message from kafka: %w", err)
	}

	var msg Message
	if err = json.Unmarshal(kafkaMessage.Value, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling message: %w", err)
	}

	if err = k.reader.CommitMessages(ctx, kafkaMessage); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	return &msg, nil
}

func (k *KafkaConsumer) Topic() string {
	return k.topic
}

func (k *KafkaConsumer) Handlers() []EventHandler {
	return k.handlers
}

func (k *KafkaConsumer) BrokerType() EventBrokerType {
	return KafkaEventBrokerType
}

func (k *KafkaConsumer) Close() error {
	log.Infof("closing kafka consumer for topic %s", k.topic)
	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("closing kafka consumer for topic %s: %w", k.topic, err)
	}
	return nil
}
