package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"fieldbook/internal/config"

	"github.com/IBM/sarama"
)

// KafkaSender publishes events to one topic keyed by booking so a booking's
// events stay ordered within a partition.
type KafkaSender struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSender(cfg config.KafkaConfig) (*KafkaSender, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Version = sarama.V2_1_0_0
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Idempotent = true
	sc.Producer.Return.Successes = true
	sc.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &KafkaSender{producer: producer, topic: cfg.Topic}, nil
}

func newKafkaSenderWithProducer(producer sarama.SyncProducer, topic string) *KafkaSender {
	return &KafkaSender{producer: producer, topic: topic}
}

func (s *KafkaSender) Name() string { return "kafka" }

func (s *KafkaSender) Send(_ context.Context, event string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(partitionKey(payload)),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(event)},
			{Key: []byte("content-type"), Value: []byte("application/json")},
		},
	}
	_, _, err := s.producer.SendMessage(msg)
	return err
}

func (s *KafkaSender) Close() error {
	if s.producer == nil {
		return nil
	}
	return s.producer.Close()
}

// partitionKey is the booking id, or the date for events without a booking.
func partitionKey(payload []byte) string {
	var p struct {
		Booking *struct {
			ID string `json:"id"`
		} `json:"booking"`
		Date string `json:"date"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return ""
	}
	if p.Booking != nil && p.Booking.ID != "" {
		return p.Booking.ID
	}
	return p.Date
}
