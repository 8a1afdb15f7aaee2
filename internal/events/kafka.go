package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog/log"
)

// KafkaPublisher produces events to one topic keyed by meeting id, so a
// meeting's events stay ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
	done     chan struct{}
}

func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "huddle-meeting-events"
	}
	kp := &KafkaPublisher{producer: p, topic: topic, done: make(chan struct{})}
	go kp.deliveryReports()
	return kp, nil
}

func (k *KafkaPublisher) Publish(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.topic, Partition: kafka.PartitionAny},
		Key:            []byte(event.MeetingID),
		Value:          data,
	}, nil)
}

func (k *KafkaPublisher) deliveryReports() {
	for {
		select {
		case <-k.done:
			return
		case e, ok := <-k.producer.Events():
			if !ok {
				return
			}
			if m, isMsg := e.(*kafka.Message); isMsg && m.TopicPartition.Error != nil {
				log.Warn().Err(m.TopicPartition.Error).Str("module", "events.kafka").Msg("delivery failed")
			}
		}
	}
}

func (k *KafkaPublisher) Close() error {
	k.producer.Flush(5000)
	close(k.done)
	k.producer.Close()
	return nil
}
