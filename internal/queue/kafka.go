package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/models"
)

// KafkaPublisher sends scored assessment events to the analytics topic.
// Messages are keyed by transaction ID so replays for one transaction
// land on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer with full-ISR acks.
func NewKafkaPublisher(cfg configs.KafkaConfig) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V3_0_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.AssessmentTopic).
		Msg("Kafka publisher ready")
	return &KafkaPublisher{producer: producer, topic: cfg.AssessmentTopic}, nil
}

// PublishAssessments emits one message per scored assessment.
func (p *KafkaPublisher) PublishAssessments(ctx context.Context, events []*models.AssessmentEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal assessment event: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(event.Assessment.TransactionID),
			Value: sarama.ByteEncoder(payload),
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		return fmt.Errorf("publish assessment events: %w", err)
	}

	log.Debug().Int("count", len(events)).Str("topic", p.topic).Msg("Assessment events published")
	return nil
}

// Close shuts the producer down, flushing buffered messages.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
