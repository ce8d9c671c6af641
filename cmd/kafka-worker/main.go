package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/analytics"
	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/queue"
)

// This worker does not score transactions; the Redis Stream worker handles
// that. It consumes the assessment events published after scoring and keeps
// the live dashboard counters and recent-event feed up to date.

func main() {
	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.AssessmentTopic).
		Str("group_id", cfg.Kafka.ConsumerGroup).
		Msg("Starting analytics worker")

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Version = sarama.V3_0_0_0

	// Kafka often comes up after the workers in compose environments.
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, saramaCfg)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &assessmentHandler{
		collector: analytics.NewCollector(cacheClient),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go handler.reportLoop(ctx)

	topics := []string{cfg.Kafka.AssessmentTopic}
	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Shutting down analytics worker")
			return
		}
	}
}

// assessmentHandler feeds consumed assessment events into the live
// analytics counters.
type assessmentHandler struct {
	collector *analytics.Collector
	consumed  int64
	malformed int64
}

func (h *assessmentHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics consumer session started")
	return nil
}

func (h *assessmentHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics consumer session ended")
	return nil
}

func (h *assessmentHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *assessmentHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var event models.AssessmentEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		h.malformed++
		log.Error().Err(err).Msg("Failed to parse assessment event")
		return
	}
	h.consumed++

	if err := h.collector.Record(ctx, &event); err != nil {
		log.Error().
			Err(err).
			Str("transaction_id", event.Assessment.TransactionID).
			Msg("Failed to record assessment event")
		return
	}

	if event.Assessment.RiskLevel == models.RiskLevelHigh {
		log.Warn().
			Str("transaction_id", event.Assessment.TransactionID).
			Int("risk_score", event.Assessment.RiskScore).
			Float64("amount", event.Amount).
			Msg("High risk assessment observed")
	}
}

func (h *assessmentHandler) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info().
				Int64("consumed", h.consumed).
				Int64("malformed", h.malformed).
				Msg("Analytics worker throughput")

		case <-ctx.Done():
			return
		}
	}
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
