package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/detectors"
	"github.com/ridesafe/fraud-engine/internal/pipeline"
	"github.com/ridesafe/fraud-engine/internal/queue"
	"github.com/ridesafe/fraud-engine/internal/repositories"
	"github.com/ridesafe/fraud-engine/internal/scoring"
)

func main() {
	cfg := configs.Load()
	setupLogging(cfg.Server.Environment)

	workerID := "scoring-worker-" + uuid.New().String()[:8]

	log.Info().
		Str("worker_id", workerID).
		Str("environment", cfg.Server.Environment).
		Msg("Starting scoring worker")

	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis stream")
	}
	defer streamClient.Close()

	kafkaPublisher, err := queue.NewKafkaPublisher(cfg.Kafka)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Kafka")
	}
	defer kafkaPublisher.Close()

	txRepo := repositories.NewTransactionRepository(db)
	assessmentRepo := repositories.NewAssessmentRepository(db)

	registry := scoring.NewRegistry(cfg.Model.Dir)
	if err := registry.Load(); err != nil {
		log.Warn().Err(err).Msg("Could not load persisted model, scoring on rules only")
	}
	aggregator := scoring.NewRuleAggregator(cfg.Risk.LowRiskThreshold, cfg.Risk.HighRiskThreshold)
	scorer := scoring.NewHybridScorer(aggregator, registry)

	processor := pipeline.NewProcessor(detectors.FromConfig(cfg.Risk), scorer)
	seedHistory(processor, txRepo)

	worker := pipeline.NewWorker(workerID, processor, streamClient, cfg.Worker, txRepo, assessmentRepo, kafkaPublisher)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := worker.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Worker failed")
	}

	metrics := worker.Metrics()
	log.Info().
		Int64("processed", metrics.ProcessedCount).
		Int64("failed", metrics.FailedCount).
		Msg("Worker exited")
}

// seedHistory preloads the velocity and geolocation baselines from the
// stored transactions so a restarted worker scores like one that has
// been running all along.
func seedHistory(processor *pipeline.Processor, txRepo *repositories.TransactionRepository) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	txns, err := txRepo.GetAllOrdered(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not seed transaction history, starting cold")
		return
	}
	processor.SeedHistory(txns)
	log.Info().Int("transactions", len(txns)).Msg("Seeded transaction history")
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
