package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/configs"
	"github.com/ridesafe/fraud-engine/internal/datagen"
	"github.com/ridesafe/fraud-engine/internal/detectors"
	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/pipeline"
	"github.com/ridesafe/fraud-engine/internal/repositories"
	"github.com/ridesafe/fraud-engine/internal/scoring"
)

var ErrPipelineNotLoaded = errors.New("pipeline not loaded")

// PipelineService controls the CSV replay pipeline: loading the stream,
// starting and stopping the batch loop, and reporting progress.
type PipelineService struct {
	cfg    *configs.Config
	scorer *scoring.HybridScorer

	txSink    pipeline.TransactionSink
	asSink    pipeline.AssessmentSink
	publisher pipeline.EventPublisher
	auditRepo *repositories.AuditRepository

	mu     sync.Mutex
	runner *pipeline.Runner
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	cfg *configs.Config,
	scorer *scoring.HybridScorer,
	txSink pipeline.TransactionSink,
	asSink pipeline.AssessmentSink,
	publisher pipeline.EventPublisher,
	auditRepo *repositories.AuditRepository,
) *PipelineService {
	return &PipelineService{
		cfg:       cfg,
		scorer:    scorer,
		txSink:    txSink,
		asSink:    asSink,
		publisher: publisher,
		auditRepo: auditRepo,
	}
}

// Start loads the configured CSV on first use and launches the batch
// loop.
func (s *PipelineService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runner == nil {
		stream, err := s.loadStream()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("load transaction stream: %w", err)
		}
		s.runner = pipeline.NewRunner(
			stream,
			s.newProcessor(),
			s.cfg.Pipeline.BatchInterval,
			s.txSink,
			s.asSink,
			s.publisher,
		)
	}
	runner := s.runner
	s.mu.Unlock()

	if err := runner.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	s.audit(ctx, "start", nil)
	return nil
}

// Stop halts the batch loop.
func (s *PipelineService) Stop(ctx context.Context) error {
	runner := s.current()
	if runner == nil {
		return pipeline.ErrNotRunning
	}
	if err := runner.Stop(); err != nil {
		return err
	}

	status := runner.Status()
	s.audit(ctx, "stop", models.JSONB{
		"processed": status.Processed,
		"batches":   status.Batches,
	})
	return nil
}

// Reset rewinds the stream and discards the accumulated history so a
// replay scores identically.
func (s *PipelineService) Reset(ctx context.Context) error {
	runner := s.current()
	if runner == nil {
		return ErrPipelineNotLoaded
	}
	if err := runner.Reset(s.newProcessor()); err != nil {
		return err
	}
	s.audit(ctx, "reset", nil)
	return nil
}

// Status reports the pipeline's progress. Before the first Start the
// zero status is returned.
func (s *PipelineService) Status() pipeline.Status {
	runner := s.current()
	if runner == nil {
		return pipeline.Status{}
	}
	return runner.Status()
}

// loadStream reads the configured CSV dump, falling back to a seeded
// synthetic dataset when no dump exists.
func (s *PipelineService) loadStream() (*pipeline.TransactionStream, error) {
	if _, err := os.Stat(s.cfg.Pipeline.CSVPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Warn().
			Str("path", s.cfg.Pipeline.CSVPath).
			Msg("Transaction dump not found, generating synthetic dataset")
		txns := datagen.New(s.cfg.Pipeline.GeneratorSeed).Generate(s.cfg.Pipeline.GeneratorSize)
		return pipeline.NewTransactionStreamFromSlice(txns, s.cfg.Pipeline.BatchSize), nil
	}
	return pipeline.NewTransactionStream(s.cfg.Pipeline.CSVPath, s.cfg.Pipeline.BatchSize)
}

func (s *PipelineService) current() *pipeline.Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runner
}

func (s *PipelineService) newProcessor() *pipeline.Processor {
	return pipeline.NewProcessor(detectors.FromConfig(s.cfg.Risk), s.scorer)
}

func (s *PipelineService) audit(ctx context.Context, action string, payload models.JSONB) {
	if s.auditRepo == nil {
		return
	}
	entry := &models.AuditLog{
		EventType: models.AuditEventPipeline,
		EntityID:  s.cfg.Pipeline.CSVPath,
		Action:    action,
		Payload:   payload,
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Error().Err(err).Str("action", action).Msg("Failed to audit pipeline action")
	}
}
