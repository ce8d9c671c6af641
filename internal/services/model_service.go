package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/repositories"
	"github.com/ridesafe/fraud-engine/internal/scoring"
)

var ErrTransactionNotScored = errors.New("transaction has no stored assessment")

// ModelService trains and serves the supervised scorer.
type ModelService struct {
	registry       *scoring.Registry
	trainer        *scoring.Trainer
	assessmentRepo *repositories.AssessmentRepository
	txRepo         *repositories.TransactionRepository
	modelRepo      *repositories.ModelRepository
	auditRepo      *repositories.AuditRepository
}

// NewModelService creates a new model service
func NewModelService(
	registry *scoring.Registry,
	trainer *scoring.Trainer,
	assessmentRepo *repositories.AssessmentRepository,
	txRepo *repositories.TransactionRepository,
	modelRepo *repositories.ModelRepository,
	auditRepo *repositories.AuditRepository,
) *ModelService {
	return &ModelService{
		registry:       registry,
		trainer:        trainer,
		assessmentRepo: assessmentRepo,
		txRepo:         txRepo,
		modelRepo:      modelRepo,
		auditRepo:      auditRepo,
	}
}

// ModelStatus is the training state reported to operators.
type ModelStatus struct {
	Trained bool                    `json:"trained"`
	Metrics *models.TrainingMetrics `json:"metrics,omitempty"`
}

// Train fits a new model bundle from the stored labeled assessments and
// activates it.
func (s *ModelService) Train(ctx context.Context) (*models.TrainingMetrics, error) {
	assessments, txns, err := s.assessmentRepo.GetLabeledIndicators(ctx)
	if err != nil {
		return nil, fmt.Errorf("load training data: %w", err)
	}

	indicators := make(map[string]models.IndicatorScores, len(assessments))
	for _, a := range assessments {
		indicators[a.TransactionID] = a.Indicators
	}

	bundle, err := s.trainer.Train(txns, indicators)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Activate(bundle); err != nil {
		return nil, fmt.Errorf("activate model: %w", err)
	}

	if s.modelRepo != nil {
		if err := s.modelRepo.SaveTrainingRun(ctx, &bundle.Metrics); err != nil {
			log.Error().Err(err).Msg("Failed to record training run")
		}
	}
	s.audit(ctx, bundle)

	return &bundle.Metrics, nil
}

// Status reports whether a model is active and its training metrics.
func (s *ModelService) Status() *ModelStatus {
	bundle := s.registry.Active()
	if bundle == nil {
		return &ModelStatus{Trained: false}
	}
	return &ModelStatus{Trained: true, Metrics: &bundle.Metrics}
}

// Predict scores a stored transaction with the active model, returning
// the fraud probability as a percentage.
func (s *ModelService) Predict(ctx context.Context, transactionID string) (float64, error) {
	assessment, err := s.assessmentRepo.GetByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repositories.ErrAssessmentNotFound) {
			return 0, ErrTransactionNotScored
		}
		return 0, err
	}
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		return 0, err
	}

	return s.registry.Predict(scoring.ExtractFeatures(tx, assessment.Indicators))
}

func (s *ModelService) audit(ctx context.Context, bundle *scoring.Bundle) {
	if s.auditRepo == nil {
		return
	}
	entry := &models.AuditLog{
		EventType: models.AuditEventTraining,
		EntityID:  bundle.TrainedAt.Format("2006-01-02T15:04:05Z"),
		Action:    "train",
		Payload: models.JSONB{
			"trained_rows": bundle.Metrics.TrainedRows,
			"roc_auc":      bundle.Metrics.ROCAUC,
			"f1":           bundle.Metrics.F1,
		},
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to audit training run")
	}
}
