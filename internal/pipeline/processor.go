// Package pipeline contains the batch scoring orchestrator and the stream
// feeding it.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/internal/detectors"
	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/scoring"
)

// ErrBadTimestamp is returned when the current transaction's timestamp is
// missing or unparseable. Bad timestamps in history are tolerated; a bad
// timestamp on the transaction being scored is fatal for that batch.
var ErrBadTimestamp = errors.New("transaction timestamp missing or unparseable")

// Processor runs transactions through the seven detectors and the hybrid
// scorer, maintaining the running history. A Processor owns its history
// and must not be shared across goroutines.
type Processor struct {
	detectors []detectors.Detector
	scorer    *scoring.HybridScorer
	history   *detectors.History
}

// NewProcessor builds a processor with an empty history.
func NewProcessor(thresholds detectors.Thresholds, scorer *scoring.HybridScorer) *Processor {
	return &Processor{
		detectors: detectors.All(thresholds),
		scorer:    scorer,
		history:   detectors.NewHistory(),
	}
}

// SeedHistory appends transactions to the running history without scoring
// them.
func (p *Processor) SeedHistory(txns []*models.Transaction) {
	for _, tx := range txns {
		p.history.Append(tx)
	}
}

// HistorySize returns the number of transactions in the running history.
func (p *Processor) HistorySize() int {
	return p.history.Len()
}

// ProcessBatch scores the batch in order. Each transaction is evaluated
// against the history accumulated so far, then appended to it, so ordering
// within a batch is a correctness contract. On a bad current timestamp the
// batch stops and the assessments produced so far are returned with the
// error.
func (p *Processor) ProcessBatch(batch []*models.Transaction) ([]*models.RiskAssessment, error) {
	assessments := make([]*models.RiskAssessment, 0, len(batch))
	for _, tx := range batch {
		assessment, err := p.processOne(tx)
		if err != nil {
			return assessments, err
		}
		assessments = append(assessments, assessment)
		p.history.Append(tx)
	}
	return assessments, nil
}

func (p *Processor) processOne(tx *models.Transaction) (*models.RiskAssessment, error) {
	if tx.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: transaction %s", ErrBadTimestamp, tx.TransactionID)
	}

	var ind models.IndicatorScores
	var rules []string
	for _, det := range p.detectors {
		score, fired := det.Evaluate(tx, p.history)
		rules = append(rules, fired...)
		switch det.Name() {
		case detectors.NameVelocity:
			ind.Velocity = score
		case detectors.NameGeographic:
			ind.Geographic = score
		case detectors.NameAmount:
			ind.Amount = score
		case detectors.NameCardTesting:
			ind.CardTesting = score
		case detectors.NameCollusion:
			ind.Collusion = score
		case detectors.NameATO:
			ind.ATO = score
		case detectors.NameFraudRing:
			ind.FraudRing = score
		}
	}

	finalScore, level, mlScore := p.scorer.Score(tx, ind)

	if level == models.RiskLevelHigh {
		log.Debug().
			Str("transaction_id", tx.TransactionID).
			Int("risk_score", finalScore).
			Strs("rules", rules).
			Msg("High risk transaction flagged")
	}

	if rules == nil {
		rules = []string{}
	}
	return &models.RiskAssessment{
		ID:             uuid.New(),
		TransactionID:  tx.TransactionID,
		RiskScore:      finalScore,
		RiskLevel:      level,
		Indicators:     ind,
		MLScore:        mlScore,
		TriggeredRules: rules,
		ProcessedAt:    time.Now().UTC(),
	}, nil
}
