package scoring

import (
	"math"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// Rule and ML blend weights. The model gets the larger share once it is
// trained; until then the rule score passes through untouched.
const (
	ruleWeight = 0.4
	mlWeight   = 0.6
)

// HybridScorer blends the rule-based score with the active model's
// probability.
type HybridScorer struct {
	aggregator *RuleAggregator
	registry   *Registry
}

func NewHybridScorer(aggregator *RuleAggregator, registry *Registry) *HybridScorer {
	return &HybridScorer{aggregator: aggregator, registry: registry}
}

// Score combines the indicators into the final risk score and band. The
// returned ml score is nil when no model is active.
func (s *HybridScorer) Score(tx *models.Transaction, ind models.IndicatorScores) (int, string, *float64) {
	ruleScore, ruleLevel := s.aggregator.Aggregate(ind)

	bundle := s.registry.Active()
	if bundle == nil {
		return ruleScore, ruleLevel, nil
	}

	mlScore := bundle.PredictProba(ExtractFeatures(tx, ind))
	final := int(math.Round(ruleWeight*float64(ruleScore) + mlWeight*mlScore))
	if final > 100 {
		final = 100
	}
	if final < 0 {
		final = 0
	}
	return final, s.aggregator.LevelFor(final), &mlScore
}
