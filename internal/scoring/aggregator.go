package scoring

import (
	"math"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// Indicator weights in IndicatorScores.Values() order: velocity,
// geographic, amount, card_testing, collusion, ato, fraud_ring. Velocity
// and geography carry the most signal; the network indicators act mostly
// through the multi-indicator floors below.
var ruleWeights = []float64{0.25, 0.25, 0.15, 0.20, 0.05, 0.05, 0.05}

// RuleAggregator folds the seven indicator scores into a single rule-based
// risk score and band.
type RuleAggregator struct {
	lowThreshold  int
	highThreshold int
}

// NewRuleAggregator builds an aggregator with the given band thresholds.
// low is the bottom of the medium_risk band, high the bottom of high_risk.
func NewRuleAggregator(low, high int) *RuleAggregator {
	return &RuleAggregator{lowThreshold: low, highThreshold: high}
}

// Aggregate computes the weighted score, applies the single-indicator and
// multi-indicator floors, and returns the clamped score with its band.
func (a *RuleAggregator) Aggregate(ind models.IndicatorScores) (int, string) {
	weighted := 0.0
	values := ind.Values()
	for i, w := range ruleWeights {
		weighted += values[i] * w
	}
	score := int(math.Round(weighted))

	// A single near-certain indicator should not be diluted by the weights.
	maxInd := ind.Max()
	if maxInd >= 90 && score < 80 {
		score = 80
	} else if maxInd >= 70 && score < 65 {
		score = 65
	}

	// Corroboration across indicators is itself a signal.
	strong := 0
	for _, v := range values {
		if v >= 20 {
			strong++
		}
	}
	if strong >= 3 && score < 70 {
		score = 70
	} else if strong >= 2 && score < 55 {
		score = 55
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score, a.LevelFor(score)
}

// LevelFor maps a risk score to its band.
func (a *RuleAggregator) LevelFor(score int) string {
	switch {
	case score >= a.highThreshold:
		return models.RiskLevelHigh
	case score >= a.lowThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}
