// Package detectors implements the seven fraud-pattern indicators. Each
// detector inspects the current transaction against the accumulated history
// and returns a score in [0, 100] plus the human-readable rules that fired.
// Detectors never return errors: when there is no eligible history the score
// is 0 and no rules fire.
package detectors

import (
	"github.com/ridesafe/fraud-engine/internal/models"
)

// Detector is one fraud-pattern indicator.
type Detector interface {
	Name() string
	Evaluate(tx *models.Transaction, history *History) (float64, []string)
}

// Indicator names, in evaluation order.
const (
	NameVelocity    = "velocity"
	NameGeographic  = "geographic"
	NameAmount      = "amount"
	NameCardTesting = "card_testing"
	NameCollusion   = "collusion"
	NameATO         = "ato"
	NameFraudRing   = "fraud_ring"
)

// Thresholds carries the operator-tunable detector parameters.
type Thresholds struct {
	VelocityModerate1h   int
	VelocityHigh24h      int
	ImpossibleSpeedKmh   float64
	SuspiciousSpeedKmh   float64
	AmountZExtreme       float64
	AmountZHigh          float64
	AmountZElevated      float64
	CardTestingSmallTxns int
	CardTestingMult      float64
	CollusionHighRides   int
	CollusionModRides    int
}

// DefaultThresholds returns the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VelocityModerate1h:   3,
		VelocityHigh24h:      15,
		ImpossibleSpeedKmh:   900,
		SuspiciousSpeedKmh:   500,
		AmountZExtreme:       3.0,
		AmountZHigh:          2.0,
		AmountZElevated:      1.5,
		CardTestingSmallTxns: 3,
		CardTestingMult:      10.0,
		CollusionHighRides:   8,
		CollusionModRides:    5,
	}
}

// All constructs the seven detectors in their fixed evaluation order:
// velocity, geographic, amount, card_testing, collusion, ato, fraud_ring.
// The order is part of the output contract; triggered rules are emitted in
// this sequence.
func All(cfg Thresholds) []Detector {
	return []Detector{
		NewVelocityDetector(cfg),
		NewGeographicDetector(cfg),
		NewAmountDetector(cfg),
		NewCardTestingDetector(cfg),
		NewCollusionDetector(cfg),
		NewAccountTakeoverDetector(cfg),
		NewFraudRingDetector(cfg),
	}
}

func capScore(s float64) float64 {
	if s > 100 {
		return 100
	}
	if s < 0 {
		return 0
	}
	return s
}
