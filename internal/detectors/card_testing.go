package detectors

import (
	"fmt"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// smallAmountThresholds is the per-currency cutoff below which a charge
// counts as a probe.
var smallAmountThresholds = map[string]float64{
	models.CurrencyNGN: 300,
	models.CurrencyKES: 150,
	models.CurrencyZAR: 30,
}

const defaultSmallThreshold = 300

// CardTestingDetector flags the probe-then-charge pattern: several small
// transactions on a card followed by a large one.
type CardTestingDetector struct {
	minSmallTxns int
	largeMult    float64
}

func NewCardTestingDetector(cfg Thresholds) *CardTestingDetector {
	return &CardTestingDetector{
		minSmallTxns: cfg.CardTestingSmallTxns,
		largeMult:    cfg.CardTestingMult,
	}
}

func (d *CardTestingDetector) Name() string { return NameCardTesting }

func (d *CardTestingDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time

	// Card activity strictly before t0 within the last 24 hours.
	var recent []*models.Transaction
	for _, p := range history.ByCard(tx.CardLast4) {
		ts := p.Timestamp.Time
		if ts.IsZero() {
			continue
		}
		diff := t0.Sub(ts)
		if diff > 0 && diff.Hours() <= 24 {
			recent = append(recent, p)
		}
	}
	if len(recent) == 0 {
		return 0, nil
	}

	smallThreshold, ok := smallAmountThresholds[tx.Currency]
	if !ok {
		smallThreshold = defaultSmallThreshold
	}

	numSmall := 0
	sumSmall := 0.0
	for _, p := range recent {
		if p.Amount < smallThreshold {
			numSmall++
			sumSmall += p.Amount
		}
	}
	avgSmall := 1.0
	if numSmall > 0 {
		avgSmall = sumSmall / float64(numSmall)
	}

	var score float64
	var rules []string
	switch {
	case numSmall >= d.minSmallTxns && tx.Amount > avgSmall*d.largeMult:
		score = 95
		rules = append(rules, fmt.Sprintf(
			"CARD_TESTING_CONFIRMED: %d small txns (avg=%.0f) then large=%v (%.0fx multiplier)",
			numSmall, avgSmall, tx.Amount, tx.Amount/avgSmall))
	case numSmall >= d.minSmallTxns && tx.Amount > avgSmall*5:
		score = 70
		rules = append(rules, fmt.Sprintf(
			"CARD_TESTING_LIKELY: %d small txns then medium-large=%v", numSmall, tx.Amount))
	case numSmall >= d.minSmallTxns:
		score = 50
		rules = append(rules, fmt.Sprintf(
			"CARD_TESTING_PROBING: %d small transactions from card ****%s", numSmall, tx.CardLast4))
	case numSmall >= 2 && tx.Amount > smallThreshold*d.largeMult:
		score = 40
		rules = append(rules, fmt.Sprintf(
			"CARD_TESTING_POSSIBLE: %d small txns before large=%v", numSmall, tx.Amount))
	}

	return score, rules
}
