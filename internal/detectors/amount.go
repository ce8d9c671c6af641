package detectors

import (
	"fmt"
	"math"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// AmountDetector flags transaction amounts that are statistical outliers
// against the user's spending history, falling back to the currency-wide
// population when the user is new.
type AmountDetector struct {
	zExtreme  float64
	zHigh     float64
	zElevated float64
}

func NewAmountDetector(cfg Thresholds) *AmountDetector {
	return &AmountDetector{
		zExtreme:  cfg.AmountZExtreme,
		zHigh:     cfg.AmountZHigh,
		zElevated: cfg.AmountZElevated,
	}
}

func (d *AmountDetector) Name() string { return NameAmount }

func (d *AmountDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time

	var amounts []float64
	for _, p := range history.ByUser(tx.UserID) {
		ts := p.Timestamp.Time
		if ts.IsZero() || !ts.Before(t0) {
			continue
		}
		if p.Currency != tx.Currency {
			continue
		}
		amounts = append(amounts, p.Amount)
	}

	// Thin personal history: fall back to the whole currency population,
	// with stricter thresholds to keep false positives down.
	usingPopulation := false
	if len(amounts) < 5 {
		amounts = amounts[:0]
		for _, p := range history.All() {
			if p.Currency == tx.Currency {
				amounts = append(amounts, p.Amount)
			}
		}
		if len(amounts) < 10 {
			return 0, nil
		}
		usingPopulation = true
	}

	mean := 0.0
	for _, a := range amounts {
		mean += a
	}
	mean /= float64(len(amounts))

	variance := 0.0
	for _, a := range amounts {
		variance += (a - mean) * (a - mean)
	}
	variance /= float64(len(amounts))

	std := 1.0
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	z := (tx.Amount - mean) / std

	extreme, high, elevated := d.zExtreme, d.zHigh, d.zElevated
	if usingPopulation {
		extreme, high, elevated = 4.0, 3.0, 2.5
	}

	var score float64
	var rules []string
	switch {
	case z > extreme:
		score = 80
		rules = append(rules, fmt.Sprintf("AMOUNT_EXTREME: z-score=%.1f, amount=%v vs avg=%.0f", z, tx.Amount, mean))
	case z > high:
		score = 50
		rules = append(rules, fmt.Sprintf("AMOUNT_HIGH: z-score=%.1f, amount=%v vs avg=%.0f", z, tx.Amount, mean))
	case z > elevated:
		score = 30
		rules = append(rules, fmt.Sprintf("AMOUNT_ELEVATED: z-score=%.1f, amount=%v vs avg=%.0f", z, tx.Amount, mean))
	}

	return score, rules
}
