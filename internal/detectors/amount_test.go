package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func historyOfAmounts(amounts []float64, opts ...txOpt) *History {
	h := NewHistory()
	for i, a := range amounts {
		o := append([]txOpt{
			at(baseTime.Add(-time.Duration(len(amounts)-i) * time.Hour)),
			amount(a),
		}, opts...)
		h.Append(makeTx(o...))
	}
	return h
}

func TestAmount_ExtremeOutlierAgainstPersonalHistory(t *testing.T) {
	h := historyOfAmounts([]float64{2000, 2100, 1900, 2050, 1950, 2000})
	d := NewAmountDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(50000)), h)

	assert.Equal(t, 80.0, score)
	assert.True(t, hasRulePrefix(rules, "AMOUNT_EXTREME"))
}

func TestAmount_TypicalAmountScoresZero(t *testing.T) {
	h := historyOfAmounts([]float64{2000, 2100, 1900, 2050, 1950, 2000})
	d := NewAmountDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(2020)), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestAmount_PopulationFallbackUsesStricterThresholds(t *testing.T) {
	// User USR777 has no personal history; twelve other-currency-matching
	// rides form the population.
	h := NewHistory()
	for i := 0; i < 12; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*time.Hour)),
			user("USR500"), amount(2000),
		))
	}
	d := NewAmountDetector(DefaultThresholds())

	// Variance is zero so sigma falls back to 1; any large amount clears
	// the population extreme threshold of 4.
	score, rules := d.Evaluate(makeTx(user("USR777"), amount(2010)), h)

	assert.Equal(t, 80.0, score)
	assert.True(t, hasRulePrefix(rules, "AMOUNT_EXTREME"))
}

func TestAmount_TooLittleHistoryReturnsZero(t *testing.T) {
	h := historyOfAmounts([]float64{2000, 2100, 1900})
	d := NewAmountDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(90000)), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestAmount_DifferentCurrencyIgnored(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 12; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*time.Hour)),
			amount(100),
		))
	}
	d := NewAmountDetector(DefaultThresholds())

	tx := makeTx(amount(90000))
	tx.Currency = "KES"

	score, _ := d.Evaluate(tx, h)

	assert.Equal(t, 0.0, score)
}
