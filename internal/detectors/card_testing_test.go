package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCardTesting_SmallProbesThenLargeCharge(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*20*time.Minute)),
			amount(100),
		))
	}
	d := NewCardTestingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(12000)), h)

	assert.Equal(t, 95.0, score)
	assert.True(t, hasRulePrefix(rules, "CARD_TESTING_CONFIRMED"))
}

func TestCardTesting_ProbingPhaseOnly(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*20*time.Minute)),
			amount(100),
		))
	}
	d := NewCardTestingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(150)), h)

	assert.Equal(t, 50.0, score)
	assert.True(t, hasRulePrefix(rules, "CARD_TESTING_PROBING"))
}

func TestCardTesting_TwoProbesAndVeryLargeCharge(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 2; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*20*time.Minute)),
			amount(100),
		))
	}
	d := NewCardTestingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(5000)), h)

	assert.Equal(t, 40.0, score)
	assert.True(t, hasRulePrefix(rules, "CARD_TESTING_POSSIBLE"))
}

func TestCardTesting_KESThreshold(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 3; i++ {
		tx := makeTx(
			at(baseTime.Add(-time.Duration(i+1)*20*time.Minute)),
			amount(100),
		)
		tx.Currency = "KES"
		h.Append(tx)
	}
	d := NewCardTestingDetector(DefaultThresholds())

	cur := makeTx(amount(2000))
	cur.Currency = "KES"

	score, rules := d.Evaluate(cur, h)

	assert.Equal(t, 95.0, score)
	assert.True(t, hasRulePrefix(rules, "CARD_TESTING_CONFIRMED"))
}

func TestCardTesting_ProbesOutsideWindowIgnored(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-25*time.Hour).Add(-time.Duration(i)*time.Hour)),
			amount(100),
		))
	}
	d := NewCardTestingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(amount(12000)), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestCardTesting_DifferentCardIgnored(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*20*time.Minute)),
			amount(100), card("9999"),
		))
	}
	d := NewCardTestingDetector(DefaultThresholds())

	score, _ := d.Evaluate(makeTx(amount(12000), card("1234")), h)

	assert.Equal(t, 0.0, score)
}
