package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func circularRide(opts ...txOpt) []txOpt {
	return append([]txOpt{
		pickup("Lagos", "Nigeria", 6.5244, 3.3792),
		dropoff(6.5250, 3.3795),
	}, opts...)
}

func TestCollusion_RepeatedCircularRides(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 10; i++ {
		h.Append(makeTx(circularRide(
			at(baseTime.Add(-time.Duration(i+1) * 12 * time.Hour)),
		)...))
	}
	d := NewCollusionDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(circularRide()...), h)

	// 80 base, +20 circular priors, +15 current circular, capped at 100.
	assert.Equal(t, 100.0, score)
	assert.True(t, hasRulePrefix(rules, "COLLUSION_HIGH"))
	assert.True(t, hasRulePrefix(rules, "COLLUSION_CIRCULAR"))
	assert.True(t, hasRulePrefix(rules, "COLLUSION_CIRCULAR_CURRENT"))
}

func TestCollusion_ModeratePairFrequency(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 5; i++ {
		h.Append(makeTx(at(baseTime.Add(-time.Duration(i+1) * 24 * time.Hour))))
	}
	d := NewCollusionDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), h)

	assert.Equal(t, 40.0, score)
	assert.True(t, hasRulePrefix(rules, "COLLUSION_MODERATE"))
}

func TestCollusion_DifferentDriverNotCounted(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 10; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*12*time.Hour)),
			driver("DRV999"),
		))
	}
	d := NewCollusionDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(driver("DRV001")), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestCollusion_RidesOlderThanSevenDaysIgnored(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 10; i++ {
		h.Append(makeTx(at(baseTime.Add(-8 * 24 * time.Hour).Add(-time.Duration(i) * time.Hour))))
	}
	d := NewCollusionDetector(DefaultThresholds())

	score, _ := d.Evaluate(makeTx(), h)

	assert.Equal(t, 0.0, score)
}
