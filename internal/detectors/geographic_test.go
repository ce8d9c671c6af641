package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGeographic_ImpossibleTravelLagosToNairobi(t *testing.T) {
	h := NewHistory()
	h.Append(makeTx(
		at(baseTime.Add(-15*time.Minute)),
		pickup("Lagos", "Nigeria", 6.5244, 3.3792),
	))
	d := NewGeographicDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(
		pickup("Nairobi", "Kenya", -1.2921, 36.8219),
	), h)

	assert.Equal(t, 100.0, score)
	assert.True(t, hasRulePrefix(rules, "GEO_IMPOSSIBLE_TRAVEL"))
}

func TestGeographic_CountryChangeWithinThreeHours(t *testing.T) {
	// Both hops are ~450-500km in 2.5h, well under the suspicious-speed
	// bar, so only the cross-border hop fires.
	h := NewHistory()
	h.Append(makeTx(
		at(baseTime.Add(-150*time.Minute)),
		pickup("Nairobi", "Kenya", -1.2921, 36.8219),
	))
	d := NewGeographicDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(
		pickup("Mombasa", "Kenya", -4.0435, 39.6682),
	), h)
	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)

	score, rules = d.Evaluate(makeTx(
		pickup("Kampala", "Uganda", 0.3476, 32.5825),
	), h)
	assert.Equal(t, 80.0, score)
	assert.True(t, hasRulePrefix(rules, "GEO_COUNTRY_CHANGE"))
}

func TestGeographic_NoPriorsReturnsZero(t *testing.T) {
	d := NewGeographicDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), NewHistory())

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestGeographic_OnlyRecentFivePriorsInspected(t *testing.T) {
	h := NewHistory()
	// The anomalous prior is sixth-most-recent and must be ignored.
	h.Append(makeTx(
		at(baseTime.Add(-30*time.Minute)),
		pickup("Nairobi", "Kenya", -1.2921, 36.8219),
	))
	for i := 0; i < 5; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*time.Minute)),
			pickup("Lagos", "Nigeria", 6.5244, 3.3792),
		))
	}
	d := NewGeographicDetector(DefaultThresholds())

	score, _ := d.Evaluate(makeTx(pickup("Lagos", "Nigeria", 6.5244, 3.3792)), h)

	assert.Equal(t, 0.0, score)
}

func TestGeographic_SameCityNormalTravel(t *testing.T) {
	h := NewHistory()
	h.Append(makeTx(
		at(baseTime.Add(-2*time.Hour)),
		pickup("Lagos", "Nigeria", 6.5244, 3.3792),
	))
	d := NewGeographicDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(pickup("Lagos", "Nigeria", 6.4550, 3.3841)), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}
