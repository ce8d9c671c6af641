package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ridesafe/fraud-engine/configs"
)

func TestFromConfig_ZeroConfigKeepsDefaults(t *testing.T) {
	got := FromConfig(configs.RiskConfig{})

	assert.Equal(t, DefaultThresholds(), got)
}

func TestFromConfig_OverridesApply(t *testing.T) {
	got := FromConfig(configs.RiskConfig{
		Velocity1hModerate: 5,
		Velocity24hHigh:    20,
		ImpossibleSpeedKmh: 1000,
		CollusionHighRides: 8,
	})

	assert.Equal(t, 5, got.VelocityModerate1h)
	assert.Equal(t, 20, got.VelocityHigh24h)
	assert.Equal(t, 1000.0, got.ImpossibleSpeedKmh)
	assert.Equal(t, 8, got.CollusionHighRides)

	// Untouched parameters keep their defaults.
	def := DefaultThresholds()
	assert.Equal(t, def.SuspiciousSpeedKmh, got.SuspiciousSpeedKmh)
	assert.Equal(t, def.AmountZExtreme, got.AmountZExtreme)
	assert.Equal(t, def.CardTestingSmallTxns, got.CardTestingSmallTxns)
}
