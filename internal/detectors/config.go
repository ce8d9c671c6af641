package detectors

import (
	"github.com/ridesafe/fraud-engine/configs"
)

// FromConfig maps the operator-facing risk configuration onto detector
// thresholds, falling back to defaults for parameters the configuration
// does not expose.
func FromConfig(cfg configs.RiskConfig) Thresholds {
	t := DefaultThresholds()
	if cfg.Velocity1hModerate > 0 {
		t.VelocityModerate1h = cfg.Velocity1hModerate
	}
	if cfg.Velocity24hHigh > 0 {
		t.VelocityHigh24h = cfg.Velocity24hHigh
	}
	if cfg.ImpossibleSpeedKmh > 0 {
		t.ImpossibleSpeedKmh = cfg.ImpossibleSpeedKmh
	}
	if cfg.SuspiciousSpeedKmh > 0 {
		t.SuspiciousSpeedKmh = cfg.SuspiciousSpeedKmh
	}
	if cfg.AmountZScoreExtreme > 0 {
		t.AmountZExtreme = cfg.AmountZScoreExtreme
	}
	if cfg.AmountZScoreHigh > 0 {
		t.AmountZHigh = cfg.AmountZScoreHigh
	}
	if cfg.CardTestingSmallTxns > 0 {
		t.CardTestingSmallTxns = cfg.CardTestingSmallTxns
	}
	if cfg.CardTestingMult > 0 {
		t.CardTestingMult = cfg.CardTestingMult
	}
	if cfg.CollusionHighRides > 0 {
		t.CollusionHighRides = cfg.CollusionHighRides
	}
	if cfg.CollusionModRides > 0 {
		t.CollusionModRides = cfg.CollusionModRides
	}
	return t
}
