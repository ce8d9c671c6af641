package detectors

import (
	"fmt"
	"time"

	"github.com/ridesafe/fraud-engine/internal/geo"
	"github.com/ridesafe/fraud-engine/internal/models"
)

// circularRouteKm is the pickup-to-dropoff distance under which a ride is
// treated as going nowhere.
const circularRouteKm = 0.5

// CollusionDetector flags rider/driver pairs that ride together far more
// often than organic usage produces, especially on circular routes.
type CollusionDetector struct {
	highRides     int
	moderateRides int
}

func NewCollusionDetector(cfg Thresholds) *CollusionDetector {
	return &CollusionDetector{
		highRides:     cfg.CollusionHighRides,
		moderateRides: cfg.CollusionModRides,
	}
}

func (d *CollusionDetector) Name() string { return NameCollusion }

func (d *CollusionDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time
	windowStart := t0.Add(-7 * 24 * time.Hour)

	pairCount := 0
	circularCount := 0
	for _, p := range history.ByPair(tx.UserID, tx.DriverID) {
		ts := p.Timestamp.Time
		if ts.IsZero() || ts.Before(windowStart) || ts.After(t0) {
			continue
		}
		pairCount++
		route := geo.DistanceKm(p.PickupLat, p.PickupLng, p.DropoffLat, p.DropoffLng)
		if route < circularRouteKm {
			circularCount++
		}
	}

	var score float64
	var rules []string
	if pairCount >= d.highRides {
		score = 80
		rules = append(rules, fmt.Sprintf(
			"COLLUSION_HIGH: %d rides between %s and %s in 7 days", pairCount, tx.UserID, tx.DriverID))
	} else if pairCount >= d.moderateRides {
		score = 40
		rules = append(rules, fmt.Sprintf(
			"COLLUSION_MODERATE: %d rides between %s and %s in 7 days", pairCount, tx.UserID, tx.DriverID))
	}

	if circularCount >= 3 {
		score = capScore(score + 20)
		rules = append(rules, fmt.Sprintf(
			"COLLUSION_CIRCULAR: %d circular routes (pickup~=dropoff)", circularCount))
	}

	if tx.PickupLat != 0 && tx.DropoffLat != 0 {
		current := geo.DistanceKm(tx.PickupLat, tx.PickupLng, tx.DropoffLat, tx.DropoffLng)
		if current < circularRouteKm && pairCount >= 3 {
			score = capScore(score + 15)
			rules = append(rules, fmt.Sprintf(
				"COLLUSION_CIRCULAR_CURRENT: route distance only %.2fkm", current))
		}
	}

	return score, rules
}
