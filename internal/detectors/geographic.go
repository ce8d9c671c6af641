package detectors

import (
	"fmt"
	"sort"

	"github.com/ridesafe/fraud-engine/internal/geo"
	"github.com/ridesafe/fraud-engine/internal/models"
)

// GeographicDetector flags travel between pickups that is physically
// implausible given the elapsed time.
type GeographicDetector struct {
	impossibleKmh float64
	suspiciousKmh float64
}

func NewGeographicDetector(cfg Thresholds) *GeographicDetector {
	return &GeographicDetector{
		impossibleKmh: cfg.ImpossibleSpeedKmh,
		suspiciousKmh: cfg.SuspiciousSpeedKmh,
	}
}

func (d *GeographicDetector) Name() string { return NameGeographic }

func (d *GeographicDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time

	var priors []*models.Transaction
	for _, p := range history.ByUser(tx.UserID) {
		ts := p.Timestamp.Time
		if ts.IsZero() || !ts.Before(t0) {
			continue
		}
		priors = append(priors, p)
	}
	if len(priors) == 0 {
		return 0, nil
	}

	sort.SliceStable(priors, func(i, j int) bool {
		return priors[i].Timestamp.Time.After(priors[j].Timestamp.Time)
	})
	if len(priors) > 5 {
		priors = priors[:5]
	}

	var rules []string
	var maxScore float64

	for _, prev := range priors {
		dtHours := t0.Sub(prev.Timestamp.Time).Hours()
		if dtHours <= 0 {
			continue
		}
		distKm := geo.DistanceKm(prev.PickupLat, prev.PickupLng, tx.PickupLat, tx.PickupLng)
		speedKmh := distKm / dtHours

		switch {
		case speedKmh > d.impossibleKmh && distKm > 100:
			if 100 > maxScore {
				maxScore = 100
			}
			rules = append(rules, fmt.Sprintf(
				"GEO_IMPOSSIBLE_TRAVEL: %.0fkm in %.1fh (%.0fkm/h) from %s to %s",
				distKm, dtHours, speedKmh, prev.PickupCity, tx.PickupCity))
		case speedKmh > d.suspiciousKmh && distKm > 100:
			if 70 > maxScore {
				maxScore = 70
			}
			rules = append(rules, fmt.Sprintf(
				"GEO_SUSPICIOUS_TRAVEL: %.0fkm in %.1fh (%.0fkm/h)",
				distKm, dtHours, speedKmh))
		case prev.PickupCountry != tx.PickupCountry && dtHours < 3:
			if 80 > maxScore {
				maxScore = 80
			}
			rules = append(rules, fmt.Sprintf(
				"GEO_COUNTRY_CHANGE: %s to %s in %.1fh",
				prev.PickupCountry, tx.PickupCountry, dtHours))
		}
	}

	return capScore(maxScore), rules
}
