package detectors

import (
	"fmt"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// VelocityDetector flags unusually high transaction frequency for a user,
// card, or device.
type VelocityDetector struct {
	moderate1h int
	high24h    int
}

func NewVelocityDetector(cfg Thresholds) *VelocityDetector {
	return &VelocityDetector{
		moderate1h: cfg.VelocityModerate1h,
		high24h:    cfg.VelocityHigh24h,
	}
}

func (d *VelocityDetector) Name() string { return NameVelocity }

func (d *VelocityDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time

	user1h := countInWindow(history.ByUser(tx.UserID), t0, time.Hour)
	user24h := countInWindow(history.ByUser(tx.UserID), t0, 24*time.Hour)
	card1h := countInWindow(history.ByCard(tx.CardLast4), t0, time.Hour)
	card2h := countInWindow(history.ByCard(tx.CardLast4), t0, 2*time.Hour)
	device1h := countInWindow(history.ByDevice(tx.DeviceID), t0, time.Hour)

	max1h := maxInt(user1h, card1h, device1h)
	max2h := maxInt(card2h, user1h)

	var rules []string
	var score float64

	switch {
	case max1h >= 10:
		score = 100
		rules = append(rules, fmt.Sprintf("VELOCITY_EXTREME: %d transactions in 1h", max1h))
	case max1h >= 8:
		score = 80
		rules = append(rules, fmt.Sprintf("VELOCITY_VERY_HIGH: %d transactions in 1h", max1h))
	case max1h >= 6:
		score = 50
		rules = append(rules, fmt.Sprintf("VELOCITY_HIGH: %d transactions in 1h", max1h))
	case max1h >= d.moderate1h:
		score = 20
		rules = append(rules, fmt.Sprintf("VELOCITY_MODERATE: %d transactions in 1h", max1h))
	}

	if max2h >= 10 {
		if 90 > score {
			score = 90
		}
		rules = append(rules, fmt.Sprintf("VELOCITY_2H_HIGH: %d transactions in 2h", max2h))
	}

	if user24h >= d.high24h {
		if 60 > score {
			score = 60
		}
		rules = append(rules, fmt.Sprintf("VELOCITY_24H_HIGH: %d transactions in 24h", user24h))
	}

	return capScore(score), rules
}

// countInWindow counts transactions whose timestamp falls in
// [t0-window, t0]. Entries with an unparseable (zero) timestamp are
// skipped.
func countInWindow(txns []*models.Transaction, t0 time.Time, window time.Duration) int {
	start := t0.Add(-window)
	n := 0
	for _, tx := range txns {
		ts := tx.Timestamp.Time
		if ts.IsZero() {
			continue
		}
		if !ts.Before(start) && !ts.After(t0) {
			n++
		}
	}
	return n
}

func maxInt(vals ...int) int {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
