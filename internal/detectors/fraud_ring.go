package detectors

import (
	"fmt"
	"sort"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// FraudRingDetector flags coordinated groups of accounts transacting from a
// shared device with suspiciously similar amounts or tightly clustered
// timing.
type FraudRingDetector struct{}

func NewFraudRingDetector(cfg Thresholds) *FraudRingDetector {
	return &FraudRingDetector{}
}

func (d *FraudRingDetector) Name() string { return NameFraudRing }

func (d *FraudRingDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time
	windowStart := t0.Add(-7 * 24 * time.Hour)

	users := map[string]struct{}{tx.UserID: {}}
	var deviceTxns []*models.Transaction
	for _, p := range history.ByDevice(tx.DeviceID) {
		ts := p.Timestamp.Time
		if ts.IsZero() || ts.Before(windowStart) || ts.After(t0) {
			continue
		}
		users[p.UserID] = struct{}{}
		deviceTxns = append(deviceTxns, p)
	}
	numUsers := len(users)

	var score float64
	var rules []string
	switch {
	case numUsers >= 4:
		score = 90
		rules = append(rules, fmt.Sprintf(
			"FRAUD_RING_HIGH: %d users sharing device %s...", numUsers, truncateID(tx.DeviceID, 12)))
	case numUsers == 3:
		score = 70
		rules = append(rules, fmt.Sprintf(
			"FRAUD_RING_MODERATE: %d users sharing device %s...", numUsers, truncateID(tx.DeviceID, 12)))
	case numUsers == 2:
		score = 20
		rules = append(rules, fmt.Sprintf("FRAUD_RING_LOW: %d users sharing device", numUsers))
	}

	if numUsers >= 3 && len(deviceTxns) > 0 {
		sum := 0.0
		for _, p := range deviceTxns {
			sum += p.Amount
		}
		mean := sum / float64(len(deviceTxns))
		if mean > 0 {
			similar := 0
			for _, p := range deviceTxns {
				diff := p.Amount - mean
				if diff < 0 {
					diff = -diff
				}
				if diff/mean < 0.2 {
					similar++
				}
			}
			ratio := float64(similar) / float64(len(deviceTxns))
			if ratio > 0.7 {
				score = capScore(score + 20)
				rules = append(rules, fmt.Sprintf(
					"FRAUD_RING_SIMILAR_AMOUNTS: %.0f%% of transactions within 20%% of avg=%.0f",
					ratio*100, mean))
			}
		}
	}

	if numUsers >= 3 {
		var times []time.Time
		for _, p := range deviceTxns {
			if !p.Timestamp.IsZero() {
				times = append(times, p.Timestamp.Time)
			}
		}
		if len(times) >= 5 {
			sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
			spanHours := times[len(times)-1].Sub(times[0]).Hours()
			if spanHours < 24 {
				score = capScore(score + 15)
				rules = append(rules, fmt.Sprintf(
					"FRAUD_RING_TIME_CLUSTER: %d transactions in %.1fh", len(times), spanHours))
			}
		}
	}

	return score, rules
}

func truncateID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}
