package detectors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFraudRing_FourUsersSharingDevice(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*time.Hour)),
			user(fmt.Sprintf("USR%03d", 100+i)),
			device("dev-shared"),
			amount(800),
		))
	}
	d := NewFraudRingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(user("USR100"), device("dev-shared"), amount(800)), h)

	// 4 distinct users at 90, plus the similar-amounts boost.
	assert.GreaterOrEqual(t, score, 90.0)
	assert.True(t, hasRulePrefix(rules, "FRAUD_RING_HIGH"))
	assert.True(t, hasRulePrefix(rules, "FRAUD_RING_SIMILAR_AMOUNTS"))
}

func TestFraudRing_TwoUsersLowSignal(t *testing.T) {
	h := NewHistory()
	h.Append(makeTx(
		at(baseTime.Add(-time.Hour)),
		user("USR200"), device("dev-shared"),
	))
	d := NewFraudRingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(user("USR100"), device("dev-shared")), h)

	assert.Equal(t, 20.0, score)
	assert.True(t, hasRulePrefix(rules, "FRAUD_RING_LOW"))
}

func TestFraudRing_TimeClusterBoost(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 6; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*time.Hour)),
			user(fmt.Sprintf("USR%03d", 100+i%3)),
			device("dev-shared"),
			amount(float64(500+i*400)),
		))
	}
	d := NewFraudRingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(user("USR100"), device("dev-shared"), amount(5000)), h)

	// 3 distinct users at 70, +15 for six transactions inside 24 hours.
	assert.Equal(t, 85.0, score)
	assert.True(t, hasRulePrefix(rules, "FRAUD_RING_MODERATE"))
	assert.True(t, hasRulePrefix(rules, "FRAUD_RING_TIME_CLUSTER"))
}

func TestFraudRing_SingleUserReturnsZero(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 5; i++ {
		h.Append(makeTx(at(baseTime.Add(-time.Duration(i+1) * time.Hour))))
	}
	d := NewFraudRingDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestFraudRing_OldDeviceActivityIgnored(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-8*24*time.Hour)),
			user(fmt.Sprintf("USR%03d", 100+i)),
			device("dev-shared"),
		))
	}
	d := NewFraudRingDetector(DefaultThresholds())

	score, _ := d.Evaluate(makeTx(user("USR100"), device("dev-shared")), h)

	assert.Equal(t, 0.0, score)
}
