package detectors

import (
	"testing"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestVelocity_BurstOfTwelveInOneHour(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 12; i++ {
		h.Append(makeTx(at(baseTime.Add(-time.Duration(10-i) * time.Minute))))
	}
	d := NewVelocityDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), h)

	assert.GreaterOrEqual(t, score, 80.0)
	assert.True(t, hasRulePrefix(rules, "VELOCITY_"))
}

func TestVelocity_NoHistory(t *testing.T) {
	d := NewVelocityDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), NewHistory())

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}

func TestVelocity_ModerateTier(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 4; i++ {
		h.Append(makeTx(at(baseTime.Add(-time.Duration(i+1) * 10 * time.Minute))))
	}
	d := NewVelocityDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), h)

	assert.Equal(t, 20.0, score)
	assert.True(t, hasRulePrefix(rules, "VELOCITY_MODERATE"))
}

func TestVelocity_DeviceDrivesTheCount(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 10; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-time.Duration(i+1)*5*time.Minute)),
			user("USR900"), card("9999"), device("dev-shared"),
		))
	}
	d := NewVelocityDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(device("dev-shared")), h)

	assert.Equal(t, 100.0, score)
	assert.True(t, hasRulePrefix(rules, "VELOCITY_EXTREME"))
}

func TestVelocity_24HourWindow(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 16; i++ {
		h.Append(makeTx(at(baseTime.Add(-time.Duration(i+2) * time.Hour))))
	}
	d := NewVelocityDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(), h)

	assert.GreaterOrEqual(t, score, 60.0)
	assert.True(t, hasRulePrefix(rules, "VELOCITY_24H_HIGH"))
}

func TestVelocity_SkipsUnparseableTimestamps(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 12; i++ {
		tx := makeTx()
		tx.Timestamp = models.Timestamp{}
		h.Append(tx)
	}
	d := NewVelocityDetector(DefaultThresholds())

	score, _ := d.Evaluate(makeTx(), h)

	assert.Equal(t, 0.0, score)
}
