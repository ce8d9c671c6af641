package detectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func atoHistory(n int, opts ...txOpt) *History {
	h := NewHistory()
	for i := 0; i < n; i++ {
		o := append([]txOpt{
			at(baseTime.Add(-time.Duration(i+1) * 24 * time.Hour)),
		}, opts...)
		h.Append(makeTx(o...))
	}
	return h
}

func TestATO_NewCardAndNewCountry(t *testing.T) {
	h := atoHistory(5, card("1234"), pickup("Lagos", "Nigeria", 6.5244, 3.3792))
	d := NewAccountTakeoverDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(
		card("5678"),
		pickup("Nairobi", "Kenya", -1.2921, 36.8219),
	), h)

	assert.Equal(t, 85.0, score)
	assert.True(t, hasRulePrefix(rules, "ATO_HIGH"))
}

func TestATO_NewCardDeviceBeatsNewCity(t *testing.T) {
	// With card, device, and city all new, the device pairing outranks the
	// city pairing.
	h := atoHistory(5, card("1234"), device("dev-known"), pickup("Lagos", "Nigeria", 6.5244, 3.3792))
	d := NewAccountTakeoverDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(
		card("5678"), device("dev-unknown"),
		pickup("Abuja", "Nigeria", 9.0765, 7.3986),
	), h)

	assert.Equal(t, 70.0, score)
	assert.True(t, hasRulePrefix(rules, "ATO_NEW_CARD_DEVICE"))
}

func TestATO_NewCardOnly(t *testing.T) {
	h := atoHistory(5, card("1234"))
	d := NewAccountTakeoverDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(card("5678")), h)

	assert.Equal(t, 30.0, score)
	assert.True(t, hasRulePrefix(rules, "ATO_NEW_CARD"))
}

func TestATO_NewDeviceAndCountryWithKnownCard(t *testing.T) {
	h := atoHistory(5, device("dev-known"), pickup("Lagos", "Nigeria", 6.5244, 3.3792))
	d := NewAccountTakeoverDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(
		device("dev-unknown"),
		pickup("Nairobi", "Kenya", -1.2921, 36.8219),
	), h)

	assert.Equal(t, 50.0, score)
	assert.True(t, hasRulePrefix(rules, "ATO_NEW_DEVICE_COUNTRY"))
}

func TestATO_RapidUseOfNewCard(t *testing.T) {
	h := atoHistory(5, card("1234"))
	// Two earlier charges on the not-yet-seen-in-window card, outside the
	// 30-day window so the card still reads as new.
	for i := 0; i < 2; i++ {
		h.Append(makeTx(
			at(baseTime.Add(-40*24*time.Hour).Add(-time.Duration(i)*time.Hour)),
			card("5678"),
		))
	}
	d := NewAccountTakeoverDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(card("5678")), h)

	assert.Equal(t, 45.0, score)
	assert.True(t, hasRulePrefix(rules, "ATO_NEW_CARD"))
	assert.True(t, hasRulePrefix(rules, "ATO_RAPID_USE"))
}

func TestATO_NoWindowedHistoryReturnsZero(t *testing.T) {
	h := NewHistory()
	h.Append(makeTx(at(baseTime.Add(-45 * 24 * time.Hour))))
	d := NewAccountTakeoverDetector(DefaultThresholds())

	score, rules := d.Evaluate(makeTx(card("5678")), h)

	assert.Equal(t, 0.0, score)
	assert.Empty(t, rules)
}
