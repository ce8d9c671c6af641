package detectors

import (
	"fmt"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// AccountTakeoverDetector flags credential-compromise signals: a user
// suddenly paying with a new card, from a new device, or from a new place.
type AccountTakeoverDetector struct{}

func NewAccountTakeoverDetector(cfg Thresholds) *AccountTakeoverDetector {
	return &AccountTakeoverDetector{}
}

func (d *AccountTakeoverDetector) Name() string { return NameATO }

func (d *AccountTakeoverDetector) Evaluate(tx *models.Transaction, history *History) (float64, []string) {
	t0 := tx.Timestamp.Time
	windowStart := t0.Add(-30 * 24 * time.Hour)

	knownCards := make(map[string]struct{})
	knownDevices := make(map[string]struct{})
	knownCountries := make(map[string]struct{})
	knownCities := make(map[string]struct{})
	windowed := 0
	for _, p := range history.ByUser(tx.UserID) {
		ts := p.Timestamp.Time
		if ts.IsZero() || ts.Before(windowStart) || !ts.Before(t0) {
			continue
		}
		windowed++
		knownCards[p.CardLast4] = struct{}{}
		knownDevices[p.DeviceID] = struct{}{}
		knownCountries[p.PickupCountry] = struct{}{}
		knownCities[p.PickupCity] = struct{}{}
	}
	if windowed == 0 {
		return 0, nil
	}

	_, cardKnown := knownCards[tx.CardLast4]
	_, deviceKnown := knownDevices[tx.DeviceID]
	_, countryKnown := knownCountries[tx.PickupCountry]
	_, cityKnown := knownCities[tx.PickupCity]
	isNewCard := !cardKnown
	isNewDevice := !deviceKnown
	isNewCountry := !countryKnown
	isNewCity := !cityKnown

	var score float64
	var rules []string
	switch {
	case isNewCard && isNewCountry:
		score = 85
		rules = append(rules, fmt.Sprintf(
			"ATO_HIGH: New card ****%s + new country (%s)", tx.CardLast4, tx.PickupCountry))
	case isNewCard && isNewDevice:
		score = 70
		rules = append(rules, fmt.Sprintf(
			"ATO_NEW_CARD_DEVICE: New card ****%s + new device", tx.CardLast4))
	case isNewCard && isNewCity:
		score = 65
		rules = append(rules, fmt.Sprintf(
			"ATO_MODERATE: New card ****%s + new city (%s)", tx.CardLast4, tx.PickupCity))
	case isNewCard:
		score = 30
		rules = append(rules, fmt.Sprintf(
			"ATO_NEW_CARD: New card ****%s for user %s", tx.CardLast4, tx.UserID))
	}

	if isNewDevice && isNewCountry && !isNewCard {
		if 50 > score {
			score = 50
		}
		rules = append(rules, fmt.Sprintf(
			"ATO_NEW_DEVICE_COUNTRY: New device + new country (%s)", tx.PickupCountry))
	}

	// A burst of charges right after the card change is the strongest
	// takeover tell. Counts the whole history, not just the window, plus
	// the current transaction itself.
	if isNewCard {
		cardUse := 1
		for _, p := range history.ByUser(tx.UserID) {
			if p.CardLast4 == tx.CardLast4 {
				cardUse++
			}
		}
		if cardUse >= 3 {
			score = capScore(score + 15)
			rules = append(rules, fmt.Sprintf(
				"ATO_RAPID_USE: %d transactions on new card quickly", cardUse))
		}
	}

	return score, rules
}
