package detectors

import (
	"fmt"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
)

var baseTime = time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)

type txOpt func(*models.Transaction)

func at(t time.Time) txOpt {
	return func(tx *models.Transaction) { tx.Timestamp = models.NewTimestamp(t) }
}

func amount(a float64) txOpt {
	return func(tx *models.Transaction) { tx.Amount = a }
}

func user(id string) txOpt {
	return func(tx *models.Transaction) { tx.UserID = id }
}

func card(last4 string) txOpt {
	return func(tx *models.Transaction) { tx.CardLast4 = last4 }
}

func device(id string) txOpt {
	return func(tx *models.Transaction) { tx.DeviceID = id }
}

func driver(id string) txOpt {
	return func(tx *models.Transaction) { tx.DriverID = id }
}

func pickup(city, country string, lat, lng float64) txOpt {
	return func(tx *models.Transaction) {
		tx.PickupCity = city
		tx.PickupCountry = country
		tx.PickupLat = lat
		tx.PickupLng = lng
	}
}

func dropoff(lat, lng float64) txOpt {
	return func(tx *models.Transaction) {
		tx.DropoffLat = lat
		tx.DropoffLng = lng
	}
}

var txSeq int

func makeTx(opts ...txOpt) *models.Transaction {
	txSeq++
	tx := &models.Transaction{
		TransactionID:   fmt.Sprintf("TXN%06d", txSeq),
		Timestamp:       models.NewTimestamp(baseTime),
		UserID:          "USR001",
		DriverID:        "DRV001",
		CardLast4:       "1234",
		DeviceID:        "dev-aaaa-bbbb-cccc",
		PickupCity:      "Lagos",
		PickupCountry:   "Nigeria",
		PickupLat:       6.5244,
		PickupLng:       3.3792,
		DropoffLat:      6.4281,
		DropoffLng:      3.4219,
		DistanceKm:      12.5,
		DurationMinutes: 25,
		Amount:          2500,
		Currency:        models.CurrencyNGN,
		PaymentStatus:   models.PaymentStatusCompleted,
	}
	for _, opt := range opts {
		opt(tx)
	}
	return tx
}

func hasRulePrefix(rules []string, prefix string) bool {
	for _, r := range rules {
		if len(r) >= len(prefix) && r[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
