// Package datagen produces synthetic ride-hailing transactions with
// planted fraud patterns. It backs the stream simulator and the end-to-end
// tests; the generator is fully seeded so a given seed always yields the
// same dataset.
package datagen

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ridesafe/fraud-engine/internal/models"
)

type cityInfo struct {
	country     string
	lat, lng    float64
	currency    string
	amountLow   float64
	amountHigh  float64
	smallAmount float64
	largeAmount float64
}

var cities = map[string]cityInfo{
	"Lagos":        {"Nigeria", 6.5244, 3.3792, models.CurrencyNGN, 500, 5000, 200, 15000},
	"Abuja":        {"Nigeria", 9.0579, 7.4951, models.CurrencyNGN, 400, 4500, 150, 12000},
	"Nairobi":      {"Kenya", -1.2921, 36.8219, models.CurrencyKES, 200, 3000, 80, 8000},
	"Mombasa":      {"Kenya", -4.0435, 39.6682, models.CurrencyKES, 150, 2500, 60, 7000},
	"Johannesburg": {"South Africa", -26.2041, 28.0473, models.CurrencyZAR, 50, 500, 20, 1500},
	"Cape Town":    {"South Africa", -33.9249, 18.4241, models.CurrencyZAR, 60, 450, 25, 1200},
}

var cityNames = []string{"Lagos", "Abuja", "Nairobi", "Mombasa", "Johannesburg", "Cape Town"}
var cityWeights = []float64{0.30, 0.10, 0.25, 0.08, 0.17, 0.10}

// Generator builds synthetic datasets.
type Generator struct {
	rng  *rand.Rand
	base time.Time
}

// New creates a seeded generator. The dataset spans one week starting
// 2025-02-14 06:00 UTC.
func New(seed int64) *Generator {
	return &Generator{
		rng:  rand.New(rand.NewSource(seed)),
		base: time.Date(2025, 2, 14, 6, 0, 0, 0, time.UTC),
	}
}

// Generate produces numNormal legitimate transactions plus one planted
// cluster of each fraud pattern, sorted by timestamp.
func (g *Generator) Generate(numNormal int) []*models.Transaction {
	var txns []*models.Transaction
	txns = append(txns, g.normalTraffic(numNormal)...)
	txns = append(txns, g.cardTestingFraud()...)
	txns = append(txns, g.velocityFraud()...)
	txns = append(txns, g.geographicFraud()...)
	txns = append(txns, g.collusionFraud()...)
	txns = append(txns, g.accountTakeoverFraud()...)
	txns = append(txns, g.fraudRing()...)

	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.Time.Before(txns[j].Timestamp.Time)
	})
	return txns
}

func (g *Generator) pickCity() string {
	r := g.rng.Float64()
	acc := 0.0
	for i, w := range cityWeights {
		acc += w
		if r < acc {
			return cityNames[i]
		}
	}
	return cityNames[len(cityNames)-1]
}

// offsetCoord jitters a coordinate within roughly kmRadius kilometers.
func (g *Generator) offsetCoord(lat, lng, kmRadius float64) (float64, float64) {
	dLat := (g.rng.Float64()*2 - 1) * kmRadius / 111
	dLng := (g.rng.Float64()*2 - 1) * kmRadius / 111
	return lat + dLat, lng + dLng
}

func (g *Generator) newTx(userID, driverID, card, device, cityName string, ts time.Time, amount float64, fraud bool) *models.Transaction {
	city := cities[cityName]
	pLat, pLng := g.offsetCoord(city.lat, city.lng, 10)
	dLat, dLng := g.offsetCoord(city.lat, city.lng, 10)
	if amount <= 0 {
		amount = city.amountLow + g.rng.Float64()*(city.amountHigh-city.amountLow)
	}
	distance := 1 + g.rng.Float64()*24
	duration := int(distance * (2 + g.rng.Float64()*3))
	if duration < 3 {
		duration = 3
	}
	return &models.Transaction{
		TransactionID:   "TXN-" + uuid.New().String()[:12],
		Timestamp:       models.NewTimestamp(ts),
		UserID:          userID,
		DriverID:        driverID,
		CardLast4:       card,
		DeviceID:        device,
		PickupCity:      cityName,
		PickupCountry:   city.country,
		PickupLat:       pLat,
		PickupLng:       pLng,
		DropoffCity:     cityName,
		DropoffLat:      dLat,
		DropoffLng:      dLng,
		DistanceKm:      distance,
		DurationMinutes: duration,
		Amount:          amount,
		Currency:        city.currency,
		PaymentStatus:   models.PaymentStatusCompleted,
		IsFraudulent:    fraud,
	}
}

func (g *Generator) randomCard() string {
	return strconv.Itoa(1000 + g.rng.Intn(9000))
}

func (g *Generator) randomDriver() string {
	return fmt.Sprintf("DRV-%04d", 1+g.rng.Intn(80))
}

func (g *Generator) normalTraffic(n int) []*models.Transaction {
	users := make([]string, 200)
	cards := make([]string, 200)
	devices := make([]string, 200)
	for i := range users {
		users[i] = fmt.Sprintf("USR-%04d", i+1)
		cards[i] = g.randomCard()
		devices[i] = "DEV-" + uuid.New().String()[:8]
	}

	txns := make([]*models.Transaction, 0, n)
	for i := 0; i < n; i++ {
		u := g.rng.Intn(len(users))
		city := g.pickCity()
		ts := g.base.Add(time.Duration(g.rng.Float64() * 168 * float64(time.Hour)))
		if ts.Hour() < 6 {
			ts = ts.Add(time.Duration(6+g.rng.Intn(17)-ts.Hour()) * time.Hour)
		}
		txns = append(txns, g.newTx(users[u], g.randomDriver(), cards[u], devices[u], city, ts, 0, false))
	}
	return txns
}

// cardTestingFraud plants small probes followed by a large charge on the
// same card.
func (g *Generator) cardTestingFraud() []*models.Transaction {
	var txns []*models.Transaction
	for i := 0; i < 6; i++ {
		user := fmt.Sprintf("USR-CT-%02d", i)
		card := g.randomCard()
		device := "DEV-CT-" + uuid.New().String()[:8]
		cityName := []string{"Lagos", "Nairobi", "Johannesburg"}[g.rng.Intn(3)]
		city := cities[cityName]
		driver := g.randomDriver()
		start := g.base.Add(time.Duration(g.rng.Float64() * 120 * float64(time.Hour)))

		numSmall := 3 + g.rng.Intn(3)
		for j := 0; j < numSmall; j++ {
			ts := start.Add(time.Duration((j+1)*(5+g.rng.Intn(5))) * time.Minute)
			amt := city.smallAmount * (0.3 + g.rng.Float64()*0.7)
			txns = append(txns, g.newTx(user, driver, card, device, cityName, ts, amt, true))
		}
		for j := 0; j < 1+g.rng.Intn(2); j++ {
			ts := start.Add(time.Duration((2 + g.rng.Float64()*2) * float64(time.Hour)))
			amt := city.largeAmount * (0.8 + g.rng.Float64()*0.7)
			txns = append(txns, g.newTx(user, driver, card, device, cityName, ts, amt, true))
		}
	}
	return txns
}

// velocityFraud plants users with 10-15 rides inside two hours.
func (g *Generator) velocityFraud() []*models.Transaction {
	var txns []*models.Transaction
	for i := 0; i < 4; i++ {
		user := fmt.Sprintf("USR-VEL-%02d", i)
		card := g.randomCard()
		device := "DEV-VEL-" + uuid.New().String()[:8]
		cityName := []string{"Lagos", "Abuja", "Nairobi", "Johannesburg"}[g.rng.Intn(4)]
		start := g.base.Add(time.Duration((24 + g.rng.Float64()*72) * float64(time.Hour)))

		numTxns := 12 + g.rng.Intn(4)
		for j := 0; j < numTxns; j++ {
			ts := start.Add(time.Duration(j*3+g.rng.Intn(3)) * time.Minute)
			txns = append(txns, g.newTx(user, g.randomDriver(), card, device, cityName, ts, 0, true))
		}
	}
	return txns
}

// geographicFraud plants cross-country pickup pairs 15 minutes apart.
func (g *Generator) geographicFraud() []*models.Transaction {
	pairs := [][2]string{
		{"Lagos", "Nairobi"},
		{"Johannesburg", "Lagos"},
		{"Cape Town", "Abuja"},
	}
	var txns []*models.Transaction
	for i, pair := range pairs {
		user := fmt.Sprintf("USR-GEO-%02d", i)
		card := g.randomCard()
		device := "DEV-GEO-" + uuid.New().String()[:8]
		start := g.base.Add(time.Duration((48 + g.rng.Float64()*72) * float64(time.Hour)))

		txns = append(txns, g.newTx(user, g.randomDriver(), card, device, pair[0], start, 0, true))
		txns = append(txns, g.newTx(user, g.randomDriver(), card, device, pair[1], start.Add(15*time.Minute), 0, true))
	}
	return txns
}

// collusionFraud plants rider/driver pairs riding circles together all
// week.
func (g *Generator) collusionFraud() []*models.Transaction {
	var txns []*models.Transaction
	for i := 0; i < 3; i++ {
		user := fmt.Sprintf("USR-COL-%02d", i)
		driver := fmt.Sprintf("DRV-COL-%02d", i)
		card := g.randomCard()
		device := "DEV-COL-" + uuid.New().String()[:8]
		cityName := []string{"Lagos", "Nairobi", "Johannesburg"}[g.rng.Intn(3)]
		city := cities[cityName]

		numRides := 8 + g.rng.Intn(5)
		for j := 0; j < numRides; j++ {
			ts := g.base.Add(time.Duration(g.rng.Float64() * 168 * float64(time.Hour)))
			tx := g.newTx(user, driver, card, device, cityName, ts, 0, true)
			pLat, pLng := g.offsetCoord(city.lat, city.lng, 2)
			tx.PickupLat = pLat
			tx.PickupLng = pLng
			tx.DropoffLat = pLat + (g.rng.Float64()*2-1)*0.002
			tx.DropoffLng = pLng + (g.rng.Float64()*2-1)*0.002
			txns = append(txns, tx)
		}
	}
	return txns
}

// accountTakeoverFraud plants a normal week followed by a new card on a
// new device in a new country.
func (g *Generator) accountTakeoverFraud() []*models.Transaction {
	moves := [][2]string{
		{"Lagos", "Nairobi"},
		{"Johannesburg", "Cape Town"},
	}
	var txns []*models.Transaction
	for i, move := range moves {
		user := fmt.Sprintf("USR-ATO-%02d", i)
		originalCard := g.randomCard()
		device := "DEV-ATO-" + uuid.New().String()[:8]

		for j := 0; j < 5; j++ {
			ts := g.base.Add(time.Duration(g.rng.Float64() * 120 * float64(time.Hour)))
			txns = append(txns, g.newTx(user, g.randomDriver(), originalCard, device, move[0], ts, 0, false))
		}

		newCard := g.randomCard()
		newDevice := "DEV-ATO-NEW-" + uuid.New().String()[:8]
		driver := g.randomDriver()
		atoTime := g.base.Add(130 * time.Hour)
		txns = append(txns, g.newTx(user, driver, newCard, newDevice, move[1], atoTime, 0, true))
		txns = append(txns, g.newTx(user, driver, newCard, newDevice, move[1], atoTime.Add(15*time.Minute), 0, true))
	}
	return txns
}

// fraudRing plants five users sharing two devices with similar amounts in
// one tight window.
func (g *Generator) fraudRing() []*models.Transaction {
	devices := []string{
		"DEV-RING-" + uuid.New().String()[:8],
		"DEV-RING-" + uuid.New().String()[:8],
	}
	var txns []*models.Transaction
	for i := 0; i < 5; i++ {
		user := fmt.Sprintf("USR-RING-%02d", i)
		card := g.randomCard()
		device := devices[i%2]
		for j := 0; j < 4; j++ {
			ts := g.base.Add(time.Duration((60 + g.rng.Float64()*12) * float64(time.Hour)))
			amt := 800 + (g.rng.Float64()*2-1)*100
			txns = append(txns, g.newTx(user, g.randomDriver(), card, device, "Lagos", ts, amt, true))
		}
	}
	return txns
}

// WriteCSV dumps transactions in the column order the stream loader
// expects.
func WriteCSV(path string, txns []*models.Transaction) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"transaction_id", "timestamp", "user_id", "driver_id", "card_last4",
		"device_id", "pickup_city", "pickup_country", "pickup_lat", "pickup_lng",
		"dropoff_city", "dropoff_lat", "dropoff_lng", "distance_km",
		"duration_minutes", "amount", "currency", "payment_status", "is_fraudulent",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, tx := range txns {
		row := []string{
			tx.TransactionID,
			tx.Timestamp.UTC().Format("2006-01-02T15:04:05"),
			tx.UserID,
			tx.DriverID,
			tx.CardLast4,
			tx.DeviceID,
			tx.PickupCity,
			tx.PickupCountry,
			strconv.FormatFloat(tx.PickupLat, 'f', 6, 64),
			strconv.FormatFloat(tx.PickupLng, 'f', 6, 64),
			tx.DropoffCity,
			strconv.FormatFloat(tx.DropoffLat, 'f', 6, 64),
			strconv.FormatFloat(tx.DropoffLng, 'f', 6, 64),
			strconv.FormatFloat(tx.DistanceKm, 'f', 1, 64),
			strconv.Itoa(tx.DurationMinutes),
			strconv.FormatFloat(tx.Amount, 'f', 2, 64),
			tx.Currency,
			tx.PaymentStatus,
			strconv.FormatBool(tx.IsFraudulent),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
