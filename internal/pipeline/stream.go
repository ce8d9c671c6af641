package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/internal/models"
)

// TransactionStream replays a CSV transaction dump as an ordered sequence
// of batches, simulating a live feed. Rows are sorted by timestamp on
// load; rows whose timestamp cannot be parsed sort first and are later
// skipped by the detectors' window filters. The cursor is guarded so the
// control surface can report progress while the pipeline loop consumes.
type TransactionStream struct {
	mu        sync.Mutex
	txns      []*models.Transaction
	batchSize int
	cursor    int
}

// NewTransactionStream loads and sorts the CSV at path.
func NewTransactionStream(path string, batchSize int) (*TransactionStream, error) {
	txns, err := loadCSV(path)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(txns, func(i, j int) bool {
		return txns[i].Timestamp.Time.Before(txns[j].Timestamp.Time)
	})

	log.Info().Str("path", path).Int("transactions", len(txns)).Msg("Transaction stream loaded")
	return &TransactionStream{txns: txns, batchSize: batchSize}, nil
}

// NewTransactionStreamFromSlice builds a stream over an in-memory
// dataset, used when no CSV dump is available.
func NewTransactionStreamFromSlice(txns []*models.Transaction, batchSize int) *TransactionStream {
	sorted := make([]*models.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Time.Before(sorted[j].Timestamp.Time)
	})
	return &TransactionStream{txns: sorted, batchSize: batchSize}
}

// NextBatch returns the next batch, or an empty slice when the stream is
// exhausted.
func (s *TransactionStream) NextBatch() []*models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.txns) {
		return nil
	}
	end := s.cursor + s.batchSize
	if end > len(s.txns) {
		end = len(s.txns)
	}
	batch := s.txns[s.cursor:end]
	s.cursor = end
	return batch
}

// Reset rewinds the stream to the beginning.
func (s *TransactionStream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = 0
}

// Total returns the number of transactions in the stream.
func (s *TransactionStream) Total() int {
	return len(s.txns)
}

// Processed returns how many transactions have been emitted so far.
func (s *TransactionStream) Processed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Exhausted reports whether every transaction has been emitted.
func (s *TransactionStream) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= len(s.txns)
}

// Progress returns the fraction of the stream emitted, in [0, 1].
func (s *TransactionStream) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.txns) == 0 {
		return 0
	}
	return float64(s.cursor) / float64(len(s.txns))
}

func loadCSV(path string) ([]*models.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transaction csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read transaction csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	col := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		col[strings.TrimSpace(name)] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	floatField := func(row []string, name string) float64 {
		v, _ := strconv.ParseFloat(field(row, name), 64)
		return v
	}
	intField := func(row []string, name string) int {
		v, _ := strconv.Atoi(field(row, name))
		return v
	}

	txns := make([]*models.Transaction, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ts, err := models.ParseTimestamp(field(row, "timestamp"))
		if err != nil {
			log.Warn().Str("transaction_id", field(row, "transaction_id")).Msg("Unparseable timestamp in csv row")
		}
		txns = append(txns, &models.Transaction{
			TransactionID:   field(row, "transaction_id"),
			Timestamp:       ts,
			UserID:          field(row, "user_id"),
			DriverID:        field(row, "driver_id"),
			CardLast4:       field(row, "card_last4"),
			DeviceID:        field(row, "device_id"),
			PickupCity:      field(row, "pickup_city"),
			PickupCountry:   field(row, "pickup_country"),
			PickupLat:       floatField(row, "pickup_lat"),
			PickupLng:       floatField(row, "pickup_lng"),
			DropoffCity:     field(row, "dropoff_city"),
			DropoffLat:      floatField(row, "dropoff_lat"),
			DropoffLng:      floatField(row, "dropoff_lng"),
			DistanceKm:      floatField(row, "distance_km"),
			DurationMinutes: intField(row, "duration_minutes"),
			Amount:          floatField(row, "amount"),
			Currency:        field(row, "currency"),
			PaymentStatus:   field(row, "payment_status"),
			IsFraudulent:    strings.EqualFold(field(row, "is_fraudulent"), "true"),
		})
	}
	return txns, nil
}
