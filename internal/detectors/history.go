package detectors

import (
	"github.com/ridesafe/fraud-engine/internal/models"
)

type pairKey struct {
	userID   string
	driverID string
}

// History is the ordered, append-only context of previously observed
// transactions for one orchestrator run. Entries are indexed by the
// correlation keys the detectors filter on, so window queries touch only
// the matching slice instead of rescanning the full sequence. A History is
// owned by a single orchestrator and must not be mutated concurrently.
type History struct {
	all      []*models.Transaction
	byUser   map[string][]*models.Transaction
	byCard   map[string][]*models.Transaction
	byDevice map[string][]*models.Transaction
	byPair   map[pairKey][]*models.Transaction
}

// NewHistory returns an empty history context.
func NewHistory() *History {
	return &History{
		byUser:   make(map[string][]*models.Transaction),
		byCard:   make(map[string][]*models.Transaction),
		byDevice: make(map[string][]*models.Transaction),
		byPair:   make(map[pairKey][]*models.Transaction),
	}
}

// NewHistoryFrom builds a history seeded with the given transactions, in
// order.
func NewHistoryFrom(txns []*models.Transaction) *History {
	h := NewHistory()
	for _, tx := range txns {
		h.Append(tx)
	}
	return h
}

// Append adds a transaction to the end of the history.
func (h *History) Append(tx *models.Transaction) {
	h.all = append(h.all, tx)
	h.byUser[tx.UserID] = append(h.byUser[tx.UserID], tx)
	h.byCard[tx.CardLast4] = append(h.byCard[tx.CardLast4], tx)
	h.byDevice[tx.DeviceID] = append(h.byDevice[tx.DeviceID], tx)
	key := pairKey{tx.UserID, tx.DriverID}
	h.byPair[key] = append(h.byPair[key], tx)
}

// Len returns the number of transactions observed so far.
func (h *History) Len() int {
	return len(h.all)
}

// All returns every transaction in enqueue order. Callers must not modify
// the returned slice.
func (h *History) All() []*models.Transaction {
	return h.all
}

// ByUser returns the user's transactions in enqueue order.
func (h *History) ByUser(userID string) []*models.Transaction {
	return h.byUser[userID]
}

// ByCard returns the card's transactions in enqueue order.
func (h *History) ByCard(cardLast4 string) []*models.Transaction {
	return h.byCard[cardLast4]
}

// ByDevice returns the device's transactions in enqueue order.
func (h *History) ByDevice(deviceID string) []*models.Transaction {
	return h.byDevice[deviceID]
}

// ByPair returns the rider/driver pair's transactions in enqueue order.
func (h *History) ByPair(userID, driverID string) []*models.Transaction {
	return h.byPair[pairKey{userID, driverID}]
}
