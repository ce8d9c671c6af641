// Package ingestion accepts ride transactions over the control API and
// feeds them to the scoring stream.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/queue"
	"github.com/ridesafe/fraud-engine/internal/repositories"
)

var ErrBadTimestamp = errors.New("transaction timestamp missing or unparseable")

// TransactionRequest is an incoming ride payment.
type TransactionRequest struct {
	TransactionID   string  `json:"transaction_id" binding:"required"`
	Timestamp       string  `json:"timestamp" binding:"required"`
	UserID          string  `json:"user_id" binding:"required"`
	DriverID        string  `json:"driver_id" binding:"required"`
	CardLast4       string  `json:"card_last4" binding:"required,len=4"`
	DeviceID        string  `json:"device_id" binding:"required"`
	PickupCity      string  `json:"pickup_city" binding:"required"`
	PickupCountry   string  `json:"pickup_country" binding:"required"`
	PickupLat       float64 `json:"pickup_lat"`
	PickupLng       float64 `json:"pickup_lng"`
	DropoffCity     string  `json:"dropoff_city"`
	DropoffLat      float64 `json:"dropoff_lat"`
	DropoffLng      float64 `json:"dropoff_lng"`
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes int     `json:"duration_minutes"`
	Amount          float64 `json:"amount" binding:"required,gt=0"`
	Currency        string  `json:"currency" binding:"required,oneof=NGN KES ZAR"`
	PaymentStatus   string  `json:"payment_status" binding:"omitempty,oneof=completed pending failed refunded"`
	IsFraudulent    *bool   `json:"is_fraudulent,omitempty"`
}

// BatchTransactionRequest is a batch of incoming ride payments.
type BatchTransactionRequest struct {
	Transactions []TransactionRequest `json:"transactions" binding:"required,min=1,max=1000"`
}

// TransactionResponse reports the outcome for one ingested transaction.
type TransactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message,omitempty"`
}

// BatchTransactionResponse reports the outcome for a batch.
type BatchTransactionResponse struct {
	Successful int                   `json:"successful"`
	Failed     int                   `json:"failed"`
	Results    []TransactionResponse `json:"results"`
}

// Service validates incoming transactions, persists them, and enqueues
// them for scoring.
type Service struct {
	txRepo    *repositories.TransactionRepository
	auditRepo *repositories.AuditRepository
	stream    *queue.RedisStreamClient
}

// NewService creates a new ingestion service
func NewService(txRepo *repositories.TransactionRepository, auditRepo *repositories.AuditRepository, stream *queue.RedisStreamClient) *Service {
	return &Service{
		txRepo:    txRepo,
		auditRepo: auditRepo,
		stream:    stream,
	}
}

// IngestTransaction accepts one transaction.
func (s *Service) IngestTransaction(ctx context.Context, req *TransactionRequest) (*TransactionResponse, error) {
	tx, err := toTransaction(req)
	if err != nil {
		return nil, err
	}

	if err := s.txRepo.SaveTransactions(ctx, []*models.Transaction{tx}); err != nil {
		return nil, fmt.Errorf("persist transaction: %w", err)
	}

	event := &models.TransactionEvent{
		Transaction: *tx,
		EnqueuedAt:  time.Now().UTC(),
	}
	if _, err := s.stream.Publish(ctx, event); err != nil {
		// The transaction is stored; scoring catches up when the stream
		// recovers.
		log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Msg("Failed to enqueue transaction for scoring")
	}

	s.audit(ctx, tx)

	log.Info().
		Str("transaction_id", tx.TransactionID).
		Str("user_id", tx.UserID).
		Float64("amount", tx.Amount).
		Msg("Transaction ingested")

	return &TransactionResponse{
		TransactionID: tx.TransactionID,
		Status:        "accepted",
	}, nil
}

// IngestBatch accepts a batch of transactions. Rows that fail validation
// are reported individually; the rest proceed.
func (s *Service) IngestBatch(ctx context.Context, req *BatchTransactionRequest) (*BatchTransactionResponse, error) {
	response := &BatchTransactionResponse{
		Results: make([]TransactionResponse, 0, len(req.Transactions)),
	}

	var txns []*models.Transaction
	for i := range req.Transactions {
		tx, err := toTransaction(&req.Transactions[i])
		if err != nil {
			response.Failed++
			response.Results = append(response.Results, TransactionResponse{
				TransactionID: req.Transactions[i].TransactionID,
				Status:        "failed",
				Message:       err.Error(),
			})
			continue
		}
		txns = append(txns, tx)
	}

	if len(txns) > 0 {
		if err := s.txRepo.SaveTransactions(ctx, txns); err != nil {
			return nil, fmt.Errorf("persist transactions: %w", err)
		}

		events := make([]*models.TransactionEvent, 0, len(txns))
		now := time.Now().UTC()
		for _, tx := range txns {
			events = append(events, &models.TransactionEvent{
				Transaction: *tx,
				EnqueuedAt:  now,
			})
			response.Successful++
			response.Results = append(response.Results, TransactionResponse{
				TransactionID: tx.TransactionID,
				Status:        "accepted",
			})
		}
		if _, err := s.stream.PublishBatch(ctx, events); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue transaction batch for scoring")
		}
	}

	log.Info().
		Int("total", len(req.Transactions)).
		Int("successful", response.Successful).
		Int("failed", response.Failed).
		Msg("Batch ingestion completed")

	return response, nil
}

// GetTransaction retrieves a stored transaction.
func (s *Service) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.txRepo.GetByID(ctx, transactionID)
}

// GetRecentTransactions retrieves stored transactions newest first.
func (s *Service) GetRecentTransactions(ctx context.Context, page, pageSize int) ([]*models.Transaction, int, error) {
	return s.txRepo.GetRecent(ctx, page, pageSize)
}

func toTransaction(req *TransactionRequest) (*models.Transaction, error) {
	ts, err := models.ParseTimestamp(req.Timestamp)
	if err != nil || ts.IsZero() {
		return nil, ErrBadTimestamp
	}

	status := req.PaymentStatus
	if status == "" {
		status = models.PaymentStatusCompleted
	}

	tx := &models.Transaction{
		TransactionID:   req.TransactionID,
		Timestamp:       ts,
		UserID:          req.UserID,
		DriverID:        req.DriverID,
		CardLast4:       req.CardLast4,
		DeviceID:        req.DeviceID,
		PickupCity:      req.PickupCity,
		PickupCountry:   req.PickupCountry,
		PickupLat:       req.PickupLat,
		PickupLng:       req.PickupLng,
		DropoffCity:     req.DropoffCity,
		DropoffLat:      req.DropoffLat,
		DropoffLng:      req.DropoffLng,
		DistanceKm:      req.DistanceKm,
		DurationMinutes: req.DurationMinutes,
		Amount:          req.Amount,
		Currency:        req.Currency,
		PaymentStatus:   status,
	}
	if req.IsFraudulent != nil {
		tx.IsFraudulent = *req.IsFraudulent
	}
	return tx, nil
}

func (s *Service) audit(ctx context.Context, tx *models.Transaction) {
	entry := &models.AuditLog{
		EventType: models.AuditEventIngestion,
		EntityID:  tx.TransactionID,
		Action:    "ingest",
		Payload: models.JSONB{
			"user_id":  tx.UserID,
			"amount":   tx.Amount,
			"currency": tx.Currency,
		},
	}
	if err := s.auditRepo.Create(ctx, entry); err != nil {
		log.Error().Err(err).
			Str("transaction_id", tx.TransactionID).
			Msg("Failed to create audit log")
	}
}
