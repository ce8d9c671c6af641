package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ridesafe/fraud-engine/internal/models"
)

var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository handles ride transaction persistence.
type TransactionRepository struct {
	db *Database
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *Database) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `transaction_id, occurred_at, user_id, driver_id, card_last4, device_id,
	   pickup_city, pickup_country, pickup_lat, pickup_lng,
	   dropoff_city, dropoff_lat, dropoff_lng, distance_km, duration_minutes,
	   amount, currency, payment_status, is_fraudulent`

// SaveTransactions inserts a batch of transactions, skipping IDs that are
// already stored. Implements the pipeline transaction sink.
func (r *TransactionRepository) SaveTransactions(ctx context.Context, transactions []*models.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (transaction_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, tx := range transactions {
		batch.Queue(query,
			tx.TransactionID,
			tx.Timestamp.Time,
			tx.UserID,
			tx.DriverID,
			tx.CardLast4,
			tx.DeviceID,
			tx.PickupCity,
			tx.PickupCountry,
			tx.PickupLat,
			tx.PickupLng,
			tx.DropoffCity,
			tx.DropoffLat,
			tx.DropoffLng,
			tx.DistanceKm,
			tx.DurationMinutes,
			tx.Amount,
			tx.Currency,
			tx.PaymentStatus,
			tx.IsFraudulent,
			now,
		)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	for range transactions {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a transaction by its external ID.
func (r *TransactionRepository) GetByID(ctx context.Context, transactionID string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE transaction_id = $1
	`

	tx, err := scanTransaction(r.db.Pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// GetAllOrdered returns every stored transaction in chronological order.
// Used to rebuild the scoring history and to assemble training sets.
func (r *TransactionRepository) GetAllOrdered(ctx context.Context) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		ORDER BY occurred_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// GetRecent retrieves transactions ordered newest first with pagination.
func (r *TransactionRepository) GetRecent(ctx context.Context, page, pageSize int) ([]*models.Transaction, int, error) {
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		ORDER BY occurred_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txns, err := scanTransactions(rows)
	return txns, total, err
}

// GetByUserID retrieves a user's transactions, newest first.
func (r *TransactionRepository) GetByUserID(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// Count returns the number of stored transactions.
func (r *TransactionRepository) Count(ctx context.Context) (int, error) {
	var total int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total)
	return total, err
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var occurredAt time.Time

	if err := row.Scan(
		&tx.TransactionID,
		&occurredAt,
		&tx.UserID,
		&tx.DriverID,
		&tx.CardLast4,
		&tx.DeviceID,
		&tx.PickupCity,
		&tx.PickupCountry,
		&tx.PickupLat,
		&tx.PickupLng,
		&tx.DropoffCity,
		&tx.DropoffLat,
		&tx.DropoffLng,
		&tx.DistanceKm,
		&tx.DurationMinutes,
		&tx.Amount,
		&tx.Currency,
		&tx.PaymentStatus,
		&tx.IsFraudulent,
	); err != nil {
		return nil, err
	}

	tx.Timestamp = models.NewTimestamp(occurredAt)
	return tx, nil
}

func scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var txns []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, tx)
	}
	return txns, rows.Err()
}
