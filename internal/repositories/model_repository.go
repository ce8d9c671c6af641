package repositories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ridesafe/fraud-engine/internal/models"
)

var ErrNoTrainingRuns = errors.New("no training runs recorded")

// ModelRepository records the outcome of each training run so the model
// history survives restarts.
type ModelRepository struct {
	db *Database
}

// NewModelRepository creates a new model repository
func NewModelRepository(db *Database) *ModelRepository {
	return &ModelRepository{db: db}
}

// SaveTrainingRun records a completed training run and marks it as the
// active model, deactivating the previous one in the same transaction.
func (r *ModelRepository) SaveTrainingRun(ctx context.Context, metrics *models.TrainingMetrics) error {
	metricsBytes, err := json.Marshal(metrics)
	if err != nil {
		return err
	}

	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE training_runs SET is_active = FALSE WHERE is_active`); err != nil {
			return err
		}

		query := `
			INSERT INTO training_runs (id, trained_rows, metrics, is_active, trained_at)
			VALUES ($1, $2, $3, TRUE, $4)
		`
		_, err := tx.Exec(ctx, query,
			uuid.New(),
			metrics.TrainedRows,
			metricsBytes,
			metrics.TrainedAt,
		)
		return err
	})
}

// LatestTrainingRun returns the active training run's metrics.
func (r *ModelRepository) LatestTrainingRun(ctx context.Context) (*models.TrainingMetrics, error) {
	query := `
		SELECT metrics
		FROM training_runs
		WHERE is_active
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var metricsBytes []byte
	if err := r.db.Pool.QueryRow(ctx, query).Scan(&metricsBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTrainingRuns
		}
		return nil, err
	}

	metrics := &models.TrainingMetrics{}
	if err := json.Unmarshal(metricsBytes, metrics); err != nil {
		return nil, err
	}
	return metrics, nil
}

// ListTrainingRuns returns recent runs newest first.
func (r *ModelRepository) ListTrainingRuns(ctx context.Context, limit int) ([]*models.TrainingMetrics, error) {
	query := `
		SELECT metrics
		FROM training_runs
		ORDER BY trained_at DESC
		LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.TrainingMetrics
	for rows.Next() {
		var metricsBytes []byte
		if err := rows.Scan(&metricsBytes); err != nil {
			return nil, err
		}
		metrics := &models.TrainingMetrics{}
		if err := json.Unmarshal(metricsBytes, metrics); err != nil {
			return nil, err
		}
		runs = append(runs, metrics)
	}
	return runs, rows.Err()
}
