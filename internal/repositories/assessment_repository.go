package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/ridesafe/fraud-engine/internal/models"
)

var ErrAssessmentNotFound = errors.New("risk assessment not found")

// AssessmentRepository handles risk assessment persistence and the
// aggregate queries behind the analytics endpoints.
type AssessmentRepository struct {
	db *Database
}

// NewAssessmentRepository creates a new assessment repository
func NewAssessmentRepository(db *Database) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

const assessmentColumns = `id, transaction_id, risk_score, risk_level,
	   velocity_score, geographic_score, amount_score, card_testing_score,
	   collusion_score, ato_score, fraud_ring_score,
	   ml_score, triggered_rules, processed_at`

// SaveAssessments inserts a batch of assessments. Implements the pipeline
// assessment sink.
func (r *AssessmentRepository) SaveAssessments(ctx context.Context, assessments []*models.RiskAssessment) error {
	if len(assessments) == 0 {
		return nil
	}

	query := `
		INSERT INTO risk_assessments (` + assessmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (transaction_id) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			velocity_score = EXCLUDED.velocity_score,
			geographic_score = EXCLUDED.geographic_score,
			amount_score = EXCLUDED.amount_score,
			card_testing_score = EXCLUDED.card_testing_score,
			collusion_score = EXCLUDED.collusion_score,
			ato_score = EXCLUDED.ato_score,
			fraud_ring_score = EXCLUDED.fraud_ring_score,
			ml_score = EXCLUDED.ml_score,
			triggered_rules = EXCLUDED.triggered_rules,
			processed_at = EXCLUDED.processed_at
	`

	batch := &pgx.Batch{}
	for _, a := range assessments {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		batch.Queue(query,
			a.ID,
			a.TransactionID,
			a.RiskScore,
			a.RiskLevel,
			a.Indicators.Velocity,
			a.Indicators.Geographic,
			a.Indicators.Amount,
			a.Indicators.CardTesting,
			a.Indicators.Collusion,
			a.Indicators.ATO,
			a.Indicators.FraudRing,
			a.MLScore,
			pq.Array(a.TriggeredRules),
			a.ProcessedAt,
		)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	for range assessments {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// GetByTransactionID retrieves the assessment for one transaction.
func (r *AssessmentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.RiskAssessment, error) {
	query := `
		SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE transaction_id = $1
	`

	a, err := scanAssessment(r.db.Pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAssessmentNotFound
		}
		return nil, err
	}
	return a, nil
}

// GetByRiskLevel retrieves assessments at one level, newest first.
func (r *AssessmentRepository) GetByRiskLevel(ctx context.Context, riskLevel string, page, pageSize int) ([]*models.RiskAssessment, int, error) {
	offset := (page - 1) * pageSize

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM risk_assessments WHERE risk_level = $1`, riskLevel).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT ` + assessmentColumns + `
		FROM risk_assessments
		WHERE risk_level = $1
		ORDER BY processed_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool.Query(ctx, query, riskLevel, pageSize, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	assessments, err := scanAssessments(rows)
	return assessments, total, err
}

// GetRiskSummary aggregates assessment counts since the given time.
// Amount at risk sums the ride amounts of high risk assessments.
func (r *AssessmentRepository) GetRiskSummary(ctx context.Context, since time.Time) (*models.RiskSummary, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE ra.risk_level = 'high_risk') AS high_count,
			COUNT(*) FILTER (WHERE ra.risk_level = 'medium_risk') AS medium_count,
			COUNT(*) FILTER (WHERE ra.risk_level = 'low_risk') AS low_count,
			COALESCE(SUM(t.amount) FILTER (WHERE ra.risk_level = 'high_risk'), 0) AS amount_at_risk,
			COALESCE(AVG(ra.risk_score), 0) AS avg_score
		FROM risk_assessments ra
		JOIN transactions t ON t.transaction_id = ra.transaction_id
		WHERE ra.processed_at >= $1
	`

	summary := &models.RiskSummary{}
	err := r.db.Pool.QueryRow(ctx, query, since).Scan(
		&summary.TotalTransactions,
		&summary.HighRiskCount,
		&summary.MediumRiskCount,
		&summary.LowRiskCount,
		&summary.AmountAtRisk,
		&summary.AvgRiskScore,
	)
	if err != nil {
		return nil, err
	}

	if summary.TotalTransactions > 0 {
		summary.FraudRate = float64(summary.HighRiskCount) / float64(summary.TotalTransactions)
	}
	return summary, nil
}

// GetTopRules returns the most frequently triggered rule tags since the
// given time. Rule strings are grouped by their tag, the part before the
// first colon.
func (r *AssessmentRepository) GetTopRules(ctx context.Context, since time.Time, limit int) ([]models.RuleCount, error) {
	query := `
		SELECT split_part(rule, ':', 1) AS rule_tag, COUNT(*) AS count
		FROM risk_assessments, unnest(triggered_rules) AS rule
		WHERE processed_at >= $1
		GROUP BY rule_tag
		ORDER BY count DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []models.RuleCount
	for rows.Next() {
		var rc models.RuleCount
		if err := rows.Scan(&rc.RuleTag, &rc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, rc)
	}
	return counts, rows.Err()
}

// GetHourlyVolume buckets assessment volume per hour since the given time.
func (r *AssessmentRepository) GetHourlyVolume(ctx context.Context, since time.Time) ([]models.HourlyVolume, error) {
	query := `
		SELECT
			date_trunc('hour', processed_at) AS hour,
			COUNT(*) AS count,
			COUNT(*) FILTER (WHERE risk_level = 'high_risk') AS high_count
		FROM risk_assessments
		WHERE processed_at >= $1
		GROUP BY hour
		ORDER BY hour ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buckets []models.HourlyVolume
	for rows.Next() {
		var hv models.HourlyVolume
		if err := rows.Scan(&hv.Hour, &hv.Count, &hv.HighRiskCount); err != nil {
			return nil, err
		}
		buckets = append(buckets, hv)
	}
	return buckets, rows.Err()
}

// GetLabeledIndicators joins stored assessments with their transaction
// labels for model training. Only completed joins are returned.
func (r *AssessmentRepository) GetLabeledIndicators(ctx context.Context) ([]*models.RiskAssessment, []*models.Transaction, error) {
	query := `
		SELECT ra.id, ra.transaction_id, ra.risk_score, ra.risk_level,
			   ra.velocity_score, ra.geographic_score, ra.amount_score, ra.card_testing_score,
			   ra.collusion_score, ra.ato_score, ra.fraud_ring_score,
			   ra.ml_score, ra.triggered_rules, ra.processed_at,
			   t.transaction_id, t.occurred_at, t.user_id, t.driver_id, t.card_last4, t.device_id,
			   t.pickup_city, t.pickup_country, t.pickup_lat, t.pickup_lng,
			   t.dropoff_city, t.dropoff_lat, t.dropoff_lng, t.distance_km, t.duration_minutes,
			   t.amount, t.currency, t.payment_status, t.is_fraudulent
		FROM risk_assessments ra
		JOIN transactions t ON t.transaction_id = ra.transaction_id
		ORDER BY t.occurred_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var assessments []*models.RiskAssessment
	var txns []*models.Transaction
	for rows.Next() {
		a := &models.RiskAssessment{}
		tx := &models.Transaction{}
		var rules []string
		var occurredAt time.Time

		if err := rows.Scan(
			&a.ID,
			&a.TransactionID,
			&a.RiskScore,
			&a.RiskLevel,
			&a.Indicators.Velocity,
			&a.Indicators.Geographic,
			&a.Indicators.Amount,
			&a.Indicators.CardTesting,
			&a.Indicators.Collusion,
			&a.Indicators.ATO,
			&a.Indicators.FraudRing,
			&a.MLScore,
			&rules,
			&a.ProcessedAt,
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
			return nil, nil, err
		}

		a.TriggeredRules = rules
		tx.Timestamp = models.NewTimestamp(occurredAt)
		assessments = append(assessments, a)
		txns = append(txns, tx)
	}
	return assessments, txns, rows.Err()
}

func scanAssessment(row pgx.Row) (*models.RiskAssessment, error) {
	a := &models.RiskAssessment{}
	var rules []string

	if err := row.Scan(
		&a.ID,
		&a.TransactionID,
		&a.RiskScore,
		&a.RiskLevel,
		&a.Indicators.Velocity,
		&a.Indicators.Geographic,
		&a.Indicators.Amount,
		&a.Indicators.CardTesting,
		&a.Indicators.Collusion,
		&a.Indicators.ATO,
		&a.Indicators.FraudRing,
		&a.MLScore,
		&rules,
		&a.ProcessedAt,
	); err != nil {
		return nil, err
	}

	a.TriggeredRules = rules
	return a, nil
}

func scanAssessments(rows pgx.Rows) ([]*models.RiskAssessment, error) {
	var assessments []*models.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}
