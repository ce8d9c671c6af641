package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// User represents an operator of the engine's API
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Role enum values
const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
	RoleViewer  = "viewer"
)

// Currency enum values
const (
	CurrencyNGN = "NGN"
	CurrencyKES = "KES"
	CurrencyZAR = "ZAR"
)

// PaymentStatus enum values
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusPending   = "pending"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Transaction represents a completed ride payment. Records are immutable
// once ingested; the label is consumed only by the model trainer.
type Transaction struct {
	TransactionID   string    `json:"transaction_id"`
	Timestamp       Timestamp `json:"timestamp"`
	UserID          string    `json:"user_id"`
	DriverID        string    `json:"driver_id"`
	CardLast4       string    `json:"card_last4"`
	DeviceID        string    `json:"device_id"`
	PickupCity      string    `json:"pickup_city"`
	PickupCountry   string    `json:"pickup_country"`
	PickupLat       float64   `json:"pickup_lat"`
	PickupLng       float64   `json:"pickup_lng"`
	DropoffCity     string    `json:"dropoff_city,omitempty"`
	DropoffLat      float64   `json:"dropoff_lat"`
	DropoffLng      float64   `json:"dropoff_lng"`
	DistanceKm      float64   `json:"distance_km"`
	DurationMinutes int       `json:"duration_minutes"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentStatus   string    `json:"payment_status"`
	IsFraudulent    bool      `json:"is_fraudulent"`
}

// Timestamp wraps time.Time with lenient ISO-8601 decoding. A value that
// cannot be parsed decodes to the zero time rather than failing the whole
// record; window filters treat zero as "unknown" and skip the entry.
// All times are taken as UTC; offsets in the input are dropped, matching
// the naive comparisons the rest of the engine performs.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseTimestamp parses an ISO-8601 string into a Timestamp. The zero
// Timestamp and a nil error are returned for an empty string; an
// unparseable string returns the zero Timestamp and the parse error.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return Timestamp{t.UTC()}, nil
		}
		lastErr = err
	}
	return Timestamp{}, lastErr
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05"))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, _ := ParseTimestamp(s)
	*t = parsed
	return nil
}

// NewTimestamp builds a Timestamp from a time.Time, normalized to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// IndicatorScores holds the seven per-pattern scores, each in [0, 100].
type IndicatorScores struct {
	Velocity    float64 `json:"velocity_score"`
	Geographic  float64 `json:"geographic_score"`
	Amount      float64 `json:"amount_score"`
	CardTesting float64 `json:"card_testing_score"`
	Collusion   float64 `json:"collusion_score"`
	ATO         float64 `json:"ato_score"`
	FraudRing   float64 `json:"fraud_ring_score"`
}

// Values returns the scores in detector order.
func (s IndicatorScores) Values() []float64 {
	return []float64{s.Velocity, s.Geographic, s.Amount, s.CardTesting, s.Collusion, s.ATO, s.FraudRing}
}

// Max returns the largest indicator score.
func (s IndicatorScores) Max() float64 {
	max := 0.0
	for _, v := range s.Values() {
		if v > max {
			max = v
		}
	}
	return max
}

// RiskLevel enum values
const (
	RiskLevelLow    = "low_risk"
	RiskLevelMedium = "medium_risk"
	RiskLevelHigh   = "high_risk"
)

// RiskAssessment is the per-transaction output of the scoring pipeline.
type RiskAssessment struct {
	ID             uuid.UUID       `json:"id,omitempty"`
	TransactionID  string          `json:"transaction_id"`
	RiskScore      int             `json:"risk_score"`
	RiskLevel      string          `json:"risk_level"`
	Indicators     IndicatorScores `json:"indicators"`
	MLScore        *float64        `json:"ml_score,omitempty"`
	TriggeredRules []string        `json:"triggered_rules"`
	ProcessedAt    time.Time       `json:"processed_at"`
}

// TransactionEvent is the message published to the Redis transaction stream.
type TransactionEvent struct {
	Transaction Transaction `json:"transaction"`
	EnqueuedAt  time.Time   `json:"enqueued_at"`
	RetryCount  int         `json:"retry_count"`
}

// AssessmentEvent is the message published to Kafka after scoring.
type AssessmentEvent struct {
	Assessment RiskAssessment `json:"assessment"`
	UserID     string         `json:"user_id"`
	DriverID   string         `json:"driver_id"`
	Currency   string         `json:"currency"`
	Amount     float64        `json:"amount"`
	EmittedAt  time.Time      `json:"emitted_at"`
}

// TrainingMetrics reports the quality of a freshly trained model bundle.
type TrainingMetrics struct {
	Precision         float64            `json:"precision"`
	Recall            float64            `json:"recall"`
	F1                float64            `json:"f1"`
	Accuracy          float64            `json:"accuracy"`
	ConfusionMatrix   [2][2]int          `json:"confusion_matrix"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	ROCFpr            []float64          `json:"roc_fpr"`
	ROCTpr            []float64          `json:"roc_tpr"`
	ROCAUC            float64            `json:"roc_auc"`
	OutlierRate       float64            `json:"outlier_rate"`
	TrainedRows       int                `json:"trained_rows"`
	TrainedAt         time.Time          `json:"trained_at"`
}

// RiskSummary aggregates assessment counts for the dashboard endpoints.
type RiskSummary struct {
	TotalTransactions int     `json:"total_transactions"`
	HighRiskCount     int     `json:"high_risk_count"`
	MediumRiskCount   int     `json:"medium_risk_count"`
	LowRiskCount      int     `json:"low_risk_count"`
	FraudRate         float64 `json:"fraud_rate"`
	AmountAtRisk      float64 `json:"total_amount_at_risk"`
	AvgRiskScore      float64 `json:"avg_risk_score"`
}

// RuleCount pairs a rule tag with its trigger count.
type RuleCount struct {
	RuleTag string `json:"rule_tag"`
	Count   int    `json:"count"`
}

// HourlyVolume is one bucket of per-hour assessment volume.
type HourlyVolume struct {
	Hour          time.Time `json:"hour"`
	Count         int       `json:"count"`
	HighRiskCount int       `json:"high_risk_count"`
}

// AuditLog records pipeline and training events.
type AuditLog struct {
	ID        uuid.UUID `json:"id"`
	EventType string    `json:"event_type"`
	EntityID  string    `json:"entity_id"`
	Action    string    `json:"action"`
	Payload   JSONB     `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventPipeline   = "pipeline"
	AuditEventTraining   = "training"
	AuditEventAssessment = "assessment"
	AuditEventIngestion  = "ingestion"
)

// JSONB is a helper type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
