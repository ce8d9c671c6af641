package scoring

import (
	"github.com/ridesafe/fraud-engine/internal/models"
)

// FeatureNames is the canonical feature order consumed by the model. The
// trained scaler and forest both index by position, so this order is part
// of the persisted artifact contract.
var FeatureNames = []string{
	"velocity_score",
	"geographic_score",
	"amount_score",
	"card_testing_score",
	"collusion_score",
	"ato_score",
	"fraud_ring_score",
	"amount",
	"distance_km",
	"duration_minutes",
	"hour_of_day",
	"day_of_week",
}

// ExtractFeatures derives the model features from a transaction and its
// indicator scores. day_of_week is 0 for Monday through 6 for Sunday.
func ExtractFeatures(tx *models.Transaction, ind models.IndicatorScores) map[string]float64 {
	hour, dow := 0, 0
	if !tx.Timestamp.IsZero() {
		hour = tx.Timestamp.Hour()
		dow = (int(tx.Timestamp.Weekday()) + 6) % 7
	}
	return map[string]float64{
		"velocity_score":     ind.Velocity,
		"geographic_score":   ind.Geographic,
		"amount_score":       ind.Amount,
		"card_testing_score": ind.CardTesting,
		"collusion_score":    ind.Collusion,
		"ato_score":          ind.ATO,
		"fraud_ring_score":   ind.FraudRing,
		"amount":             tx.Amount,
		"distance_km":        tx.DistanceKm,
		"duration_minutes":   float64(tx.DurationMinutes),
		"hour_of_day":        float64(hour),
		"day_of_week":        float64(dow),
	}
}

// Vectorize builds the fixed-order feature vector from a feature map,
// substituting 0 for missing keys.
func Vectorize(features map[string]float64) []float64 {
	vec := make([]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		vec[i] = features[name]
	}
	return vec
}
