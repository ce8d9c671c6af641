package scoring

import (
	"testing"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHybrid_RuleScorePassesThroughWithoutModel(t *testing.T) {
	agg := NewRuleAggregator(30, 60)
	reg := NewRegistry(t.TempDir())
	scorer := NewHybridScorer(agg, reg)

	tx := &models.Transaction{TransactionID: "TXN1"}
	score, level, mlScore := scorer.Score(tx, models.IndicatorScores{Velocity: 100})

	assert.Equal(t, 80, score)
	assert.Equal(t, models.RiskLevelHigh, level)
	assert.Nil(t, mlScore)
}

func TestHybrid_BlendsRuleAndModelScores(t *testing.T) {
	txns, indicators := syntheticTrainingSet(250)
	trainer := NewTrainer(20, 8, MinLabeledRows)
	bundle, err := trainer.Train(txns, indicators)
	require.NoError(t, err)

	reg := NewRegistry(t.TempDir())
	require.NoError(t, reg.Activate(bundle))
	scorer := NewHybridScorer(NewRuleAggregator(30, 60), reg)

	tx := &models.Transaction{
		TransactionID:   "TXN-HOT",
		Amount:          45000,
		DistanceKm:      10,
		DurationMinutes: 25,
	}
	ind := models.IndicatorScores{Velocity: 90, Geographic: 70, CardTesting: 90}

	score, level, mlScore := scorer.Score(tx, ind)

	require.NotNil(t, mlScore)
	assert.GreaterOrEqual(t, *mlScore, 0.0)
	assert.LessOrEqual(t, *mlScore, 100.0)
	assert.GreaterOrEqual(t, score, 60)
	assert.LessOrEqual(t, score, 100)
	assert.Equal(t, models.RiskLevelHigh, level)
}

func TestExtractFeatures_TimeDerivation(t *testing.T) {
	// 2025-02-15 is a Saturday; Monday-based weekday is 5.
	tx := &models.Transaction{
		Timestamp:       models.NewTimestamp(time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)),
		Amount:          2500,
		DistanceKm:      12.5,
		DurationMinutes: 25,
	}

	features := ExtractFeatures(tx, models.IndicatorScores{Velocity: 40})

	assert.Equal(t, 12.0, features["hour_of_day"])
	assert.Equal(t, 5.0, features["day_of_week"])
	assert.Equal(t, 40.0, features["velocity_score"])
	assert.Equal(t, 2500.0, features["amount"])
}

func TestVectorize_MissingKeysDefaultToZero(t *testing.T) {
	vec := Vectorize(map[string]float64{"amount": 1200})

	assert.Len(t, vec, 12)
	assert.Equal(t, 1200.0, vec[7])
	assert.Equal(t, 0.0, vec[0])
	assert.Equal(t, 0.0, vec[11])
}
