package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syntheticTrainingSet builds a cleanly separable labeled set: fraudulent
// rides carry hot indicator scores and large amounts, legitimate rides sit
// near zero on every indicator.
func syntheticTrainingSet(n int) ([]*models.Transaction, map[string]models.IndicatorScores) {
	base := time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)
	txns := make([]*models.Transaction, 0, n)
	indicators := make(map[string]models.IndicatorScores, n)
	for i := 0; i < n; i++ {
		fraud := i%5 == 0
		id := fmt.Sprintf("TXN%05d", i)
		tx := &models.Transaction{
			TransactionID:   id,
			Timestamp:       models.NewTimestamp(base.Add(time.Duration(i) * 13 * time.Minute)),
			UserID:          fmt.Sprintf("USR%03d", i%40),
			Amount:          1500 + float64(i%7)*120,
			DistanceKm:      8 + float64(i%5),
			DurationMinutes: 20 + i%15,
			Currency:        models.CurrencyNGN,
			IsFraudulent:    fraud,
		}
		ind := models.IndicatorScores{}
		if fraud {
			tx.Amount = 40000 + float64(i)*10
			ind = models.IndicatorScores{
				Velocity:    80 + float64(i%20),
				Geographic:  70,
				CardTesting: 90,
			}
		}
		txns = append(txns, tx)
		indicators[tx.TransactionID] = ind
	}
	return txns, indicators
}

func TestTrain_SeparableDataProducesStrongMetrics(t *testing.T) {
	txns, indicators := syntheticTrainingSet(250)
	trainer := NewTrainer(50, 10, MinLabeledRows)

	bundle, err := trainer.Train(txns, indicators)
	require.NoError(t, err)
	require.NotNil(t, bundle)

	m := bundle.Metrics
	assert.GreaterOrEqual(t, m.Precision, 0.8)
	assert.GreaterOrEqual(t, m.Recall, 0.8)
	assert.GreaterOrEqual(t, m.Accuracy, 0.9)
	assert.GreaterOrEqual(t, m.ROCAUC, 0.9)
	assert.Equal(t, 250, m.TrainedRows)

	total := 0
	for _, row := range m.ConfusionMatrix {
		for _, v := range row {
			total += v
		}
	}
	assert.Equal(t, 50, total, "held-out set should be a fifth of the rows")

	importanceSum := 0.0
	for _, v := range m.FeatureImportance {
		importanceSum += v
	}
	assert.InDelta(t, 1.0, importanceSum, 1e-6)
	assert.Len(t, m.FeatureImportance, len(FeatureNames))
}

func TestTrain_PredictSeparatesClasses(t *testing.T) {
	txns, indicators := syntheticTrainingSet(250)
	trainer := NewTrainer(50, 10, MinLabeledRows)

	bundle, err := trainer.Train(txns, indicators)
	require.NoError(t, err)

	fraudLike := bundle.PredictProba(map[string]float64{
		"velocity_score":     90,
		"geographic_score":   70,
		"card_testing_score": 90,
		"amount":             45000,
		"distance_km":        10,
		"duration_minutes":   25,
	})
	legitLike := bundle.PredictProba(map[string]float64{
		"amount":           1600,
		"distance_km":      9,
		"duration_minutes": 24,
		"hour_of_day":      10,
		"day_of_week":      2,
	})

	assert.Greater(t, fraudLike, 60.0)
	assert.Less(t, legitLike, 40.0)
	assert.GreaterOrEqual(t, fraudLike, 0.0)
	assert.LessOrEqual(t, fraudLike, 100.0)
}

func TestTrain_TooFewRows(t *testing.T) {
	txns, indicators := syntheticTrainingSet(30)
	trainer := NewTrainer(50, 10, MinLabeledRows)

	_, err := trainer.Train(txns, indicators)

	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrain_SingleClassRejected(t *testing.T) {
	txns, indicators := syntheticTrainingSet(100)
	for _, tx := range txns {
		tx.IsFraudulent = false
	}
	trainer := NewTrainer(50, 10, MinLabeledRows)

	_, err := trainer.Train(txns, indicators)

	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestTrain_UnmatchedIndicatorsDropped(t *testing.T) {
	txns, indicators := syntheticTrainingSet(100)
	// Orphan half the transactions; the join must shrink below the minimum.
	for i, tx := range txns {
		if i%2 == 0 {
			delete(indicators, tx.TransactionID)
		}
	}
	trainer := NewTrainer(50, 10, 60)

	_, err := trainer.Train(txns, indicators)

	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRegistry_ActivateAndReload(t *testing.T) {
	dir := t.TempDir()
	txns, indicators := syntheticTrainingSet(250)
	trainer := NewTrainer(20, 8, MinLabeledRows)

	bundle, err := trainer.Train(txns, indicators)
	require.NoError(t, err)

	reg := NewRegistry(dir)
	require.NoError(t, reg.Activate(bundle))
	assert.True(t, reg.IsTrained())

	features := map[string]float64{
		"velocity_score": 90, "geographic_score": 70, "card_testing_score": 90,
		"amount": 45000, "distance_km": 10, "duration_minutes": 25,
	}
	before, err := reg.Predict(features)
	require.NoError(t, err)

	reloaded := NewRegistry(dir)
	require.NoError(t, reloaded.Load())
	require.True(t, reloaded.IsTrained())

	after, err := reloaded.Predict(features)
	require.NoError(t, err)
	assert.InDelta(t, before, after, 1e-9)
}

func TestRegistry_EmptyDirLoadsNothing(t *testing.T) {
	reg := NewRegistry(t.TempDir())

	assert.NoError(t, reg.Load())
	assert.False(t, reg.IsTrained())

	_, err := reg.Predict(map[string]float64{})
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestScaler_ConstantFeaturePassesThrough(t *testing.T) {
	s := fitScaler([][]float64{{5, 1}, {5, 3}, {5, 5}})

	out := s.Transform([]float64{5, 3})

	assert.Equal(t, 0.0, out[0])
	assert.InDelta(t, 0.0, out[1], 1e-9)
}
