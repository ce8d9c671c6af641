package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/fraud-engine/internal/datagen"
	"github.com/ridesafe/fraud-engine/internal/detectors"
	"github.com/ridesafe/fraud-engine/internal/models"
	"github.com/ridesafe/fraud-engine/internal/scoring"
)

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	agg := scoring.NewRuleAggregator(30, 60)
	reg := scoring.NewRegistry(t.TempDir())
	return NewProcessor(detectors.DefaultThresholds(), scoring.NewHybridScorer(agg, reg))
}

func TestProcessBatch_SingleTransactionEmptyHistory(t *testing.T) {
	p := newTestProcessor(t)
	tx := &models.Transaction{
		TransactionID: "TXN1",
		Timestamp:     models.NewTimestamp(time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)),
		UserID:        "USR001",
		DriverID:      "DRV001",
		CardLast4:     "1234",
		DeviceID:      "dev-1",
		Amount:        2500,
		Currency:      models.CurrencyNGN,
	}

	assessments, err := p.ProcessBatch([]*models.Transaction{tx})
	require.NoError(t, err)
	require.Len(t, assessments, 1)

	a := assessments[0]
	assert.Equal(t, 0, a.RiskScore)
	assert.Equal(t, models.RiskLevelLow, a.RiskLevel)
	assert.Empty(t, a.TriggeredRules)
	assert.Nil(t, a.MLScore)
	assert.Equal(t, "TXN1", a.TransactionID)
	assert.False(t, a.ProcessedAt.IsZero())
	assert.Equal(t, 1, p.HistorySize())
}

func TestProcessBatch_BadCurrentTimestampIsFatal(t *testing.T) {
	p := newTestProcessor(t)
	good := &models.Transaction{
		TransactionID: "TXN-OK",
		Timestamp:     models.NewTimestamp(time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC)),
		UserID:        "USR001",
	}
	bad := &models.Transaction{TransactionID: "TXN-BAD"}

	assessments, err := p.ProcessBatch([]*models.Transaction{good, bad})

	assert.ErrorIs(t, err, ErrBadTimestamp)
	assert.Len(t, assessments, 1, "assessments before the failure are kept")
	assert.Equal(t, 1, p.HistorySize(), "the bad transaction is not appended")
}

func TestProcessBatch_HistoryAccumulatesAcrossBatches(t *testing.T) {
	p := newTestProcessor(t)
	base := time.Date(2025, 2, 15, 11, 0, 0, 0, time.UTC)

	mk := func(id string, ts time.Time) *models.Transaction {
		return &models.Transaction{
			TransactionID: id,
			Timestamp:     models.NewTimestamp(ts),
			UserID:        "USR001",
			DriverID:      "DRV001",
			CardLast4:     "1234",
			DeviceID:      "dev-1",
			Amount:        2500,
			Currency:      models.CurrencyNGN,
		}
	}

	var first []*models.Transaction
	for i := 0; i < 11; i++ {
		first = append(first, mk(string(rune('A'+i)), base.Add(time.Duration(i)*time.Minute)))
	}
	_, err := p.ProcessBatch(first)
	require.NoError(t, err)

	second, err := p.ProcessBatch([]*models.Transaction{mk("TXN-LAST", base.Add(20 * time.Minute))})
	require.NoError(t, err)
	require.Len(t, second, 1)

	assert.GreaterOrEqual(t, second[0].Indicators.Velocity, 80.0)
	assert.True(t, hasPrefixedRule(second[0].TriggeredRules, "VELOCITY_"))
}

func TestProcessBatch_DetectorOrderInRules(t *testing.T) {
	p := newTestProcessor(t)
	base := time.Date(2025, 2, 15, 11, 0, 0, 0, time.UTC)

	var seed []*models.Transaction
	for i := 0; i < 12; i++ {
		seed = append(seed, &models.Transaction{
			TransactionID: "SEED",
			Timestamp:     models.NewTimestamp(base.Add(time.Duration(i) * time.Minute)),
			UserID:        "USR001",
			DriverID:      "DRV001",
			CardLast4:     "1234",
			DeviceID:      "dev-1",
			Amount:        100,
			Currency:      models.CurrencyNGN,
			PickupCity:    "Lagos",
			PickupCountry: "Nigeria",
			PickupLat:     6.5244,
			PickupLng:     3.3792,
		})
	}
	p.SeedHistory(seed)

	out, err := p.ProcessBatch([]*models.Transaction{{
		TransactionID: "TXN-MULTI",
		Timestamp:     models.NewTimestamp(base.Add(15 * time.Minute)),
		UserID:        "USR001",
		DriverID:      "DRV001",
		CardLast4:     "1234",
		DeviceID:      "dev-1",
		Amount:        12000,
		Currency:      models.CurrencyNGN,
		PickupCity:    "Nairobi",
		PickupCountry: "Kenya",
		PickupLat:     -1.2921,
		PickupLng:     36.8219,
	}})
	require.NoError(t, err)
	rules := out[0].TriggeredRules

	velIdx := ruleIndex(rules, "VELOCITY_")
	geoIdx := ruleIndex(rules, "GEO_")
	ctIdx := ruleIndex(rules, "CARD_TESTING_")
	require.GreaterOrEqual(t, velIdx, 0)
	require.GreaterOrEqual(t, geoIdx, 0)
	require.GreaterOrEqual(t, ctIdx, 0)
	assert.Less(t, velIdx, geoIdx)
	assert.Less(t, geoIdx, ctIdx)
}

// End-to-end sweep over a generated week of traffic with planted fraud.
// Every fraud pattern must surface at least one high_risk assessment and
// all three bands must appear.
func TestProcessBatch_GeneratedDatasetSurfacesAllPatterns(t *testing.T) {
	txns := datagen.New(42).Generate(1000)
	require.GreaterOrEqual(t, len(txns), 1000)

	p := newTestProcessor(t)

	byLevel := map[string]int{}
	highByPattern := map[string]bool{}
	for i := 0; i < len(txns); i += 25 {
		end := i + 25
		if end > len(txns) {
			end = len(txns)
		}
		assessments, err := p.ProcessBatch(txns[i:end])
		require.NoError(t, err)

		for k, a := range assessments {
			assert.GreaterOrEqual(t, a.RiskScore, 0)
			assert.LessOrEqual(t, a.RiskScore, 100)
			for _, v := range a.Indicators.Values() {
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 100.0)
			}
			byLevel[a.RiskLevel]++
			if a.RiskLevel == models.RiskLevelHigh {
				user := txns[i+k].UserID
				for _, pattern := range []string{"CT", "VEL", "GEO", "COL", "ATO", "RING"} {
					if strings.HasPrefix(user, "USR-"+pattern+"-") {
						highByPattern[pattern] = true
					}
				}
			}
		}
	}

	assert.Positive(t, byLevel[models.RiskLevelLow])
	assert.Positive(t, byLevel[models.RiskLevelMedium])
	assert.Positive(t, byLevel[models.RiskLevelHigh])

	for _, pattern := range []string{"CT", "VEL", "GEO", "COL", "ATO", "RING"} {
		assert.True(t, highByPattern[pattern], "pattern %s never reached high_risk", pattern)
	}
}

func TestProcessBatch_DeterministicOnImmutableHistory(t *testing.T) {
	base := time.Date(2025, 2, 15, 11, 0, 0, 0, time.UTC)
	h := detectors.NewHistory()
	for i := 0; i < 8; i++ {
		h.Append(&models.Transaction{
			TransactionID: "SEED",
			Timestamp:     models.NewTimestamp(base.Add(time.Duration(i) * time.Minute)),
			UserID:        "USR001",
			CardLast4:     "1234",
			DeviceID:      "dev-1",
		})
	}
	tx := &models.Transaction{
		TransactionID: "TXN1",
		Timestamp:     models.NewTimestamp(base.Add(10 * time.Minute)),
		UserID:        "USR001",
		CardLast4:     "1234",
		DeviceID:      "dev-1",
	}

	d := detectors.NewVelocityDetector(detectors.DefaultThresholds())
	s1, r1 := d.Evaluate(tx, h)
	s2, r2 := d.Evaluate(tx, h)

	assert.Equal(t, s1, s2)
	assert.Equal(t, r1, r2)
}

func hasPrefixedRule(rules []string, prefix string) bool {
	return ruleIndex(rules, prefix) >= 0
}

func ruleIndex(rules []string, prefix string) int {
	for i, r := range rules {
		if strings.HasPrefix(r, prefix) {
			return i
		}
	}
	return -1
}
