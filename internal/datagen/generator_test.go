package datagen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_DeterministicForSeed(t *testing.T) {
	a := New(42).Generate(200)
	b := New(42).Generate(200)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].UserID, b[i].UserID)
		assert.Equal(t, a[i].Amount, b[i].Amount)
		assert.Equal(t, a[i].Timestamp.Time, b[i].Timestamp.Time)
	}
}

func TestGenerate_ContainsAllPlantedPatterns(t *testing.T) {
	txns := New(1).Generate(500)

	prefixes := map[string]bool{}
	fraudCount := 0
	for _, tx := range txns {
		for _, p := range []string{"USR-CT-", "USR-VEL-", "USR-GEO-", "USR-COL-", "USR-ATO-", "USR-RING-"} {
			if len(tx.UserID) >= len(p) && tx.UserID[:len(p)] == p {
				prefixes[p] = true
			}
		}
		if tx.IsFraudulent {
			fraudCount++
		}
	}

	for _, p := range []string{"USR-CT-", "USR-VEL-", "USR-GEO-", "USR-COL-", "USR-ATO-", "USR-RING-"} {
		assert.True(t, prefixes[p], "missing planted pattern %s", p)
	}
	assert.Positive(t, fraudCount)
	assert.Less(t, fraudCount, len(txns)/2, "fraud should stay the minority class")
}

func TestGenerate_SortedByTimestamp(t *testing.T) {
	txns := New(3).Generate(300)

	for i := 1; i < len(txns); i++ {
		assert.False(t, txns[i].Timestamp.Before(txns[i-1].Timestamp.Time))
	}
}
