package scoring

import (
	"math"
	"math/rand"
	"sort"
)

// isoNode is one node of an isolation tree.
type isoNode struct {
	Feature   int      `json:"f"`
	Threshold float64  `json:"t"`
	Left      *isoNode `json:"l,omitempty"`
	Right     *isoNode `json:"r,omitempty"`
	Size      int      `json:"n,omitempty"`
	External  bool     `json:"ext,omitempty"`
}

// IsolationForest is an unsupervised outlier detector. It is fit on the
// full scaled training matrix and kept as an auxiliary artifact; the
// hybrid combiner does not consume it.
type IsolationForest struct {
	Trees      []*isoNode `json:"trees"`
	SampleSize int        `json:"sample_size"`
	Offset     float64    `json:"offset"`
}

const isoSubsample = 256

// trainIsolationForest fits the detector and chooses the anomaly cutoff so
// that roughly the given contamination fraction of training rows is
// flagged.
func trainIsolationForest(X [][]float64, estimators int, contamination float64, seed int64) *IsolationForest {
	n := len(X)
	sample := isoSubsample
	if sample > n {
		sample = n
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sample))))

	rng := rand.New(rand.NewSource(seed))
	f := &IsolationForest{SampleSize: sample}
	for t := 0; t < estimators; t++ {
		idx := rng.Perm(n)[:sample]
		f.Trees = append(f.Trees, growIsoTree(X, idx, 0, maxDepth, rng))
	}

	scores := make([]float64, n)
	for i, x := range X {
		scores[i] = f.Score(x)
	}
	f.Offset = quantile(scores, 1-contamination)
	return f
}

// Score returns the anomaly score in (0, 1); higher means more isolated.
func (f *IsolationForest) Score(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += pathLength(t, x, 0)
	}
	avg := sum / float64(len(f.Trees))
	return math.Pow(2, -avg/averagePathLength(f.SampleSize))
}

// IsOutlier reports whether the point scores above the fitted cutoff.
func (f *IsolationForest) IsOutlier(x []float64) bool {
	return f.Score(x) > f.Offset
}

func growIsoTree(X [][]float64, idx []int, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(idx) <= 1 {
		return &isoNode{External: true, Size: len(idx)}
	}
	feat := rng.Intn(len(X[0]))
	lo, hi := X[idx[0]][feat], X[idx[0]][feat]
	for _, i := range idx[1:] {
		v := X[i][feat]
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return &isoNode{External: true, Size: len(idx)}
	}
	threshold := lo + rng.Float64()*(hi-lo)
	var left, right []int
	for _, i := range idx {
		if X[i][feat] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &isoNode{
		Feature:   feat,
		Threshold: threshold,
		Left:      growIsoTree(X, left, depth+1, maxDepth, rng),
		Right:     growIsoTree(X, right, depth+1, maxDepth, rng),
	}
}

func pathLength(n *isoNode, x []float64, depth float64) float64 {
	if n.External {
		return depth + averagePathLength(n.Size)
	}
	if x[n.Feature] < n.Threshold {
		return pathLength(n.Left, x, depth+1)
	}
	return pathLength(n.Right, x, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
