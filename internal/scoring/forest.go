package scoring

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is one node of a CART tree. Leaves carry the weighted fraud
// probability of the training rows that reached them. Fields are exported
// so a trained forest round-trips through the JSON artifact.
type treeNode struct {
	Feature   int       `json:"f"`
	Threshold float64   `json:"t"`
	Left      *treeNode `json:"l,omitempty"`
	Right     *treeNode `json:"r,omitempty"`
	Leaf      bool      `json:"leaf,omitempty"`
	Prob      float64   `json:"p,omitempty"`
}

func (n *treeNode) predict(x []float64) float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Prob
}

// RandomForest is a bagged ensemble of depth-limited CART trees with
// class-balanced sample weights.
type RandomForest struct {
	Trees      []*treeNode `json:"trees"`
	NumFeats   int         `json:"num_feats"`
	Importance []float64   `json:"importance"`
}

type forestParams struct {
	estimators    int
	maxDepth      int
	minLeaf       int
	featsPerSplit int
	seed          int64
}

// trainForest fits the ensemble. Class balance follows the usual scheme:
// each class receives total weight n/2 spread across its rows, so a rare
// fraud class is not drowned out by legitimate traffic.
func trainForest(X [][]float64, y []int, estimators, maxDepth int, seed int64) *RandomForest {
	n := len(X)
	d := len(X[0])
	p := forestParams{
		estimators:    estimators,
		maxDepth:      maxDepth,
		minLeaf:       2,
		featsPerSplit: int(math.Max(1, math.Sqrt(float64(d)))),
		seed:          seed,
	}

	pos := 0
	for _, label := range y {
		pos += label
	}
	neg := n - pos
	weights := make([]float64, n)
	for i, label := range y {
		switch {
		case pos == 0 || neg == 0:
			weights[i] = 1
		case label == 1:
			weights[i] = float64(n) / (2 * float64(pos))
		default:
			weights[i] = float64(n) / (2 * float64(neg))
		}
	}

	rng := rand.New(rand.NewSource(seed))
	forest := &RandomForest{
		Trees:      make([]*treeNode, 0, p.estimators),
		NumFeats:   d,
		Importance: make([]float64, d),
	}
	for t := 0; t < p.estimators; t++ {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		tree := growTree(X, y, weights, idx, 0, p, rng, forest.Importance)
		forest.Trees = append(forest.Trees, tree)
	}

	total := 0.0
	for _, v := range forest.Importance {
		total += v
	}
	if total > 0 {
		for i := range forest.Importance {
			forest.Importance[i] /= total
		}
	}
	return forest
}

// PredictProba returns the forest's fraud probability for one feature
// vector, averaged over the trees.
func (f *RandomForest) PredictProba(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.Trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.Trees))
}

func growTree(X [][]float64, y []int, w []float64, idx []int, depth int, p forestParams, rng *rand.Rand, importance []float64) *treeNode {
	wPos, wTotal := 0.0, 0.0
	for _, i := range idx {
		wTotal += w[i]
		if y[i] == 1 {
			wPos += w[i]
		}
	}
	prob := 0.0
	if wTotal > 0 {
		prob = wPos / wTotal
	}
	if depth >= p.maxDepth || len(idx) < 2*p.minLeaf || prob == 0 || prob == 1 {
		return &treeNode{Leaf: true, Prob: prob}
	}

	parentGini := giniImpurity(wPos, wTotal)
	bestGain := 0.0
	bestFeat := -1
	bestThreshold := 0.0

	feats := rng.Perm(len(X[0]))[:p.featsPerSplit]
	for _, f := range feats {
		gain, threshold, ok := bestSplitForFeature(X, y, w, idx, f, parentGini, p.minLeaf)
		if ok && gain > bestGain {
			bestGain = gain
			bestFeat = f
			bestThreshold = threshold
		}
	}
	if bestFeat < 0 {
		return &treeNode{Leaf: true, Prob: prob}
	}

	importance[bestFeat] += bestGain * wTotal

	var left, right []int
	for _, i := range idx {
		if X[i][bestFeat] <= bestThreshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &treeNode{
		Feature:   bestFeat,
		Threshold: bestThreshold,
		Left:      growTree(X, y, w, left, depth+1, p, rng, importance),
		Right:     growTree(X, y, w, right, depth+1, p, rng, importance),
	}
}

// bestSplitForFeature scans candidate thresholds for one feature and
// returns the best weighted-gini gain.
func bestSplitForFeature(X [][]float64, y []int, w []float64, idx []int, feat int, parentGini float64, minLeaf int) (gain, threshold float64, ok bool) {
	type row struct {
		v   float64
		lbl int
		wt  float64
	}
	rows := make([]row, len(idx))
	for k, i := range idx {
		rows[k] = row{X[i][feat], y[i], w[i]}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].v < rows[b].v })

	totalW, totalPos := 0.0, 0.0
	for _, r := range rows {
		totalW += r.wt
		if r.lbl == 1 {
			totalPos += r.wt
		}
	}

	leftW, leftPos := 0.0, 0.0
	best := 0.0
	for k := 0; k < len(rows)-1; k++ {
		leftW += rows[k].wt
		if rows[k].lbl == 1 {
			leftPos += rows[k].wt
		}
		if rows[k].v == rows[k+1].v {
			continue
		}
		if k+1 < minLeaf || len(rows)-k-1 < minLeaf {
			continue
		}
		rightW := totalW - leftW
		rightPos := totalPos - leftPos
		weighted := (leftW*giniImpurity(leftPos, leftW) + rightW*giniImpurity(rightPos, rightW)) / totalW
		g := parentGini - weighted
		if g > best {
			best = g
			threshold = (rows[k].v + rows[k+1].v) / 2
			ok = true
		}
	}
	return best, threshold, ok
}

func giniImpurity(wPos, wTotal float64) float64 {
	if wTotal == 0 {
		return 0
	}
	p := wPos / wTotal
	return 2 * p * (1 - p)
}
