package scoring

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/ridesafe/fraud-engine/internal/models"
)

var (
	// ErrInsufficientData is returned when the labeled set is too small or
	// single-class for a meaningful fit.
	ErrInsufficientData = errors.New("insufficient labeled data for training")

	// ErrModelUnavailable is returned by prediction when no bundle is
	// active.
	ErrModelUnavailable = errors.New("no trained model available")
)

const (
	randomSeed       = 42
	testFraction     = 0.2
	isoContamination = 0.15

	// MinLabeledRows is the smallest labeled set training accepts.
	MinLabeledRows = 50
)

// StandardScaler standardizes features to zero mean and unit variance.
// Constant features scale by 1 so they pass through unchanged.
type StandardScaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

func fitScaler(X [][]float64) *StandardScaler {
	d := len(X[0])
	s := &StandardScaler{Mean: make([]float64, d), Std: make([]float64, d)}
	for j := 0; j < d; j++ {
		sum := 0.0
		for _, row := range X {
			sum += row[j]
		}
		mean := sum / float64(len(X))
		variance := 0.0
		for _, row := range X {
			variance += (row[j] - mean) * (row[j] - mean)
		}
		variance /= float64(len(X))
		s.Mean[j] = mean
		if variance > 0 {
			s.Std[j] = math.Sqrt(variance)
		} else {
			s.Std[j] = 1
		}
	}
	return s
}

// Transform scales one vector in place-safe fashion, returning a new slice.
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j := range x {
		out[j] = (x[j] - s.Mean[j]) / s.Std[j]
	}
	return out
}

// Bundle is one trained model artifact: classifier, auxiliary outlier
// detector, scaler, and the metrics measured at training time.
type Bundle struct {
	Forest    *RandomForest          `json:"forest"`
	Isolation *IsolationForest       `json:"isolation"`
	Scaler    *StandardScaler        `json:"scaler"`
	Metrics   models.TrainingMetrics `json:"metrics"`
	TrainedAt time.Time              `json:"trained_at"`
}

// PredictProba builds the canonical vector from a feature map, scales it,
// and returns the fraud probability as a score in [0, 100] rounded to one
// decimal.
func (b *Bundle) PredictProba(features map[string]float64) float64 {
	x := b.Scaler.Transform(Vectorize(features))
	p := b.Forest.PredictProba(x)
	return math.Round(p*1000) / 10
}

// Trainer fits model bundles from labeled transactions and their indicator
// assessments.
type Trainer struct {
	estimators int
	maxDepth   int
	minRows    int
}

func NewTrainer(estimators, maxDepth, minRows int) *Trainer {
	if minRows <= 0 {
		minRows = MinLabeledRows
	}
	return &Trainer{estimators: estimators, maxDepth: maxDepth, minRows: minRows}
}

// Train joins transactions with their indicator scores by transaction_id,
// fits the scaler, the classifier, and the outlier detector, and reports
// held-out metrics. Transactions with no matching indicators are dropped
// from the join.
func (t *Trainer) Train(txns []*models.Transaction, indicators map[string]models.IndicatorScores) (*Bundle, error) {
	var X [][]float64
	var y []int
	for _, tx := range txns {
		ind, ok := indicators[tx.TransactionID]
		if !ok {
			continue
		}
		X = append(X, Vectorize(ExtractFeatures(tx, ind)))
		label := 0
		if tx.IsFraudulent {
			label = 1
		}
		y = append(y, label)
	}

	if len(X) < t.minRows {
		return nil, fmt.Errorf("%w: %d labeled rows, need %d", ErrInsufficientData, len(X), t.minRows)
	}
	pos := 0
	for _, label := range y {
		pos += label
	}
	if pos == 0 || pos == len(y) {
		return nil, fmt.Errorf("%w: need both label classes, got %d fraudulent of %d", ErrInsufficientData, pos, len(y))
	}

	scaler := fitScaler(X)
	scaled := make([][]float64, len(X))
	for i, row := range X {
		scaled[i] = scaler.Transform(row)
	}

	trainIdx, testIdx := stratifiedSplit(y, testFraction, randomSeed)
	trainX := subsetRows(scaled, trainIdx)
	trainY := subsetLabels(y, trainIdx)
	testX := subsetRows(scaled, testIdx)
	testY := subsetLabels(y, testIdx)

	forest := trainForest(trainX, trainY, t.estimators, t.maxDepth, randomSeed)
	iso := trainIsolationForest(scaled, t.estimators, isoContamination, randomSeed)

	probs := make([]float64, len(testX))
	preds := make([]int, len(testX))
	for i, x := range testX {
		probs[i] = forest.PredictProba(x)
		if probs[i] >= 0.5 {
			preds[i] = 1
		}
	}

	metrics := evaluate(testY, preds, probs)
	metrics.FeatureImportance = make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		metrics.FeatureImportance[name] = forest.Importance[i]
	}
	outliers := 0
	for _, x := range scaled {
		if iso.IsOutlier(x) {
			outliers++
		}
	}
	metrics.OutlierRate = float64(outliers) / float64(len(scaled))
	metrics.TrainedRows = len(X)
	metrics.TrainedAt = time.Now().UTC()

	return &Bundle{
		Forest:    forest,
		Isolation: iso,
		Scaler:    scaler,
		Metrics:   metrics,
		TrainedAt: metrics.TrainedAt,
	}, nil
}

// stratifiedSplit shuffles each class independently with a fixed seed and
// holds out the given fraction of each, so the test set keeps the class
// ratio.
func stratifiedSplit(y []int, testFrac float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	var posIdx, negIdx []int
	for i, label := range y {
		if label == 1 {
			posIdx = append(posIdx, i)
		} else {
			negIdx = append(negIdx, i)
		}
	}
	for _, class := range [][]int{negIdx, posIdx} {
		rng.Shuffle(len(class), func(a, b int) { class[a], class[b] = class[b], class[a] })
		nTest := int(math.Round(testFrac * float64(len(class))))
		if nTest < 1 && len(class) > 1 {
			nTest = 1
		}
		test = append(test, class[:nTest]...)
		train = append(train, class[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func subsetRows(X [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = X[i]
	}
	return out
}

func subsetLabels(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}

// evaluate computes the classification metrics on the held-out set.
func evaluate(y, preds []int, probs []float64) models.TrainingMetrics {
	var tp, fp, tn, fn int
	for i := range y {
		switch {
		case y[i] == 1 && preds[i] == 1:
			tp++
		case y[i] == 0 && preds[i] == 1:
			fp++
		case y[i] == 0 && preds[i] == 0:
			tn++
		default:
			fn++
		}
	}

	m := models.TrainingMetrics{
		ConfusionMatrix: [2][2]int{{tn, fp}, {fn, tp}},
	}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if len(y) > 0 {
		m.Accuracy = float64(tp+tn) / float64(len(y))
	}

	m.ROCFpr, m.ROCTpr, m.ROCAUC = rocCurve(y, probs)
	return m
}

// rocCurve sweeps the probability thresholds from high to low and returns
// the FPR/TPR points with the trapezoidal AUC.
func rocCurve(y []int, probs []float64) (fpr, tpr []float64, auc float64) {
	totalPos, totalNeg := 0, 0
	for _, label := range y {
		if label == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return []float64{0, 1}, []float64{0, 1}, 0.5
	}

	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return probs[order[a]] > probs[order[b]] })

	fpr = []float64{0}
	tpr = []float64{0}
	tp, fp := 0, 0
	for k := 0; k < len(order); {
		threshold := probs[order[k]]
		for k < len(order) && probs[order[k]] == threshold {
			if y[order[k]] == 1 {
				tp++
			} else {
				fp++
			}
			k++
		}
		fpr = append(fpr, float64(fp)/float64(totalNeg))
		tpr = append(tpr, float64(tp)/float64(totalPos))
	}

	for i := 1; i < len(fpr); i++ {
		auc += (fpr[i] - fpr[i-1]) * (tpr[i] + tpr[i-1]) / 2
	}
	return fpr, tpr, auc
}
