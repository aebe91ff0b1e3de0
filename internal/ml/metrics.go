package ml

import (
	"math"
	"math/rand"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ClassScores is one line of a classification report.
type ClassScores struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// ClassificationReport holds per-class and averaged scores on the test split.
type ClassificationReport struct {
	Low         ClassScores `json:"0"`
	High        ClassScores `json:"1"`
	Accuracy    float64     `json:"accuracy"`
	MacroAvg    ClassScores `json:"macro avg"`
	WeightedAvg ClassScores `json:"weighted avg"`
}

// Metrics are the evaluation results recorded with a trained model.
type Metrics struct {
	Accuracy           float64              `json:"accuracy"`
	F1                 float64              `json:"f1"`
	ROCAUC             *float64             `json:"roc_auc"` // nil when the test split has one class
	ConfusionMatrix    [2][2]int            `json:"confusion_matrix"`
	Report             ClassificationReport `json:"classification_report"`
	CVScores           []float64            `json:"cv_scores"`
	CVMeanAccuracy     float64              `json:"cv_mean_accuracy"`
	FeatureImportances map[string]float64   `json:"feature_importances"`
	TrainRows          int                  `json:"train_rows"`
	TestRows           int                  `json:"test_rows"`
}

// trainTestSplit shuffles row indices with a seeded generator and holds out
// ceil(n*testFraction) rows, at least one and never all of them.
func trainTestSplit(n int, testFraction float64, seed int64) (train, test []int) {
	nTest := int(math.Ceil(float64(n) * testFraction))
	nTest = min(max(nTest, 1), n-1)
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest]
}

// confusionMatrix returns [[tn, fp], [fn, tp]].
func confusionMatrix(yTrue, yPred []int) [2][2]int {
	var cm [2][2]int
	for i := range yTrue {
		cm[yTrue[i]][yPred[i]]++
	}
	return cm
}

func accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	hits := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(yTrue))
}

func scoresFor(cm [2][2]int, class int) ClassScores {
	tp := cm[class][class]
	fp := cm[1-class][class]
	fn := cm[class][1-class]
	s := ClassScores{Support: tp + fn}
	if tp+fp > 0 {
		s.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		s.Recall = float64(tp) / float64(tp+fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * s.Precision * s.Recall / (s.Precision + s.Recall)
	}
	return s
}

func classificationReport(cm [2][2]int) ClassificationReport {
	low, high := scoresFor(cm, 0), scoresFor(cm, 1)
	total := low.Support + high.Support

	r := ClassificationReport{Low: low, High: high}
	if total > 0 {
		r.Accuracy = float64(cm[0][0]+cm[1][1]) / float64(total)
	}
	r.MacroAvg = ClassScores{
		Precision: (low.Precision + high.Precision) / 2,
		Recall:    (low.Recall + high.Recall) / 2,
		F1:        (low.F1 + high.F1) / 2,
		Support:   total,
	}
	r.WeightedAvg.Support = total
	if total > 0 {
		wl, wh := float64(low.Support)/float64(total), float64(high.Support)/float64(total)
		r.WeightedAvg.Precision = wl*low.Precision + wh*high.Precision
		r.WeightedAvg.Recall = wl*low.Recall + wh*high.Recall
		r.WeightedAvg.F1 = wl*low.F1 + wh*high.F1
	}
	return r
}

// rocAUC is the Mann-Whitney statistic over average ranks. It is undefined,
// and reported as nil, when only one class is present.
func rocAUC(yTrue []int, scores []float64) *float64 {
	n := len(yTrue)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	pos, rankSum := 0, 0.0
	for i, label := range yTrue {
		if label == 1 {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := n - pos
	if pos == 0 || neg == 0 {
		return nil
	}
	auc := (rankSum - float64(pos*(pos+1))/2) / float64(pos*neg)
	return &auc
}

// stratifiedFolds splits row indices into k folds, cutting each class into k
// contiguous chunks in row order so every fold keeps the class balance.
func stratifiedFolds(y []int, k int) [][]int {
	folds := make([][]int, k)
	for class := 0; class <= 1; class++ {
		var members []int
		for i, label := range y {
			if label == class {
				members = append(members, i)
			}
		}
		size, extra := len(members)/k, len(members)%k
		start := 0
		for f := 0; f < k; f++ {
			n := size
			if f < extra {
				n++
			}
			folds[f] = append(folds[f], members[start:start+n]...)
			start += n
		}
	}
	for _, f := range folds {
		slices.Sort(f)
	}
	return folds
}

// crossValidate fits one forest per fold on the remaining folds and scores
// accuracy on the held-out fold.
func crossValidate(X [][]float64, y []int, k int, params ForestParams, fit FitFunc) ([]float64, float64, error) {
	var scores []float64
	for _, test := range stratifiedFolds(y, k) {
		if len(test) == 0 {
			continue
		}
		held := make(map[int]bool, len(test))
		for _, i := range test {
			held[i] = true
		}
		var trainX [][]float64
		var trainY []int
		for i := range X {
			if !held[i] {
				trainX = append(trainX, X[i])
				trainY = append(trainY, y[i])
			}
		}
		if len(trainX) == 0 {
			continue
		}

		forest, err := fit(trainX, trainY, params)
		if err != nil {
			return nil, 0, err
		}
		testY := make([]int, len(test))
		pred := make([]int, len(test))
		for j, i := range test {
			testY[j] = y[i]
			pred[j] = forest.Predict(X[i])
		}
		scores = append(scores, accuracy(testY, pred))
	}
	if len(scores) == 0 {
		return nil, 0, nil
	}
	return scores, stat.Mean(scores, nil), nil
}
