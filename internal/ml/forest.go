package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// ForestParams are the hyper-parameters of a RandomForest.
type ForestParams struct {
	Trees           int   `json:"trees"`
	MaxFeatures     int   `json:"max_features"` // 0 means sqrt(features)
	MaxDepth        int   `json:"max_depth"`    // 0 means unlimited
	MinSamplesSplit int   `json:"min_samples_split"`
	Seed            int64 `json:"seed"`
	Workers         int   `json:"-"`
}

// DefaultForestParams mirrors the production classifier: 120 trees, seed 42.
func DefaultForestParams() ForestParams {
	return ForestParams{
		Trees:           120,
		MinSamplesSplit: 2,
		Seed:            42,
	}
}

func (p ForestParams) effectiveMaxFeatures(features int) int {
	if p.MaxFeatures <= 0 || p.MaxFeatures > features {
		return max(1, int(math.Sqrt(float64(features))))
	}
	return p.MaxFeatures
}

var ErrEmptyTrainingSet = errors.New("empty training set")

// Node is one node of a flattened decision tree. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"` // fraction of positive samples reaching the node
}

// Tree is a binary CART classification tree stored as a node slice rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leafValue(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// RandomForest is a bagged ensemble of Gini trees for binary classification.
type RandomForest struct {
	Params      ForestParams `json:"params"`
	NFeatures   int          `json:"n_features"`
	Trees       []Tree       `json:"trees"`
	Importances []float64    `json:"importances"`
}

// MaxFeatures returns the number of features tried at each split.
func (f *RandomForest) MaxFeatures() int {
	return f.Params.effectiveMaxFeatures(f.NFeatures)
}

// FitForest grows a forest on X and y. Labels must be 0 or 1. Each tree draws
// from its own generator seeded with Seed+index, so the result does not depend
// on how the trees are scheduled across workers.
func FitForest(X [][]float64, y []int, params ForestParams) (*RandomForest, error) {
	if len(X) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("feature matrix has %d rows but %d labels", len(X), len(y))
	}
	p := len(X[0])
	if p == 0 {
		return nil, errors.New("feature matrix has no columns")
	}
	for i, row := range X {
		if len(row) != p {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), p)
		}
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return nil, fmt.Errorf("row %d has label %d, want 0 or 1", i, label)
		}
	}
	if params.Trees < 1 {
		return nil, fmt.Errorf("forest needs at least one tree, got %d", params.Trees)
	}
	if params.MinSamplesSplit < 2 {
		params.MinSamplesSplit = 2
	}
	maxFeatures := params.effectiveMaxFeatures(p)
	workers := params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, params.Trees)
	importances := make([][]float64, params.Trees)

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range trees {
		i := i
		g.Go(func() error {
			b := &treeBuilder{
				X:           X,
				y:           y,
				rng:         rand.New(rand.NewSource(params.Seed + int64(i))),
				maxFeatures: maxFeatures,
				maxDepth:    params.MaxDepth,
				minSplit:    params.MinSamplesSplit,
				importance:  make([]float64, p),
			}
			trees[i] = b.build(bootstrap(len(X), b.rng))
			importances[i] = b.importance
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &RandomForest{
		Params:      params,
		NFeatures:   p,
		Trees:       trees,
		Importances: meanImportances(importances, p),
	}, nil
}

// PredictProba returns the probability of class 1.
func (f *RandomForest) PredictProba(x []float64) float64 {
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].leafValue(x)
	}
	return sum / float64(len(f.Trees))
}

// Predict returns 1 when the class-1 probability is above one half.
func (f *RandomForest) Predict(x []float64) int {
	if f.PredictProba(x) > 0.5 {
		return 1
	}
	return 0
}

// validate checks a decoded forest for structural damage before it is used.
func (f *RandomForest) validate() error {
	if f.NFeatures < 1 {
		return errors.New("forest has no features")
	}
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	if len(f.Importances) != f.NFeatures {
		return fmt.Errorf("forest has %d importances for %d features", len(f.Importances), f.NFeatures)
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature < 0 {
				continue
			}
			if n.Feature >= f.NFeatures {
				return fmt.Errorf("tree %d node %d splits on feature %d", ti, ni, n.Feature)
			}
			// children are always appended after their parent
			if n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d has invalid children", ti, ni)
			}
		}
	}
	return nil
}

func bootstrap(n int, rng *rand.Rand) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = rng.Intn(n)
	}
	return idx
}

// meanImportances normalises each tree's impurity decrease to sum 1, averages
// over the trees that split at all and renormalises.
func meanImportances(perTree [][]float64, p int) []float64 {
	out := make([]float64, p)
	used := 0
	for _, imp := range perTree {
		total := 0.0
		for _, v := range imp {
			total += v
		}
		if total <= 0 {
			continue
		}
		for j, v := range imp {
			out[j] += v / total
		}
		used++
	}
	if used == 0 {
		return out
	}
	total := 0.0
	for j := range out {
		out[j] /= float64(used)
		total += out[j]
	}
	if total > 0 {
		for j := range out {
			out[j] /= total
		}
	}
	return out
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	rng         *rand.Rand
	maxFeatures int
	maxDepth    int
	minSplit    int
	importance  []float64
	nodes       []Node
	rootSize    int
}

type split struct {
	feature   int
	threshold float64
	left      []int
	right     []int
	decrease  float64
}

func (b *treeBuilder) build(samples []int) Tree {
	b.rootSize = len(samples)
	b.grow(samples, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(samples []int, depth int) int {
	pos := 0
	for _, s := range samples {
		pos += b.y[s]
	}
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: -1, Value: float64(pos) / float64(len(samples))})

	if pos == 0 || pos == len(samples) || len(samples) < b.minSplit ||
		(b.maxDepth > 0 && depth >= b.maxDepth) {
		return id
	}

	best, ok := b.bestSplit(samples, pos)
	if !ok {
		return id
	}

	b.importance[best.feature] += best.decrease * float64(len(samples)) / float64(b.rootSize)
	left := b.grow(best.left, depth+1)
	right := b.grow(best.right, depth+1)
	b.nodes[id].Feature = best.feature
	b.nodes[id].Threshold = best.threshold
	b.nodes[id].Left = left
	b.nodes[id].Right = right
	return id
}

// bestSplit samples maxFeatures candidate features and keeps looking past
// them while none of the drawn features can separate the node.
func (b *treeBuilder) bestSplit(samples []int, pos int) (split, bool) {
	p := len(b.importance)
	order := b.rng.Perm(p)
	parent := gini(pos, len(samples))

	var best split
	found := false
	sorted := make([]int, len(samples))
	for k, f := range order {
		if k >= b.maxFeatures && found {
			break
		}

		copy(sorted, samples)
		slices.SortStableFunc(sorted, func(a, c int) int {
			switch va, vc := b.X[a][f], b.X[c][f]; {
			case va < vc:
				return -1
			case va > vc:
				return 1
			default:
				return 0
			}
		})

		n := len(sorted)
		leftPos := 0
		for i := 0; i < n-1; i++ {
			leftPos += b.y[sorted[i]]
			lo, hi := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			nl, nr := i+1, n-i-1
			impurity := (float64(nl)*gini(leftPos, nl) + float64(nr)*gini(pos-leftPos, nr)) / float64(n)
			decrease := parent - impurity
			if !found || decrease > best.decrease {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, decrease: decrease}
				best.left = append([]int(nil), sorted[:i+1]...)
				best.right = append([]int(nil), sorted[i+1:]...)
				found = true
			}
		}
	}
	return best, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}
