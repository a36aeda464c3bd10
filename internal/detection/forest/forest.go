// Package forest implements isolation-based outlier scoring: data is
// recursively partitioned at random, and points that separate from the bulk
// in few partitioning steps receive high outlier scores.
//
// Unlike most implementations, the random source is injected by the caller.
// The detection engine seeds it from a hash of the input data, which makes
// scoring a pure function of (data, options).
package forest

import (
	"errors"
	"math"
	"math/rand"
)

// Options configures a Forest.
type Options struct {
	// Trees is the ensemble size. Defaults to 100.
	Trees int

	// SubsampleSize is the number of points each tree is built on. Defaults
	// to 256, capped at the dataset size.
	SubsampleSize int

	// MaxDepth limits tree height. Zero means ceil(log2(subsample size)),
	// the height past which isolation depth carries no signal.
	MaxDepth int

	// Seed drives all random partitioning. Same data + same seed = same
	// scores.
	Seed int64
}

// Forest is a trained isolation forest.
type Forest struct {
	trees         []*node
	subsampleSize int
}

type node struct {
	splitFeature int
	splitValue   float64
	left         *node
	right        *node
	size         int
	leaf         bool
}

// ErrNoData is returned when Fit is called with an empty sample set.
var ErrNoData = errors.New("forest: no data to fit")

// ErrDimensionMismatch is returned when sample vectors disagree in length.
var ErrDimensionMismatch = errors.New("forest: inconsistent feature dimensions")

// Fit builds an isolation forest over the sample matrix. Each row is one
// multi-dimensional point; all rows must have the same dimension.
func Fit(samples [][]float64, opts Options) (*Forest, error) {
	if len(samples) == 0 {
		return nil, ErrNoData
	}
	dim := len(samples[0])
	for _, s := range samples[1:] {
		if len(s) != dim {
			return nil, ErrDimensionMismatch
		}
	}

	trees := opts.Trees
	if trees <= 0 {
		trees = 100
	}
	subsample := opts.SubsampleSize
	if subsample <= 0 {
		subsample = 256
	}
	if subsample > len(samples) {
		subsample = len(samples)
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = int(math.Ceil(math.Log2(float64(subsample) + 1)))
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	f := &Forest{
		trees:         make([]*node, 0, trees),
		subsampleSize: subsample,
	}
	for i := 0; i < trees; i++ {
		sample := subsampleRows(samples, subsample, rng)
		f.trees = append(f.trees, buildNode(sample, 0, maxDepth, rng))
	}
	return f, nil
}

// Score returns the anomaly score of one point in [0, 1]; higher means more
// anomalous. Uses the standard 2^(-E[h(x)]/c(n)) formulation, where c(n) is
// the average path length of an unsuccessful BST search.
func (f *Forest) Score(sample []float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, sample, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/averagePathLength(f.subsampleSize))
}

// ScoreAll scores every row of the sample matrix.
func (f *Forest) ScoreAll(samples [][]float64) []float64 {
	scores := make([]float64, len(samples))
	for i, s := range samples {
		scores[i] = f.Score(s)
	}
	return scores
}

func subsampleRows(samples [][]float64, n int, rng *rand.Rand) [][]float64 {
	if n >= len(samples) {
		return samples
	}
	// Fisher-Yates over an index permutation; the sample matrix itself is
	// never reordered.
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = samples[idx[i]]
	}
	return out
}

func buildNode(samples [][]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if len(samples) <= 1 || depth >= maxDepth || allIdentical(samples) {
		return &node{size: len(samples), leaf: true}
	}

	feature := rng.Intn(len(samples[0]))
	minVal, maxVal := featureRange(samples, feature)
	if minVal == maxVal {
		return &node{size: len(samples), leaf: true}
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right [][]float64
	for _, s := range samples {
		if s[feature] < splitValue {
			left = append(left, s)
		} else {
			right = append(right, s)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &node{size: len(samples), leaf: true}
	}

	return &node{
		splitFeature: feature,
		splitValue:   splitValue,
		left:         buildNode(left, depth+1, maxDepth, rng),
		right:        buildNode(right, depth+1, maxDepth, rng),
		size:         len(samples),
	}
}

func pathLength(n *node, sample []float64, depth int) float64 {
	if n.leaf {
		return float64(depth) + averagePathLength(n.size)
	}
	if sample[n.splitFeature] < n.splitValue {
		return pathLength(n.left, sample, depth+1)
	}
	return pathLength(n.right, sample, depth+1)
}

// averagePathLength is c(n): the expected path length of an unsuccessful
// search in a BST of n nodes.
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	return 2*harmonicNumber(n-1) - 2*float64(n-1)/float64(n)
}

func harmonicNumber(n int) float64 {
	// H(n) ≈ ln(n) + Euler-Mascheroni constant.
	return math.Log(float64(n)) + 0.5772156649
}

func allIdentical(samples [][]float64) bool {
	if len(samples) <= 1 {
		return true
	}
	first := samples[0]
	for _, s := range samples[1:] {
		for j := range first {
			if math.Abs(s[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(samples [][]float64, feature int) (float64, float64) {
	minVal := samples[0][feature]
	maxVal := samples[0][feature]
	for _, s := range samples {
		v := s[feature]
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}
