package classify

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// CART decision tree classifier using the Gini impurity criterion.
type Tree struct {
	MaxDepth    int
	MaxFeatures int
	MinSamples  int
	Seed        int64
	root        *treeNode
	nCls        int
}

type treeNode struct {
	feature     int
	thresh      float64
	left, right *treeNode
	counts      []float64
}

func NewTree(maxDepth int) *Tree {
	return &Tree{MaxDepth: maxDepth, MinSamples: 2, Seed: 1}
}

func (c *Tree) Name() string {
	return fmt.Sprintf("decision tree (depth=%d)", c.MaxDepth)
}

func (c *Tree) Fit(x *mat.Dense, y []int) error {
	return c.FitWeighted(x, y, nil)
}

// FitWeighted trains with per sample weights, used for boosting.
func (c *Tree) FitWeighted(x *mat.Dense, y []int, weights []float64) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("tree: have %d samples but %d labels", rows, len(y))
	}
	if weights == nil {
		weights = make([]float64, rows)
		for i := range weights {
			weights[i] = 1
		}
	}
	c.nCls = numClasses(y)
	index := make([]int, rows)
	for i := range index {
		index[i] = i
	}
	rng := rand.New(rand.NewSource(c.Seed))
	c.root = c.build(x, y, weights, index, 0, rng)
	return nil
}

func (c *Tree) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	for i := range pred {
		pred[i] = argmax(c.predictRow(x.RawRowView(i)))
	}
	return pred
}

func (c *Tree) predictRow(row []float64) []float64 {
	n := c.root
	for n.left != nil {
		if row[n.feature] < n.thresh {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.counts
}

func (c *Tree) build(x *mat.Dense, y []int, weights []float64, index []int, depth int, rng *rand.Rand) *treeNode {
	counts := make([]float64, c.nCls)
	for _, ix := range index {
		counts[y[ix]] += weights[ix]
	}
	n := &treeNode{counts: counts}
	if depth >= c.MaxDepth || len(index) < c.MinSamples || pure(counts) {
		return n
	}
	_, nfeat := x.Dims()
	features := c.featureSubset(nfeat, rng)
	bestGain := 0.0
	parent := gini(counts)
	for _, f := range features {
		thresh, gain := bestSplit(x, y, weights, index, f, c.nCls, parent)
		if gain > bestGain {
			bestGain, n.feature, n.thresh = gain, f, thresh
		}
	}
	if bestGain <= 0 {
		return n
	}
	var left, right []int
	for _, ix := range index {
		if x.At(ix, n.feature) < n.thresh {
			left = append(left, ix)
		} else {
			right = append(right, ix)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return n
	}
	n.left = c.build(x, y, weights, left, depth+1, rng)
	n.right = c.build(x, y, weights, right, depth+1, rng)
	return n
}

func (c *Tree) featureSubset(nfeat int, rng *rand.Rand) []int {
	if c.MaxFeatures <= 0 || c.MaxFeatures >= nfeat {
		features := make([]int, nfeat)
		for i := range features {
			features[i] = i
		}
		return features
	}
	return rng.Perm(nfeat)[:c.MaxFeatures]
}

// find the threshold on feature f which maximises the weighted Gini gain
func bestSplit(x *mat.Dense, y []int, weights []float64, index []int, f, nCls int, parent float64) (thresh, gain float64) {
	type sample struct {
		val float64
		cls int
		wt  float64
	}
	samples := make([]sample, len(index))
	var total float64
	rightC := make([]float64, nCls)
	for i, ix := range index {
		samples[i] = sample{val: x.At(ix, f), cls: y[ix], wt: weights[ix]}
		rightC[y[ix]] += weights[ix]
		total += weights[ix]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].val < samples[j].val })
	leftC := make([]float64, nCls)
	var leftW float64
	for i := 0; i < len(samples)-1; i++ {
		s := samples[i]
		leftC[s.cls] += s.wt
		rightC[s.cls] -= s.wt
		leftW += s.wt
		if samples[i+1].val == s.val {
			continue
		}
		rightW := total - leftW
		g := parent - (leftW/total)*gini(leftC) - (rightW/total)*gini(rightC)
		if g > gain {
			gain = g
			thresh = (s.val + samples[i+1].val) / 2
		}
	}
	return thresh, gain
}

// Gini impurity of a weighted class count vector
func gini(counts []float64) float64 {
	var total float64
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / total
		g -= p * p
	}
	return g
}

func pure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}
