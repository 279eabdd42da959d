package classify

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Gradient boosted classifier. Each stage fits one regression tree per class
// to the softmax gradient and takes a shrunk Newton step in the leaves.
type GradientBoost struct {
	Stages   int
	MaxDepth int
	LearnRat float64
	trees    [][]*regTree
	prior    []float64
	nCls     int
}

func NewGradientBoost(stages, maxDepth int, learnRate float64) *GradientBoost {
	return &GradientBoost{Stages: stages, MaxDepth: maxDepth, LearnRat: learnRate}
}

func (c *GradientBoost) Name() string {
	return fmt.Sprintf("gradient boosting (stages=%d depth=%d)", c.Stages, c.MaxDepth)
}

func (c *GradientBoost) Fit(x *mat.Dense, y []int) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("gradient boost: have %d samples but %d labels", rows, len(y))
	}
	c.nCls = numClasses(y)
	c.prior = make([]float64, c.nCls)
	for _, cls := range y {
		c.prior[cls]++
	}
	for k := range c.prior {
		c.prior[k] = math.Log(math.Max(c.prior[k], 1) / float64(rows))
	}
	scores := make([][]float64, c.nCls)
	for k := range scores {
		scores[k] = make([]float64, rows)
		for i := range scores[k] {
			scores[k][i] = c.prior[k]
		}
	}
	c.trees = make([][]*regTree, c.Stages)
	prob := make([]float64, c.nCls)
	resid := make([][]float64, c.nCls)
	for k := range resid {
		resid[k] = make([]float64, rows)
	}
	index := make([]int, rows)
	for stage := 0; stage < c.Stages; stage++ {
		for i := 0; i < rows; i++ {
			var max, sum float64 = math.Inf(-1), 0
			for k := 0; k < c.nCls; k++ {
				if scores[k][i] > max {
					max = scores[k][i]
				}
			}
			for k := 0; k < c.nCls; k++ {
				prob[k] = math.Exp(scores[k][i] - max)
				sum += prob[k]
			}
			for k := 0; k < c.nCls; k++ {
				target := 0.0
				if y[i] == k {
					target = 1
				}
				resid[k][i] = target - prob[k]/sum
			}
		}
		c.trees[stage] = make([]*regTree, c.nCls)
		for k := 0; k < c.nCls; k++ {
			for i := range index {
				index[i] = i
			}
			tree := &regTree{maxDepth: c.MaxDepth, nCls: c.nCls}
			tree.root = tree.build(x, resid[k], index, 0)
			c.trees[stage][k] = tree
			for i := 0; i < rows; i++ {
				scores[k][i] += c.LearnRat * tree.predict(x.RawRowView(i))
			}
		}
	}
	return nil
}

func (c *GradientBoost) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	parallelFor(rows, 0, func(i int) {
		row := x.RawRowView(i)
		scores := append([]float64{}, c.prior...)
		for _, stage := range c.trees {
			for k, tree := range stage {
				scores[k] += c.LearnRat * tree.predict(row)
			}
		}
		pred[i] = argmax(scores)
	})
	return pred
}

// regression tree fitted to the pseudo residuals for one class
type regTree struct {
	maxDepth int
	nCls     int
	root     *regNode
}

type regNode struct {
	feature     int
	thresh      float64
	left, right *regNode
	value       float64
}

func (t *regTree) predict(row []float64) float64 {
	n := t.root
	for n.left != nil {
		if row[n.feature] < n.thresh {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

func (t *regTree) build(x *mat.Dense, resid []float64, index []int, depth int) *regNode {
	n := &regNode{value: t.leafValue(resid, index)}
	if depth >= t.maxDepth || len(index) < 2 {
		return n
	}
	_, nfeat := x.Dims()
	var bestGain float64
	for f := 0; f < nfeat; f++ {
		thresh, gain := bestSplitSSE(x, resid, index, f)
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
	n.left = t.build(x, resid, left, depth+1)
	n.right = t.build(x, resid, right, depth+1)
	return n
}

// Newton step for the multiclass log loss
func (t *regTree) leafValue(resid []float64, index []int) float64 {
	var num, den float64
	for _, ix := range index {
		r := resid[ix]
		num += r
		den += math.Abs(r) * (1 - math.Abs(r))
	}
	if den < 1e-10 {
		return 0
	}
	k := float64(t.nCls)
	return (k - 1) / k * num / den
}

// threshold on feature f which maximises the reduction in sum squared error
func bestSplitSSE(x *mat.Dense, resid []float64, index []int, f int) (thresh, gain float64) {
	type sample struct {
		val, r float64
	}
	samples := make([]sample, len(index))
	var sum, sum2 float64
	for i, ix := range index {
		samples[i] = sample{val: x.At(ix, f), r: resid[ix]}
		sum += resid[ix]
		sum2 += resid[ix] * resid[ix]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].val < samples[j].val })
	n := float64(len(samples))
	parent := sum2 - sum*sum/n
	var lsum, lsum2 float64
	for i := 0; i < len(samples)-1; i++ {
		s := samples[i]
		lsum += s.r
		lsum2 += s.r * s.r
		if samples[i+1].val == s.val {
			continue
		}
		ln := float64(i + 1)
		rn := n - ln
		rsum, rsum2 := sum-lsum, sum2-lsum2
		sse := (lsum2 - lsum*lsum/ln) + (rsum2 - rsum*rsum/rn)
		if g := parent - sse; g > gain {
			gain = g
			thresh = (s.val + samples[i+1].val) / 2
		}
	}
	return thresh, gain
}
