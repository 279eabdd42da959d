package classify

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Random forest of CART trees fitted to bootstrap samples with random
// feature subsets at each split.
type Forest struct {
	Trees       int
	MaxDepth    int
	MaxFeatures int
	Jobs        int
	Seed        int64
	trees       []*Tree
	nCls        int
}

// NewForest creates a forest where each split considers sqrt(nfeatures)
// features. Set maxFeatures to override.
func NewForest(trees, maxDepth, maxFeatures, jobs int) *Forest {
	return &Forest{Trees: trees, MaxDepth: maxDepth, MaxFeatures: maxFeatures, Jobs: jobs, Seed: 1}
}

func (c *Forest) Name() string {
	return fmt.Sprintf("random forest (trees=%d depth=%d)", c.Trees, c.MaxDepth)
}

func (c *Forest) Fit(x *mat.Dense, y []int) error {
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("forest: have %d samples but %d labels", rows, len(y))
	}
	c.nCls = numClasses(y)
	maxFeat := c.MaxFeatures
	if maxFeat == 0 {
		maxFeat = int(math.Sqrt(float64(cols)))
	}
	c.trees = make([]*Tree, c.Trees)
	parallelFor(c.Trees, c.Jobs, func(i int) {
		rng := rand.New(rand.NewSource(c.Seed + int64(i)))
		// bootstrap sample as per sample weights
		weights := make([]float64, rows)
		for j := 0; j < rows; j++ {
			weights[rng.Intn(rows)]++
		}
		tree := NewTree(c.MaxDepth)
		tree.MaxFeatures = maxFeat
		tree.Seed = c.Seed + int64(i)
		tree.FitWeighted(x, y, weights)
		c.trees[i] = tree
	})
	return nil
}

func (c *Forest) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	parallelFor(rows, c.Jobs, func(i int) {
		row := x.RawRowView(i)
		votes := make([]float64, c.nCls)
		for _, tree := range c.trees {
			votes[argmax(tree.predictRow(row))]++
		}
		pred[i] = argmax(votes)
	})
	return pred
}
