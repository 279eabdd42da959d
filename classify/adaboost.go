package classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdaBoost classifier boosting decision stumps with the SAMME algorithm.
type AdaBoost struct {
	Rounds   int
	MaxDepth int
	trees    []*Tree
	alpha    []float64
	nCls     int
}

func NewAdaBoost(rounds int) *AdaBoost {
	return &AdaBoost{Rounds: rounds, MaxDepth: 1}
}

func (c *AdaBoost) Name() string {
	return fmt.Sprintf("AdaBoost (rounds=%d)", c.Rounds)
}

func (c *AdaBoost) Fit(x *mat.Dense, y []int) error {
	rows, _ := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("adaboost: have %d samples but %d labels", rows, len(y))
	}
	c.nCls = numClasses(y)
	c.trees = c.trees[:0]
	c.alpha = c.alpha[:0]
	weights := make([]float64, rows)
	for i := range weights {
		weights[i] = 1 / float64(rows)
	}
	for round := 0; round < c.Rounds; round++ {
		tree := NewTree(c.MaxDepth)
		tree.Seed = int64(round + 1)
		if err := tree.FitWeighted(x, y, weights); err != nil {
			return err
		}
		pred := tree.Predict(x)
		var errRate float64
		for i, p := range pred {
			if p != y[i] {
				errRate += weights[i]
			}
		}
		if errRate >= 1-1/float64(c.nCls) {
			break
		}
		if errRate < 1e-10 {
			errRate = 1e-10
		}
		// SAMME weight includes the log(K-1) multiclass term
		alpha := math.Log((1-errRate)/errRate) + math.Log(float64(c.nCls-1))
		c.trees = append(c.trees, tree)
		c.alpha = append(c.alpha, alpha)
		var total float64
		for i, p := range pred {
			if p != y[i] {
				weights[i] *= math.Exp(alpha)
			}
			total += weights[i]
		}
		for i := range weights {
			weights[i] /= total
		}
	}
	if len(c.trees) == 0 {
		return fmt.Errorf("adaboost: no usable weak learners")
	}
	return nil
}

func (c *AdaBoost) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	parallelFor(rows, 0, func(i int) {
		row := x.RawRowView(i)
		votes := make([]float64, c.nCls)
		for t, tree := range c.trees {
			votes[argmax(tree.predictRow(row))] += c.alpha[t]
		}
		pred[i] = argmax(votes)
	})
	return pred
}
