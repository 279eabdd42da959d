package classify

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Gaussian naive Bayes classifier with variance smoothing.
type NaiveBayes struct {
	Smoothing float64
	prior     []float64
	mean      [][]float64
	variance  [][]float64
	nCls      int
}

func NewNaiveBayes() *NaiveBayes {
	return &NaiveBayes{Smoothing: 1e-9}
}

func (c *NaiveBayes) Name() string {
	return "gaussian naive Bayes"
}

func (c *NaiveBayes) Fit(x *mat.Dense, y []int) error {
	rows, cols := x.Dims()
	if rows != len(y) {
		return fmt.Errorf("naive bayes: have %d samples but %d labels", rows, len(y))
	}
	c.nCls = numClasses(y)
	c.prior = make([]float64, c.nCls)
	c.mean = make([][]float64, c.nCls)
	c.variance = make([][]float64, c.nCls)
	var maxVar float64
	vals := make([]float64, 0, rows)
	for k := 0; k < c.nCls; k++ {
		c.mean[k] = make([]float64, cols)
		c.variance[k] = make([]float64, cols)
		count := 0
		for _, yi := range y {
			if yi == k {
				count++
			}
		}
		c.prior[k] = float64(count) / float64(rows)
		if count == 0 {
			continue
		}
		for j := 0; j < cols; j++ {
			vals = vals[:0]
			for i, yi := range y {
				if yi == k {
					vals = append(vals, x.At(i, j))
				}
			}
			m, v := stat.PopMeanVariance(vals, nil)
			c.mean[k][j] = m
			c.variance[k][j] = v
			if v > maxVar {
				maxVar = v
			}
		}
	}
	// smooth variances by a fraction of the largest to avoid divide by zero
	eps := c.Smoothing * maxVar
	if eps == 0 {
		eps = c.Smoothing
	}
	for k := 0; k < c.nCls; k++ {
		for j := range c.variance[k] {
			c.variance[k][j] += eps
		}
	}
	return nil
}

func (c *NaiveBayes) Predict(x *mat.Dense) []int {
	rows, _ := x.Dims()
	pred := make([]int, rows)
	parallelFor(rows, 0, func(i int) {
		row := x.RawRowView(i)
		logp := make([]float64, c.nCls)
		for k := 0; k < c.nCls; k++ {
			if c.prior[k] == 0 {
				logp[k] = math.Inf(-1)
				continue
			}
			sum := math.Log(c.prior[k])
			for j, v := range row {
				d := v - c.mean[k][j]
				sum -= 0.5*math.Log(2*math.Pi*c.variance[k][j]) + d*d/(2*c.variance[k][j])
			}
			logp[k] = sum
		}
		pred[i] = argmax(logp)
	})
	return pred
}
